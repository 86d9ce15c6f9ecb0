package models

import "time"

// Lead is a captured prospective-customer submission. Once queued for
// delivery it is treated as read-only by this service.
type Lead struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Company   string `json:"company,omitempty"`
	Message   string `json:"message,omitempty"`
	Source    string `json:"source,omitempty"`

	// Request metadata captured at intake time.
	IP          string `json:"ip,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Locale      string `json:"locale,omitempty"`
	Referer     string `json:"referer,omitempty"`

	// FormData holds every raw form field as submitted, including
	// anything that has no dedicated column.
	FormData map[string]any `json:"formData,omitempty"`

	SiteID    int64     `json:"siteId"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field resolves a named lead attribute. Direct fields win; an absent or
// empty direct field falls back to the raw FormData entry of the same name.
func (l *Lead) Field(name string) any {
	var v any
	switch name {
	case "id":
		v = l.ID
	case "firstName":
		v = l.FirstName
	case "lastName":
		v = l.LastName
	case "email":
		v = l.Email
	case "phone":
		v = l.Phone
	case "company":
		v = l.Company
	case "message":
		v = l.Message
	case "source":
		v = l.Source
	case "ip":
		v = l.IP
	case "countryCode":
		v = l.CountryCode
	case "userAgent":
		v = l.UserAgent
	case "locale":
		v = l.Locale
	case "referer":
		v = l.Referer
	}

	if s, ok := v.(string); (v == nil || (ok && s == "")) && l.FormData != nil {
		if fv, found := l.FormData[name]; found {
			return fv
		}
	}
	return v
}
