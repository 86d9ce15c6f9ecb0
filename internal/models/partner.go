package models

import "time"

// Partner is a third-party endpoint that receives forwarded leads.
type Partner struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	ContactPerson string `json:"contactPerson,omitempty"`
	Email         string `json:"email,omitempty"`

	APIURL     string            `json:"apiUrl"`
	APIMethod  string            `json:"apiMethod"`
	APIHeaders map[string]string `json:"apiHeaders,omitempty"`

	// FieldMapping is the raw mapping document as configured for the
	// partner. It is parsed into canonical rules at dispatch time.
	FieldMapping []byte `json:"fieldMapping,omitempty"`

	IsActive     bool  `json:"isActive"`
	DelaySeconds int64 `json:"delaySeconds"`

	// SiteIDs are the sites this partner is subscribed to.
	SiteIDs []int64 `json:"siteIds,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Delay returns the configured per-partner scheduling delay.
func (p *Partner) Delay() time.Duration {
	if p.DelaySeconds <= 0 {
		return 0
	}
	return time.Duration(p.DelaySeconds) * time.Second
}
