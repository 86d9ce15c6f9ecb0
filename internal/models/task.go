package models

import "time"

type TaskStatus string

const (
	StatusNew        TaskStatus = "new"
	StatusProcessing TaskStatus = "processing"
	StatusSent       TaskStatus = "sent"
	StatusError      TaskStatus = "error"
)

// Valid reports whether s is one of the known queue statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusSent, StatusError:
		return true
	default:
		return false
	}
}

// QueueTask is one scheduled delivery attempt-chain of a lead to a partner.
// Tasks are never deleted; they form the audit trail of every delivery.
type QueueTask struct {
	ID        int64  `json:"id"`
	LeadID    string `json:"leadId"`
	PartnerID int64  `json:"partnerId"`

	Status TaskStatus `json:"status"`

	ScheduledAt time.Time  `json:"scheduledAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	PartnerResponse string `json:"partnerResponse,omitempty"`
	ErrorMessage    string `json:"errorMessage,omitempty"`
	SentData        string `json:"sentData,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DueTask is a queue task joined with the lead and partner it refers to,
// as selected by the scheduler.
type DueTask struct {
	Task    QueueTask
	Lead    Lead
	Partner Partner
}
