// Package store is the durable source of truth for leads, partners and the
// delivery queue. All queue status mutations go through this package so that
// attempts and scheduling stay consistent no matter who drives them.
package store

import (
	"context"
	"errors"
	"time"

	"LeadRelay/internal/models"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTaskInFlight is returned when an operation is refused because the
	// task is currently being processed.
	ErrTaskInFlight = errors.New("task is currently being processed")
)

// ListFilter narrows and pages the admin task listing.
type ListFilter struct {
	Page      int
	Limit     int
	Status    models.TaskStatus // empty = any
	PartnerID int64             // 0 = any
}

// TaskView is a queue task with the identifying bits of its lead and
// partner, as shown in the admin listing.
type TaskView struct {
	models.QueueTask
	LeadEmail   string `json:"leadEmail,omitempty"`
	PartnerName string `json:"partnerName,omitempty"`
}

// Stats holds per-status task counts.
type Stats struct {
	New        int64 `json:"new"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Error      int64 `json:"error"`
}

// Store is the persistence contract of the delivery queue.
type Store interface {
	InsertLead(ctx context.Context, lead *models.Lead) error

	// ActivePartnersBySite returns the active partners subscribed to a site.
	ActivePartnersBySite(ctx context.Context, siteID int64) ([]models.Partner, error)

	// CreateTasks persists a batch of freshly resolved queue tasks.
	CreateTasks(ctx context.Context, tasks []*models.QueueTask) error

	// DueTasks returns up to limit NEW tasks whose scheduledAt has passed,
	// oldest-due first, joined with their lead and partner.
	DueTasks(ctx context.Context, now time.Time, limit int) ([]models.DueTask, error)

	// ClaimTask atomically moves a NEW task into PROCESSING, stamping
	// processedAt and incrementing attempts. It reports the new attempt
	// count and whether the claim won; a lost claim is not an error.
	ClaimTask(ctx context.Context, id int64, now time.Time) (attempts int, claimed bool, err error)

	MarkSent(ctx context.Context, id int64, now time.Time, response, sentData string) error
	MarkRetry(ctx context.Context, id int64, nextAt time.Time, errMsg, sentData string) error
	MarkError(ctx context.Context, id int64, now time.Time, errMsg, response, sentData string) error

	// ResetTask forces a task back to NEW with scheduledAt = now, clearing
	// its error message but keeping the attempt counter. Returns
	// ErrTaskInFlight if the task is PROCESSING.
	ResetTask(ctx context.Context, id int64, now time.Time) error

	ListTasks(ctx context.Context, f ListFilter) ([]TaskView, int64, error)
	Stats(ctx context.Context) (Stats, error)
}
