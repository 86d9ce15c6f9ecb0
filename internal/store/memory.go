package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"LeadRelay/internal/models"
)

// Memory is an in-process Store used by tests. It applies the same
// status-gated transitions as the Postgres implementation.
type Memory struct {
	mu       sync.Mutex
	leads    map[string]models.Lead
	partners map[int64]models.Partner
	tasks    map[int64]*models.QueueTask
	nextID   int64
}

func NewMemory() *Memory {
	return &Memory{
		leads:    make(map[string]models.Lead),
		partners: make(map[int64]models.Partner),
		tasks:    make(map[int64]*models.QueueTask),
	}
}

// AddPartner seeds a partner. Not part of the Store interface; partner CRUD
// belongs to the surrounding system.
func (m *Memory) AddPartner(p models.Partner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partners[p.ID] = p
}

// Task returns a copy of one task for assertions.
func (m *Memory) Task(id int64) (models.QueueTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.QueueTask{}, false
	}
	return *t, true
}

func (m *Memory) InsertLead(_ context.Context, lead *models.Lead) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = *lead
	return nil
}

func (m *Memory) ActivePartnersBySite(_ context.Context, siteID int64) ([]models.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Partner
	for _, p := range m.partners {
		if !p.IsActive {
			continue
		}
		for _, id := range p.SiteIDs {
			if id == siteID {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateTasks(_ context.Context, tasks []*models.QueueTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tasks {
		m.nextID++
		t.ID = m.nextID
		t.CreatedAt = time.Now()
		t.UpdatedAt = t.CreatedAt
		cp := *t
		m.tasks[t.ID] = &cp
	}
	return nil
}

func (m *Memory) DueTasks(_ context.Context, now time.Time, limit int) ([]models.DueTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []models.DueTask
	for _, t := range m.tasks {
		if t.Status != models.StatusNew || t.ScheduledAt.After(now) {
			continue
		}
		lead, ok := m.leads[t.LeadID]
		if !ok {
			continue
		}
		partner, ok := m.partners[t.PartnerID]
		if !ok {
			continue
		}
		due = append(due, models.DueTask{Task: *t, Lead: lead, Partner: partner})
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].Task.ScheduledAt.Before(due[j].Task.ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) ClaimTask(_ context.Context, id int64, now time.Time) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok || t.Status != models.StatusNew {
		return 0, false, nil
	}
	t.Status = models.StatusProcessing
	stamp := now
	t.ProcessedAt = &stamp
	t.Attempts++
	t.UpdatedAt = now
	return t.Attempts, true, nil
}

func (m *Memory) MarkSent(_ context.Context, id int64, now time.Time, response, sentData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.StatusSent
	stamp := now
	t.CompletedAt = &stamp
	t.PartnerResponse = response
	t.SentData = sentData
	t.UpdatedAt = now
	return nil
}

func (m *Memory) MarkRetry(_ context.Context, id int64, nextAt time.Time, errMsg, sentData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.StatusNew
	t.ScheduledAt = nextAt
	t.ErrorMessage = errMsg
	t.SentData = sentData
	t.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkError(_ context.Context, id int64, now time.Time, errMsg, response, sentData string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.StatusError
	stamp := now
	t.CompletedAt = &stamp
	t.ErrorMessage = errMsg
	t.PartnerResponse = response
	t.SentData = sentData
	t.UpdatedAt = now
	return nil
}

func (m *Memory) ResetTask(_ context.Context, id int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status == models.StatusProcessing {
		return ErrTaskInFlight
	}
	t.Status = models.StatusNew
	t.ScheduledAt = now
	t.ErrorMessage = ""
	t.UpdatedAt = now
	return nil
}

func (m *Memory) ListTasks(_ context.Context, f ListFilter) ([]TaskView, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.QueueTask
	for _, t := range m.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.PartnerID != 0 && t.PartnerID != f.PartnerID {
			continue
		}
		matched = append(matched, t)
	}

	// Newest first; creation order is the id order here.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}

	items := make([]TaskView, 0, end-start)
	for _, t := range matched[start:end] {
		v := TaskView{QueueTask: *t}
		if lead, ok := m.leads[t.LeadID]; ok {
			v.LeadEmail = lead.Email
		}
		if partner, ok := m.partners[t.PartnerID]; ok {
			v.PartnerName = partner.Name
		}
		items = append(items, v)
	}
	return items, total, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats Stats
	for _, t := range m.tasks {
		switch t.Status {
		case models.StatusNew:
			stats.New++
		case models.StatusProcessing:
			stats.Processing++
		case models.StatusSent:
			stats.Sent++
		case models.StatusError:
			stats.Error++
		}
	}
	return stats, nil
}
