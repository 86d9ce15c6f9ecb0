package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"LeadRelay/internal/models"
)

// Postgres implements Store on a pgx connection pool. Schema lives in
// db/schema.sql.
type Postgres struct {
	Pool *pgxpool.Pool
}

// New connects to Postgres and verifies the connection, retrying the initial
// ping with exponential backoff so the service survives a database that is
// still coming up.
func New(ctx context.Context, conn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	ping := func() error {
		return pool.Ping(ctx)
	}
	if err := backoff.Retry(ping, backoff.WithContext(b, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (s *Postgres) Close() {
	s.Pool.Close()
}

func (s *Postgres) InsertLead(ctx context.Context, lead *models.Lead) error {
	formData, err := json.Marshal(lead.FormData)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO leads
		 (id, first_name, last_name, email, phone, company, message, source,
		  ip, country_code, user_agent, locale, referer, form_data, site_id,
		  created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW(),NOW())`,
		lead.ID,
		lead.FirstName,
		lead.LastName,
		lead.Email,
		lead.Phone,
		lead.Company,
		lead.Message,
		lead.Source,
		lead.IP,
		lead.CountryCode,
		lead.UserAgent,
		lead.Locale,
		lead.Referer,
		formData,
		lead.SiteID,
	)
	return err
}

func (s *Postgres) ActivePartnersBySite(ctx context.Context, siteID int64) ([]models.Partner, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT p.id, p.name, p.api_url, p.api_method,
		        COALESCE(p.api_headers, ''), COALESCE(p.field_mapping, ''),
		        p.is_active, p.delay_seconds
		 FROM partners p
		 JOIN partner_sites ps ON ps.partner_id = p.id
		 WHERE ps.site_id = $1 AND p.is_active`,
		siteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []models.Partner
	for rows.Next() {
		var p models.Partner
		var headers, mapping string
		if err := rows.Scan(&p.ID, &p.Name, &p.APIURL, &p.APIMethod,
			&headers, &mapping, &p.IsActive, &p.DelaySeconds); err != nil {
			return nil, err
		}
		if headers != "" {
			if err := json.Unmarshal([]byte(headers), &p.APIHeaders); err != nil {
				return nil, fmt.Errorf("partner %d: decode api headers: %w", p.ID, err)
			}
		}
		p.FieldMapping = []byte(mapping)
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

func (s *Postgres) CreateTasks(ctx context.Context, tasks []*models.QueueTask) error {
	if len(tasks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, t := range tasks {
		batch.Queue(
			`INSERT INTO lead_queue
			 (lead_id, partner_id, status, scheduled_at, attempts, max_attempts,
			  created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
			 RETURNING id`,
			t.LeadID, t.PartnerID, t.Status, t.ScheduledAt, t.Attempts, t.MaxAttempts,
		)
	}

	results := s.Pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, t := range tasks {
		if err := results.QueryRow().Scan(&t.ID); err != nil {
			return fmt.Errorf("insert queue task: %w", err)
		}
	}
	return nil
}

func (s *Postgres) DueTasks(ctx context.Context, now time.Time, limit int) ([]models.DueTask, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT q.id, q.lead_id, q.partner_id, q.status, q.scheduled_at,
		        q.attempts, q.max_attempts,
		        l.first_name, l.last_name, l.email, l.phone, l.company,
		        l.message, l.source, l.ip, l.country_code, l.user_agent,
		        l.locale, l.referer, l.form_data, l.site_id,
		        p.name, p.api_url, p.api_method,
		        COALESCE(p.api_headers, ''), COALESCE(p.field_mapping, ''),
		        p.is_active, p.delay_seconds
		 FROM lead_queue q
		 JOIN leads l ON l.id = q.lead_id
		 JOIN partners p ON p.id = q.partner_id
		 WHERE q.status = 'new' AND q.scheduled_at <= $1
		 ORDER BY q.scheduled_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []models.DueTask
	for rows.Next() {
		var d models.DueTask
		var formData []byte
		var headers, mapping string
		if err := rows.Scan(
			&d.Task.ID, &d.Task.LeadID, &d.Task.PartnerID, &d.Task.Status,
			&d.Task.ScheduledAt, &d.Task.Attempts, &d.Task.MaxAttempts,
			&d.Lead.FirstName, &d.Lead.LastName, &d.Lead.Email, &d.Lead.Phone,
			&d.Lead.Company, &d.Lead.Message, &d.Lead.Source, &d.Lead.IP,
			&d.Lead.CountryCode, &d.Lead.UserAgent, &d.Lead.Locale,
			&d.Lead.Referer, &formData, &d.Lead.SiteID,
			&d.Partner.Name, &d.Partner.APIURL, &d.Partner.APIMethod,
			&headers, &mapping, &d.Partner.IsActive, &d.Partner.DelaySeconds,
		); err != nil {
			return nil, err
		}
		d.Lead.ID = d.Task.LeadID
		d.Partner.ID = d.Task.PartnerID
		if len(formData) > 0 {
			if err := json.Unmarshal(formData, &d.Lead.FormData); err != nil {
				return nil, fmt.Errorf("lead %s: decode form data: %w", d.Lead.ID, err)
			}
		}
		if headers != "" {
			if err := json.Unmarshal([]byte(headers), &d.Partner.APIHeaders); err != nil {
				return nil, fmt.Errorf("partner %d: decode api headers: %w", d.Partner.ID, err)
			}
		}
		d.Partner.FieldMapping = []byte(mapping)
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *Postgres) ClaimTask(ctx context.Context, id int64, now time.Time) (int, bool, error) {
	// Conditional update so two scheduler instances can never both win the
	// same task: only the one that flips NEW to PROCESSING proceeds.
	var attempts int
	err := s.Pool.QueryRow(ctx,
		`UPDATE lead_queue
		 SET status = 'processing',
		     processed_at = $2,
		     attempts = attempts + 1,
		     updated_at = $2
		 WHERE id = $1 AND status = 'new'
		 RETURNING attempts`,
		id, now,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

func (s *Postgres) MarkSent(ctx context.Context, id int64, now time.Time, response, sentData string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE lead_queue
		 SET status = 'sent',
		     completed_at = $2,
		     partner_response = $3,
		     sent_data = $4,
		     updated_at = $2
		 WHERE id = $1`,
		id, now, response, sentData,
	)
	return err
}

func (s *Postgres) MarkRetry(ctx context.Context, id int64, nextAt time.Time, errMsg, sentData string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE lead_queue
		 SET status = 'new',
		     scheduled_at = $2,
		     error_message = $3,
		     sent_data = $4,
		     updated_at = NOW()
		 WHERE id = $1`,
		id, nextAt, errMsg, sentData,
	)
	return err
}

func (s *Postgres) MarkError(ctx context.Context, id int64, now time.Time, errMsg, response, sentData string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE lead_queue
		 SET status = 'error',
		     completed_at = $2,
		     error_message = $3,
		     partner_response = $4,
		     sent_data = $5,
		     updated_at = $2
		 WHERE id = $1`,
		id, now, errMsg, response, sentData,
	)
	return err
}

func (s *Postgres) ResetTask(ctx context.Context, id int64, now time.Time) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE lead_queue
		 SET status = 'new',
		     scheduled_at = $2,
		     error_message = NULL,
		     updated_at = $2
		 WHERE id = $1 AND status <> 'processing'`,
		id, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status models.TaskStatus
	err = s.Pool.QueryRow(ctx,
		`SELECT status FROM lead_queue WHERE id = $1`, id,
	).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == models.StatusProcessing {
		return ErrTaskInFlight
	}
	return nil
}

func (s *Postgres) ListTasks(ctx context.Context, f ListFilter) ([]TaskView, int64, error) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 4)

	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "q.status = $"+strconv.Itoa(len(args)))
	}
	if f.PartnerID != 0 {
		args = append(args, f.PartnerID)
		where = append(where, "q.partner_id = $"+strconv.Itoa(len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM lead_queue q"+clause, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	rows, err := s.Pool.Query(ctx,
		`SELECT q.id, q.lead_id, q.partner_id, q.status, q.scheduled_at,
		        q.processed_at, q.completed_at, q.attempts, q.max_attempts,
		        COALESCE(q.partner_response, ''), COALESCE(q.error_message, ''),
		        COALESCE(q.sent_data, ''), q.created_at, q.updated_at,
		        l.email, p.name
		 FROM lead_queue q
		 JOIN leads l ON l.id = q.lead_id
		 JOIN partners p ON p.id = q.partner_id`+clause+`
		 ORDER BY q.created_at DESC
		 LIMIT $`+strconv.Itoa(len(args)-1)+` OFFSET $`+strconv.Itoa(len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]TaskView, 0, f.Limit)
	for rows.Next() {
		var v TaskView
		if err := rows.Scan(
			&v.ID, &v.LeadID, &v.PartnerID, &v.Status, &v.ScheduledAt,
			&v.ProcessedAt, &v.CompletedAt, &v.Attempts, &v.MaxAttempts,
			&v.PartnerResponse, &v.ErrorMessage, &v.SentData,
			&v.CreatedAt, &v.UpdatedAt, &v.LeadEmail, &v.PartnerName,
		); err != nil {
			return nil, 0, err
		}
		items = append(items, v)
	}
	return items, total, rows.Err()
}

func (s *Postgres) Stats(ctx context.Context) (Stats, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT status, COUNT(*) FROM lead_queue GROUP BY status`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status models.TaskStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch status {
		case models.StatusNew:
			stats.New = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusSent:
			stats.Sent = count
		case models.StatusError:
			stats.Error = count
		}
	}
	return stats, rows.Err()
}
