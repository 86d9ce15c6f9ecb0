package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"LeadRelay/internal/models"
	"LeadRelay/internal/queue"
	"LeadRelay/internal/store"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

type Handler struct {
	Store store.Store
	Queue *queue.Service
	Token string
	Log   *zap.Logger
}

// Routes builds the HTTP surface. Queue administration requires the bearer
// token; lead intake and health are public.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /leads", h.submitLead)

	mux.HandleFunc("GET /lead-queue", h.auth(h.listTasks))
	mux.HandleFunc("GET /lead-queue/stats", h.auth(h.stats))
	mux.HandleFunc("POST /lead-queue/process", h.auth(h.process))
	mux.HandleFunc("POST /lead-queue/{id}/retry", h.auth(h.retryTask))

	return mux
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Token != "" {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != h.Token {
				writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
				return
			}
		}
		next(w, r)
	}
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitLead is the public form intake: it persists the lead and expands it
// into queue tasks. Partner resolution is fire-and-forget; a broken partner
// configuration must never fail the form submission.
func (h *Handler) submitLead(w http.ResponseWriter, r *http.Request) {
	var form map[string]any
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	firstName := formString(form, "firstName")
	email := formString(form, "email")
	phone := formString(form, "phone")
	if firstName == "" || email == "" || phone == "" {
		writeError(w, http.StatusBadRequest, "missing required fields: firstName, email, phone")
		return
	}

	lead := &models.Lead{
		ID:        uuid.NewString(),
		FirstName: firstName,
		LastName:  formString(form, "lastName"),
		Email:     strings.ToLower(email),
		Phone:     phone,
		Company:   formString(form, "company"),
		Message:   formString(form, "message"),
		Source:    formString(form, "source"),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Locale:    formString(form, "locale"),
		Referer:   r.Referer(),
		FormData:  form,
		SiteID:    formInt(form, "siteId"),
		CreatedAt: time.Now(),
	}
	if lead.Source == "" {
		lead.Source = "website_form"
	}

	if err := h.Store.InsertLead(r.Context(), lead); err != nil {
		h.Log.Error("failed to persist lead", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit form")
		return
	}

	if lead.SiteID != 0 {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := h.Queue.EnqueueForSite(ctx, lead, lead.SiteID); err != nil {
				h.Log.Error("failed to queue lead for partners",
					zap.String("lead_id", lead.ID),
					zap.Error(err),
				)
			}
		}()
	} else {
		h.Log.Warn("lead has no siteId, skipping partner delivery",
			zap.String("lead_id", lead.ID))
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"message": "Form submitted successfully",
		"leadId":  lead.ID,
	})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	f := store.ListFilter{
		Page:  queryInt(r, "page", defaultPage),
		Limit: queryInt(r, "limit", defaultLimit),
	}
	if f.Page < 1 {
		f.Page = defaultPage
	}
	if f.Limit < 1 || f.Limit > maxLimit {
		f.Limit = defaultLimit
	}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.TaskStatus(raw)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status: "+raw)
			return
		}
		f.Status = status
	}
	f.PartnerID = int64(queryInt(r, "partnerId", 0))

	items, total, err := h.Store.ListTasks(r.Context(), f)
	if err != nil {
		h.Log.Error("failed to list queue tasks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list queue tasks")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
		"page":  f.Page,
		"limit": f.Limit,
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		h.Log.Error("failed to read queue stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.ProcessDue(r.Context()); err != nil {
		h.Log.Error("manual queue pass failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "queue processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Queue processing completed"})
}

func (h *Handler) retryTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	switch err := h.Queue.RetryTask(r.Context(), id); {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "queue task not found")
	case errors.Is(err, store.ErrTaskInFlight):
		writeError(w, http.StatusConflict, "task is currently being processed")
	case err != nil:
		h.Log.Error("failed to reset queue task", zap.Int64("task_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset queue task")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"message": "Queue task rescheduled for processing"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func formString(form map[string]any, key string) string {
	s, _ := form[key].(string)
	return strings.TrimSpace(s)
}

func formInt(form map[string]any, key string) int64 {
	switch v := form[key].(type) {
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

// clientIP digs the real client address out of proxy headers, falling back
// to the connection's remote address.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	if cfIP := r.Header.Get("CF-Connecting-IP"); cfIP != "" {
		return cfIP
	}
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
