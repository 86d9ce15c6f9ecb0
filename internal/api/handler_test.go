package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"LeadRelay/internal/dispatch"
	"LeadRelay/internal/models"
	"LeadRelay/internal/queue"
	"LeadRelay/internal/store"
)

const testToken = "test-token"

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	st := store.NewMemory()
	svc := queue.NewService(st, dispatch.New(2*time.Second, zap.NewNop()), nil, nil, zap.NewNop(), nil)
	h := &Handler{
		Store: st,
		Queue: svc,
		Token: testToken,
		Log:   zap.NewNop(),
	}

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, st
}

func doRequest(t *testing.T, method, url string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func seedTask(t *testing.T, st *store.Memory, leadID string, partnerID int64, status models.TaskStatus) int64 {
	t.Helper()

	lead := models.Lead{ID: leadID, Email: leadID + "@x.com", SiteID: 7}
	if err := st.InsertLead(context.Background(), &lead); err != nil {
		t.Fatalf("insert lead: %v", err)
	}
	st.AddPartner(models.Partner{ID: partnerID, Name: fmt.Sprintf("p%d", partnerID), IsActive: true, SiteIDs: []int64{7}})

	task := &models.QueueTask{
		LeadID: leadID, PartnerID: partnerID, Status: models.StatusNew,
		ScheduledAt: time.Now(), MaxAttempts: 3,
	}
	if err := st.CreateTasks(context.Background(), []*models.QueueTask{task}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	switch status {
	case models.StatusProcessing:
		if _, _, err := st.ClaimTask(context.Background(), task.ID, time.Now()); err != nil {
			t.Fatalf("claim: %v", err)
		}
	case models.StatusError:
		if err := st.MarkError(context.Background(), task.ID, time.Now(), "boom", "", ""); err != nil {
			t.Fatalf("mark error: %v", err)
		}
	case models.StatusSent:
		if err := st.MarkSent(context.Background(), task.ID, time.Now(), "ok", ""); err != nil {
			t.Fatalf("mark sent: %v", err)
		}
	}
	return task.ID
}

func TestAuth(t *testing.T) {
	srv, st := newTestServer(t)
	seedTask(t, st, "lead-1", 1, models.StatusNew)

	t.Run("missing token is rejected", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodGet, srv.URL+"/lead-queue", nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodGet, srv.URL+"/lead-queue", nil, "nope")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("valid token passes", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodGet, srv.URL+"/lead-queue", nil, testToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("health is public", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodGet, srv.URL+"/healthz", nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestListTasks(t *testing.T) {
	srv, st := newTestServer(t)
	seedTask(t, st, "lead-1", 1, models.StatusSent)
	seedTask(t, st, "lead-2", 1, models.StatusNew)
	seedTask(t, st, "lead-3", 2, models.StatusError)

	t.Run("pagination", func(t *testing.T) {
		resp, body := doRequest(t, http.MethodGet, srv.URL+"/lead-queue?page=1&limit=2", nil, testToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		if body["total"] != float64(3) {
			t.Fatalf("total = %v, want 3", body["total"])
		}
		items := body["items"].([]any)
		if len(items) != 2 {
			t.Fatalf("items = %d, want 2", len(items))
		}
		// Newest first.
		first := items[0].(map[string]any)
		if first["leadId"] != "lead-3" {
			t.Fatalf("first item lead = %v, want lead-3", first["leadId"])
		}
	})

	t.Run("status filter", func(t *testing.T) {
		_, body := doRequest(t, http.MethodGet, srv.URL+"/lead-queue?status=error", nil, testToken)
		if body["total"] != float64(1) {
			t.Fatalf("total = %v, want 1", body["total"])
		}
	})

	t.Run("partner filter", func(t *testing.T) {
		_, body := doRequest(t, http.MethodGet, srv.URL+"/lead-queue?partnerId=1", nil, testToken)
		if body["total"] != float64(2) {
			t.Fatalf("total = %v, want 2", body["total"])
		}
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodGet, srv.URL+"/lead-queue?status=bogus", nil, testToken)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestStats(t *testing.T) {
	srv, st := newTestServer(t)
	seedTask(t, st, "lead-1", 1, models.StatusSent)
	seedTask(t, st, "lead-2", 1, models.StatusNew)
	seedTask(t, st, "lead-3", 1, models.StatusError)

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/lead-queue/stats", nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["new"] != float64(1) || body["sent"] != float64(1) || body["error"] != float64(1) || body["processing"] != float64(0) {
		t.Fatalf("stats = %v", body)
	}
}

func TestRetryEndpoint(t *testing.T) {
	srv, st := newTestServer(t)

	t.Run("unknown task is 404", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/lead-queue/999/retry", nil, testToken)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("processing task is 409", func(t *testing.T) {
		id := seedTask(t, st, "lead-busy", 1, models.StatusProcessing)
		resp, _ := doRequest(t, http.MethodPost, fmt.Sprintf("%s/lead-queue/%d/retry", srv.URL, id), nil, testToken)
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
	})

	t.Run("error task is reset", func(t *testing.T) {
		id := seedTask(t, st, "lead-err", 2, models.StatusError)
		resp, _ := doRequest(t, http.MethodPost, fmt.Sprintf("%s/lead-queue/%d/retry", srv.URL, id), nil, testToken)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		task, _ := st.Task(id)
		if task.Status != models.StatusNew {
			t.Fatalf("task status = %s, want new", task.Status)
		}
	})

	t.Run("non-numeric id is 400", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/lead-queue/abc/retry", nil, testToken)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestProcessEndpoint(t *testing.T) {
	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer partner.Close()

	srv, st := newTestServer(t)

	lead := models.Lead{ID: "lead-1", Email: "a@x.com", SiteID: 7}
	if err := st.InsertLead(context.Background(), &lead); err != nil {
		t.Fatalf("insert lead: %v", err)
	}
	st.AddPartner(models.Partner{
		ID: 1, Name: "p1", IsActive: true, SiteIDs: []int64{7},
		APIURL: partner.URL, APIMethod: "POST", FieldMapping: []byte(`{"email":"email"}`),
	})
	task := &models.QueueTask{
		LeadID: "lead-1", PartnerID: 1, Status: models.StatusNew,
		ScheduledAt: time.Now().Add(-time.Minute), MaxAttempts: 3,
	}
	if err := st.CreateTasks(context.Background(), []*models.QueueTask{task}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	resp, body := doRequest(t, http.MethodPost, srv.URL+"/lead-queue/process", nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if msg, _ := body["message"].(string); msg == "" {
		t.Fatal("missing message")
	}

	got, _ := st.Task(task.ID)
	if got.Status != models.StatusSent {
		t.Fatalf("task status = %s, want sent", got.Status)
	}
}

func TestSubmitLead(t *testing.T) {
	srv, st := newTestServer(t)
	st.AddPartner(models.Partner{
		ID: 1, Name: "p1", IsActive: true, SiteIDs: []int64{7},
		APIURL: "http://partner.invalid", APIMethod: "POST", FieldMapping: []byte(`{"email":"email"}`),
	})

	t.Run("missing required fields", func(t *testing.T) {
		resp, _ := doRequest(t, http.MethodPost, srv.URL+"/leads", map[string]any{"firstName": "Ann"}, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("valid submission queues tasks", func(t *testing.T) {
		form := map[string]any{
			"firstName":  "Ann",
			"email":      "A@X.com",
			"phone":      "+1",
			"siteId":     float64(7),
			"utm_source": "google",
		}
		resp, body := doRequest(t, http.MethodPost, srv.URL+"/leads", form, "")
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}
		if id, _ := body["leadId"].(string); id == "" || body["success"] != true {
			t.Fatalf("body = %v", body)
		}

		// Enqueueing is fire-and-forget; wait for the task to appear.
		deadline := time.Now().Add(2 * time.Second)
		for {
			stats, err := st.Stats(context.Background())
			if err != nil {
				t.Fatalf("stats: %v", err)
			}
			if stats.New == 1 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("queue task was never created")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})
}
