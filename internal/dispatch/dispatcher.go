// Package dispatch performs the outbound HTTP call that delivers a mapped
// lead payload to a partner endpoint and classifies the result. It never
// touches the queue store; scheduling decisions belong to the caller.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"LeadRelay/internal/models"
)

// ErrorKind classifies a failed delivery for the retry decision.
type ErrorKind string

const (
	ErrNone       ErrorKind = ""
	ErrValidation ErrorKind = "validation" // partner rejected the payload shape (422)
	ErrClient     ErrorKind = "client"     // other 4xx
	ErrServer     ErrorKind = "server"     // 5xx
	ErrNetwork    ErrorKind = "network"    // timeout, DNS, connection failure
	ErrUnknown    ErrorKind = "unknown"    // local failure before/around the request
)

// Outcome is the classified result of one delivery attempt.
type Outcome struct {
	Success    bool
	Kind       ErrorKind
	StatusCode int
	Message    string
	Response   string
}

const (
	// DefaultTimeout is the hard cap on one partner request.
	DefaultTimeout = 10 * time.Second

	// responseSnippet bounds how much of a partner response body is kept
	// for the audit trail.
	responseSnippet = 2048
)

type Dispatcher struct {
	Client *http.Client
	Log    *zap.Logger
}

func New(timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		Client: &http.Client{Timeout: timeout},
		Log:    logger,
	}
}

// Send delivers payload to the partner endpoint and classifies the outcome.
// GET partners receive the payload as query parameters; every other method
// receives a JSON body.
func (d *Dispatcher) Send(ctx context.Context, partner *models.Partner, payload map[string]any) Outcome {
	req, err := d.buildRequest(ctx, partner, payload)
	if err != nil {
		return Outcome{Kind: ErrUnknown, Message: err.Error()}
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return Outcome{Kind: ErrNetwork, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, responseSnippet))
	snippet := string(body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.Log.Debug("partner accepted lead",
			zap.Int64("partner_id", partner.ID),
			zap.Int("status", resp.StatusCode),
		)
		return Outcome{Success: true, StatusCode: resp.StatusCode, Response: snippet}
	}

	out := Outcome{
		StatusCode: resp.StatusCode,
		Response:   snippet,
		Message:    fmt.Sprintf("partner returned HTTP %d", resp.StatusCode),
	}
	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		out.Kind = ErrValidation
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		out.Kind = ErrClient
	case resp.StatusCode >= 500 && resp.StatusCode < 600:
		out.Kind = ErrServer
	default:
		out.Kind = ErrUnknown
	}
	return out
}

func (d *Dispatcher) buildRequest(ctx context.Context, partner *models.Partner, payload map[string]any) (*http.Request, error) {
	method := strings.ToUpper(partner.APIMethod)
	if method == "" {
		method = http.MethodPost
	}

	var req *http.Request
	var err error

	if method == http.MethodGet {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, partner.APIURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.URL.RawQuery = encodeQuery(payload)
	} else {
		body, merr := json.Marshal(payload)
		if merr != nil {
			return nil, fmt.Errorf("encode payload: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx, method, partner.APIURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range partner.APIHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// encodeQuery flattens a payload into query parameters, rendering nested
// maps in bracket notation: contact[email]=a@x.com.
func encodeQuery(payload map[string]any) string {
	values := url.Values{}
	for key, v := range payload {
		if nested, ok := v.(map[string]any); ok {
			for child, cv := range nested {
				values.Set(fmt.Sprintf("%s[%s]", key, child), fmt.Sprint(cv))
			}
			continue
		}
		values.Set(key, fmt.Sprint(v))
	}
	return values.Encode()
}
