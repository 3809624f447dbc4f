package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/taskctl/internal/history"
)

// DefaultIndex receives events when the DSN names no index.
const DefaultIndex = "taskctl-history"

// Options configures the sink. BaseURL is scheme://host:port.
type Options struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	Timeout  time.Duration // per request, default 5s
}

// Sink indexes history events as flat documents via the OpenSearch REST API.
// It cannot be queried back.
type Sink struct {
	client *http.Client
	url    string
	user   string
	pass   string
}

var _ history.Sink = (*Sink)(nil)

func New(opts Options) *Sink {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	index := opts.Index
	if index == "" {
		index = DefaultIndex
	}
	return &Sink{
		client: &http.Client{Timeout: timeout},
		url:    fmt.Sprintf("%s/%s/_doc", strings.TrimRight(opts.BaseURL, "/"), index),
		user:   opts.Username,
		pass:   opts.Password,
	}
}

// document is the indexed shape of one event.
type document struct {
	Event      string     `json:"event"`
	OccurredAt time.Time  `json:"occurred_at"`
	Task       string     `json:"task"`
	Command    string     `json:"command"`
	PID        int        `json:"pid"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Duration   *float64   `json:"duration_seconds,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	r := e.Record
	b, err := json.Marshal(document{
		Event:      string(e.Type),
		OccurredAt: e.OccurredAt.UTC(),
		Task:       r.Name,
		Command:    r.Command,
		PID:        r.PID,
		Status:     string(r.Status),
		StartedAt:  r.StartedAt.UTC(),
		EndedAt:    r.EndedAt,
		Duration:   r.Duration,
		ExitCode:   r.ExitCode,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != "" {
		req.SetBasicAuth(s.user, s.pass)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch sink status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
