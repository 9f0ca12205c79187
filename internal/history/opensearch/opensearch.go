package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/respawn/internal/history"
)

// maxErrBody bounds how much of an error response is quoted in the error.
const maxErrBody = 512

// Config locates an index. Username enables basic auth.
type Config struct {
	BaseURL  string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

// Sink writes each event as a document with a deterministic id, so a
// resend after a timeout overwrites instead of duplicating.
type Sink struct {
	client *http.Client
	cfg    Config
}

func New(cfg Config) *Sink {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Sink{client: &http.Client{Timeout: cfg.Timeout}, cfg: cfg}
}

// DocID identifies one transition of one run.
func DocID(e history.Event) string {
	run := e.RunID
	if run == "" {
		run = e.Name
	}
	return run + "-" + e.To + "-" + strconv.FormatInt(e.OccurredAt.UnixNano(), 10)
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	u := fmt.Sprintf("%s/%s/_doc/%s", s.cfg.BaseURL, url.PathEscape(s.cfg.Index), url.PathEscape(DocID(e)))
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Username != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.cfg.Index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

func (s *Sink) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
