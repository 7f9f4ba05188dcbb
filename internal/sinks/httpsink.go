package sinks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foshk/gateway/internal/types"
)

const httpTimeout = 8 * time.Second

// bodyCheck inspects a 200 reply from an API that signals failure in
// the body.  A nil check accepts any 2xx.
type bodyCheck func(body string) error

// httpSink delivers a pre-serialised payload by GET query or POST body.
type httpSink struct {
	url         string
	method      string
	contentType string
	builder     func(obs *types.Observation) (string, error)
	check       bodyCheck
	headers     map[string]string
	client      *http.Client
}

func newHTTPSink(url, method, contentType string, builder func(*types.Observation) (string, error), check bodyCheck) *httpSink {
	return &httpSink{
		url:         url,
		method:      method,
		contentType: contentType,
		builder:     builder,
		check:       check,
		client:      &http.Client{Timeout: httpTimeout},
	}
}

func (s *httpSink) Build(obs *types.Observation) (string, error) {
	return s.builder(obs)
}

func (s *httpSink) Send(ctx context.Context, payload string) error {
	var req *http.Request
	var err error
	if s.method == http.MethodGet {
		url := s.url
		if payload != "" {
			sep := "?"
			if strings.Contains(url, "?") {
				sep = "&"
			}
			url += sep + payload
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, s.method, s.url, strings.NewReader(payload))
		if err == nil && s.contentType != "" {
			req.Header.Set("Content-Type", s.contentType)
		}
	}
	if err != nil {
		return Permanent(err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if s.check != nil {
			if err := s.check(string(body)); err != nil {
				return err
			}
		}
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, firstLine(body)))
	default:
		return fmt.Errorf("status %d: %s", resp.StatusCode, firstLine(body))
	}
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
