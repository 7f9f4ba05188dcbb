// Package ingest receives push reports from Ecowitt/Ambient-class gateways
// over HTTP and feeds them to the normaliser.
package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/foshk/gateway/internal/log"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const requestTimeout = 8 * time.Second

// Server is the push-report HTTP receiver.  Both gateway dialects land in
// the same queue: `POST /data/report/` (Ecowitt) and
// `GET /weatherstation/updateweatherstation.php` (Wunderground).
type Server struct {
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	server    *http.Server
	queue     *Queue
	authPwd   string
	logIgnore []string
	logger    *zap.SugaredLogger
}

// NewServer builds the ingest server; the router can be shared with the
// control plane by registering on the same mux.
func NewServer(ctx context.Context, wg *sync.WaitGroup, cfg config.ServerData, caps config.CapabilityData, logging config.LoggingData, queue *Queue, router *mux.Router, logger *zap.SugaredLogger) *Server {
	serverCtx, cancel := context.WithCancel(ctx)

	s := &Server{
		ctx:       serverCtx,
		cancel:    cancel,
		wg:        wg,
		queue:     queue,
		authPwd:   caps.AuthPassword,
		logIgnore: logging.Ignore,
		logger:    logger,
	}

	router.HandleFunc("/data/report/", s.handleEcowitt).Methods(http.MethodPost)
	router.HandleFunc("/weatherstation/updateweatherstation.php", s.handleWunderground).Methods(http.MethodGet)

	listenAddr := "0.0.0.0"
	if cfg.BindIP != "" {
		listenAddr = cfg.BindIP
	}
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", listenAddr, cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  requestTimeout,
		WriteTimeout: requestTimeout,
	}

	return s
}

// Start brings the HTTP listener up and arranges shutdown on context
// cancellation.
func (s *Server) Start() error {
	s.logger.Infof("starting ingest HTTP server on %s", s.server.Addr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("ingest HTTP server error: %v", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Errorf("ingest HTTP server shutdown error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the listener down.
func (s *Server) Stop() {
	s.cancel()
}

// handleEcowitt accepts the Ecowitt key=value POST body.  The reply is
// always the fixed 200 JSON the firmware expects; anything else makes the
// gateway mark the channel failed.
func (s *Server) handleEcowitt(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.logger.Errorf("ingest: reading report body: %v", err)
		s.replyEcowitt(w)
		return
	}

	raw := string(body)
	pairs, order := ParseReport(raw)

	if s.authorized(pairs, "PASSKEY") {
		s.enqueue("ecowitt", raw, pairs, order)
	} else {
		s.logger.Warnf("ingest: rejecting report without valid PASSKEY from %s: %s",
			r.RemoteAddr, log.ScrubBody(raw, append(s.logIgnore, "PASSKEY")))
	}

	s.replyEcowitt(w)
}

// handleWunderground accepts the Wunderground GET dialect; the payload is
// the raw query string.
func (s *Server) handleWunderground(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.RawQuery
	pairs, order := ParseReport(raw)

	if s.authorized(pairs, "PASSWORD") {
		s.enqueue("wu", raw, pairs, order)
	} else {
		s.logger.Warnf("ingest: rejecting WU report without valid PASSWORD from %s", r.RemoteAddr)
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK\n")
}

func (s *Server) replyEcowitt(w http.ResponseWriter) {
	_, offset := time.Now().Zone()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "{\"errcode\":\"0\",\"errmsg\":\"ok\",\"UTC_offset\":\"%d\"}\n", offset)
}

// authorized implements the shared-secret check.  Rejection is logical
// only; the protocol-level reply stays 200 to keep the sender alive.
func (s *Server) authorized(pairs map[string]string, key string) bool {
	if s.authPwd == "" {
		return true
	}
	return pairs[key] == s.authPwd
}

func (s *Server) enqueue(source, raw string, pairs map[string]string, order []string) {
	s.queue.Push(types.RawReport{
		Received: time.Now().UTC(),
		Source:   source,
		Pairs:    pairs,
		Order:    order,
		Body:     raw,
	})
	s.logger.Debugf("ingest: %s report queued: %s", source, log.ScrubBody(raw, s.logIgnore))
}

// ParseReport splits a key=value&key=value body into a map plus the key
// order.  A malformed pair is skipped; the remaining fields are still
// processed.
func ParseReport(body string) (map[string]string, []string) {
	pairs := make(map[string]string)
	var order []string

	for _, field := range strings.Split(body, "&") {
		if field == "" {
			continue
		}
		k, v, ok := strings.Cut(field, "=")
		if !ok || k == "" {
			continue
		}
		if uk, err := url.QueryUnescape(k); err == nil {
			k = uk
		}
		uv, err := url.QueryUnescape(v)
		if err != nil {
			// undecodable value: skip the field, keep the rest
			continue
		}
		if _, dup := pairs[k]; !dup {
			order = append(order, k)
		}
		pairs[k] = uv
	}
	return pairs, order
}
