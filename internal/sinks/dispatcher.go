package sinks

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

const (
	httpTries     = 3
	httpSleepBase = 5 * time.Second
	execTimeout   = 15 * time.Second
)

// permanentError marks failures that must not be retried, 4xx above all.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the dispatcher stops retrying it.
func Permanent(err error) error { return &permanentError{err: err} }

// Deps carries the shared collaborators sink constructors need.
type Deps struct {
	Export config.ExportData
	// IgnoreEmpty drops sentinel-empty pairs from raw pass-through
	// payloads; the canonical views are scrubbed by the normaliser.
	IgnoreEmpty bool
	// Flags supplies the warning set for sinks sending FWD_STATUS fields.
	Flags func() map[string]state.Flag
	// Daily supplies the day's extremes for sinks sending UDP_MINMAX fields.
	Daily  func() state.Daily
	Logger *zap.SugaredLogger
}

func (d Deps) statusPairs() []pair {
	if d.Flags == nil {
		return nil
	}
	keys, fields := state.StatusFields(d.Flags())
	out := make([]pair, 0, len(keys))
	for _, k := range keys {
		out = append(out, pair{k, fields[k]})
	}
	return out
}

// Dispatcher fans observations out to one worker per enabled sink.
type Dispatcher struct {
	workers []*worker
	logger  *zap.SugaredLogger
}

// NewDispatcher builds sinks for every enabled forward and starts their
// workers.  A sink whose configuration is unusable is skipped with an
// error log; the rest keep running.
func NewDispatcher(ctx context.Context, wg *sync.WaitGroup, cfgs []config.SinkData, deps Deps) *Dispatcher {
	d := &Dispatcher{logger: deps.Logger}
	for _, sc := range cfgs {
		if !sc.Enable {
			continue
		}
		sink, err := build(sc, deps)
		if err != nil {
			deps.Logger.Errorf("sink %s (%s): %v; disabled for this session", sc.ID, sc.Type, err)
			continue
		}
		w := newWorker(sc, sink, deps.Logger)
		d.workers = append(d.workers, w)
		w.run(ctx, wg)
	}
	return d
}

// Dispatch offers an observation to every worker without blocking.
func (d *Dispatcher) Dispatch(obs *types.Observation) {
	for _, w := range d.workers {
		w.queue.push(obs)
	}
}

// worker owns one sink's schedule, queue and retry state.
type worker struct {
	cfg      config.SinkData
	sink     Sink
	queue    *obsQueue
	lastSent time.Time
	logger   *zap.SugaredLogger

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

func newWorker(cfg config.SinkData, sink Sink, logger *zap.SugaredLogger) *worker {
	return &worker{
		cfg:    cfg,
		sink:   sink,
		queue:  newObsQueue(),
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

func (w *worker) run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			obs, ok := w.queue.pop(ctx)
			if !ok {
				return
			}
			w.handle(ctx, obs)
		}
	}()
}

// handle applies interval gating, the exec hook and the retry loop for
// one observation.
func (w *worker) handle(ctx context.Context, obs *types.Observation) {
	now := w.now()
	if !w.lastSent.IsZero() && now.Before(w.lastSent.Add(time.Duration(w.cfg.Interval)*time.Second)) {
		return
	}

	payload, err := w.sink.Build(obs)
	if err != nil {
		w.logger.Errorf("sink %s: build: %v", w.cfg.ID, err)
		return
	}
	if w.cfg.Exec != "" {
		payload = w.execHook(ctx, payload)
	}

	if err := w.deliver(ctx, payload); err != nil {
		w.logger.Errorf("sink %s: %v", w.cfg.ID, err)
		return
	}
	w.lastSent = now
}

func (w *worker) deliver(ctx context.Context, payload string) error {
	var lastErr error
	for attempt := 1; attempt <= httpTries; attempt++ {
		if attempt > 1 {
			w.sleep(httpSleepBase * time.Duration(attempt-1))
		}
		err := w.sink.Send(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// execHook pipes the payload through the external transform.  The last
// non-empty stdout line wins; any failure leaves the payload unchanged.
func (w *worker) execHook(ctx context.Context, payload string) string {
	cctx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, w.cfg.Exec, payload)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		w.logger.Warnf("sink %s: exec %s: %v", w.cfg.ID, w.cfg.Exec, err)
		return payload
	}
	out := payload
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			out = line
		}
	}
	return out
}

// obsQueue is an unbounded FIFO; push never blocks.
type obsQueue struct {
	mu     sync.Mutex
	items  []*types.Observation
	signal chan struct{}
}

func newObsQueue() *obsQueue {
	return &obsQueue{signal: make(chan struct{}, 1)}
}

func (q *obsQueue) push(obs *types.Observation) {
	q.mu.Lock()
	q.items = append(q.items, obs)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *obsQueue) pop(ctx context.Context) (*types.Observation, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			obs := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				select {
				case q.signal <- struct{}{}:
				default:
				}
			}
			return obs, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, false
		case <-q.signal:
		}
	}
}
