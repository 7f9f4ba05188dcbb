// Package app wires the gateway engine together: station input, the
// normaliser, the warning engine, the sink dispatcher and the control
// plane, with a two-phase graceful shutdown.
package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/control"
	"github.com/foshk/gateway/internal/ingest"
	"github.com/foshk/gateway/internal/log"
	"github.com/foshk/gateway/internal/normalize"
	"github.com/foshk/gateway/internal/notify"
	"github.com/foshk/gateway/internal/persist"
	"github.com/foshk/gateway/internal/sinks"
	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/internal/station"
	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

// App represents the main application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// periodics stop first during shutdown, the rest drains after
	periodicCtx, cancelPeriodics := context.WithCancel(ctx)
	defer cancelPeriodics()

	notifier := notify.New(cfg.Export, cfg.Pushover, a.logger)
	engine := state.New(cfg, notifier, a.logger)
	notifier.SetFlagSource(engine.Flags)

	var store *persist.Store
	if cfg.Persistence.Path != "" {
		store, err = persist.Open(cfg.Persistence.Path, a.logger)
		if err != nil {
			return err
		}
		defer store.Close()
		persist.Restore(store, engine, cfg.Persistence.MaxAge, a.logger)
	}

	client := a.connectStation(ctx, cfg, engine)

	queue := ingest.NewQueue()
	router := mux.NewRouter()
	server := ingest.NewServer(ctx, &wg, cfg.Server, cfg.Capabilities, cfg.Logging, queue, router, a.logger)

	var rebooter control.Rebooter
	if client != nil {
		rebooter = client
	}
	restartRequested := make(chan struct{}, 1)
	ctrl := control.New(router, engine, notifier, cfg.Capabilities, rebooter, func() {
		select {
		case restartRequested <- struct{}{}:
		default:
		}
	}, a.logger)

	if err := server.Start(); err != nil {
		return err
	}
	if err := ctrl.RunUDP(ctx, &wg, cfg.Server.BindIP, cfg.Server.UDPPort); err != nil {
		return err
	}

	dispatcher := sinks.NewDispatcher(ctx, &wg, sinkConfigs(cfg), sinks.Deps{
		Export:      cfg.Export,
		IgnoreEmpty: cfg.Policy.IgnoreEmpty,
		Flags:       engine.Flags,
		Daily:       engine.DailySnapshot,
		Logger:      a.logger,
	})

	norm := normalize.New(cfg.Policy, a.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			raw, ok := queue.Pop(ctx)
			if !ok {
				return
			}
			obs := norm.Normalize(raw)
			engine.Advance(obs)
			dispatcher.Dispatch(obs)
		}
	}()

	if client != nil && cfg.Gateway.Poll {
		a.runPoller(periodicCtx, &wg, cfg, client, queue)
	}
	engine.RunWatchdog(periodicCtx, &wg)
	notifier.RunStatusResend(periodicCtx, &wg)
	state.NewUpdateChecker(cfg.Update, engine, a.logger).Run(periodicCtx, &wg)
	a.handleRestarts(periodicCtx, &wg, engine, client)

	log.Info("gateway started successfully")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-restartRequested:
		log.Info("restart requested, shutting down for supervisor restart...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// a second signal skips the drain and exits immediately
	go func() {
		<-sigs
		log.Error("second shutdown signal, terminating now")
		os.Exit(1)
	}()

	cancelPeriodics()
	a.drainQueue(queue, time.Duration(cfg.Gateway.Interval)*time.Second)
	cancel()
	server.Stop()

	log.Info("waiting for all workers to terminate...")
	wg.Wait()

	if store != nil {
		if err := store.SaveSnapshot(engine.Snapshot()); err != nil {
			log.Errorf("saving snapshot: %v", err)
		}
	}
	log.Info("shutdown complete")
	return nil
}

// connectStation brings the LAN client up and, unless polling, points
// the gateway's push target at the HTTP ingest.  A missing station is
// not fatal: push ingest keeps working without LAN access.
func (a *App) connectStation(ctx context.Context, cfg *config.ConfigData, engine *state.Engine) *station.Client {
	client, err := station.NewClient(cfg.Gateway, a.logger)
	if err != nil {
		a.logger.Warnf("station unavailable, continuing with push ingest only: %v", err)
		return nil
	}

	if fw, err := client.FirmwareVersion(ctx); err == nil {
		engine.SetIdentity(client.Model(), fw)
	}
	if sp, err := client.ReadSystemParams(ctx); err == nil {
		if drift := time.Since(sp.UTCTime); drift > time.Minute || drift < -time.Minute {
			a.logger.Warnf("gateway clock is off by %s", drift.Round(time.Second))
		}
	}

	if !cfg.Gateway.Poll {
		a.programPushTarget(ctx, cfg, client)
	}
	return client
}

// programPushTarget rewrites the gateway's customised-server settings
// when they do not already point at this engine.
func (a *App) programPushTarget(ctx context.Context, cfg *config.ConfigData, client *station.Client) {
	local, err := localIPToward(client.Addr())
	if err != nil {
		a.logger.Warnf("cannot determine local address toward gateway: %v", err)
		return
	}
	want := station.CustomServer{
		Server:   local,
		Port:     cfg.Server.HTTPPort,
		Interval: cfg.Gateway.Interval,
		Ecowitt:  true,
		Path:     "/data/report/",
	}

	cur, err := client.ReadCustomServer(ctx)
	if err != nil {
		a.logger.Warnf("reading gateway push target: %v", err)
		return
	}
	if cur.Server == want.Server && cur.Port == want.Port && cur.Ecowitt {
		a.logger.Debugf("gateway already pushes to %s:%d", cur.Server, cur.Port)
		return
	}
	if err := client.WriteCustomServer(ctx, want); err != nil {
		a.logger.Errorf("programming gateway push target: %v", err)
		return
	}
	a.logger.Infof("gateway push target set to %s:%d every %ds", want.Server, want.Port, want.Interval)
}

// localIPToward returns the local IP the OS would use to reach addr.
func localIPToward(addr string) (string, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	return host, err
}

// runPoller polls live data over the LAN at the send interval and feeds
// it into the same queue as push reports.
func (a *App) runPoller(ctx context.Context, wg *sync.WaitGroup, cfg *config.ConfigData, client *station.Client, queue *ingest.Queue) {
	interval := time.Duration(cfg.Gateway.Interval) * time.Second
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				values, err := client.LiveData(ctx)
				if err != nil {
					a.logger.Errorf("polling live data: %v", err)
					continue
				}
				pairs, order := station.ReportPairs(values)
				if model := client.Model(); model != "" {
					pairs["model"] = model
					order = append(order, "model")
				}
				queue.Push(types.RawReport{
					Received: time.Now(),
					Source:   "lan",
					Pairs:    pairs,
					Order:    order,
				})
			}
		}
	}()
}

// handleRestarts reboots the station when the watchdog escalates past
// the silence warning.
func (a *App) handleRestarts(ctx context.Context, wg *sync.WaitGroup, engine *state.Engine, client *station.Client) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-engine.Restart():
				if client == nil {
					a.logger.Error("station restart requested but no LAN station configured")
					continue
				}
				rctx, rcancel := context.WithTimeout(ctx, 10*time.Second)
				err := client.Reboot(rctx)
				rcancel()
				if err != nil {
					a.logger.Errorf("rebooting silent station: %v", err)
				} else {
					a.logger.Warnf("silent station rebooted")
				}
			}
		}
	}()
}

// sinkConfigs returns the configured forwards plus, when UDP_ENABLE is
// set, a synthesized UDP sink at the Loxone target.
func sinkConfigs(cfg *config.ConfigData) []config.SinkData {
	out := cfg.Sinks
	if cfg.Export.Enable && cfg.Export.TargetIP != "" {
		out = append([]config.SinkData{{
			ID:       "loxone",
			Enable:   true,
			Type:     "UDP",
			URL:      net.JoinHostPort(cfg.Export.TargetIP, strconv.Itoa(cfg.Export.TargetPort)),
			Interval: cfg.Gateway.Interval,
			SID:      cfg.Export.SID,
			Status:   true,
			MinMax:   cfg.Export.MinMax,
		}}, out...)
	}
	return out
}

// drainQueue waits for the normaliser to empty the ingest queue, at
// most one send interval.
func (a *App) drainQueue(queue *ingest.Queue, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for queue.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}
	if n := queue.Len(); n > 0 {
		a.logger.Warnf("abandoning %d undelivered observations", n)
	}
}
