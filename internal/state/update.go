package state

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/pkg/config"
)

// UpdateChecker periodically fetches the firmware manifest and raises
// the firmware_update flag when the published version for the running
// model is newer.
type UpdateChecker struct {
	cfg    config.UpdateData
	engine *Engine
	client *http.Client
	logger *zap.SugaredLogger
}

// NewUpdateChecker wires an update checker to the engine.
func NewUpdateChecker(cfg config.UpdateData, engine *Engine, logger *zap.SugaredLogger) *UpdateChecker {
	return &UpdateChecker{
		cfg:    cfg,
		engine: engine,
		client: &http.Client{Timeout: 8 * time.Second},
		logger: logger,
	}
}

// Run checks immediately and then on the configured interval.
func (u *UpdateChecker) Run(ctx context.Context, wg *sync.WaitGroup) {
	if !u.cfg.Check || u.cfg.URL == "" {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		u.check(ctx)
		ticker := time.NewTicker(time.Duration(u.cfg.Interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				u.check(ctx)
			}
		}
	}()
}

func (u *UpdateChecker) check(ctx context.Context) {
	model, running := u.engine.Firmware()
	if model == "" || running == "" {
		return
	}

	manifest, err := u.fetch(ctx)
	if err != nil {
		u.logger.Warnf("firmware manifest fetch: %v", err)
		return
	}

	remote, notes, ok := lookupModel(manifest, model)
	if !ok {
		u.logger.Debugf("no firmware manifest entry for %s", model)
		return
	}

	if versionNumber(remote) > versionNumber(running) {
		reason := fmt.Sprintf("firmware %s available for %s (running %s)", remote, model, running)
		if notes != "" {
			u.logger.Infof("%s: %s", reason, notes)
		} else {
			u.logger.Infof("%s", reason)
		}
		u.engine.SetFirmwareUpdate(true, reason)
	} else {
		u.engine.SetFirmwareUpdate(false, "")
	}
}

func (u *UpdateChecker) fetch(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch: status %d", resp.StatusCode)
	}
	return parseManifest(resp.Body), nil
}

// parseManifest reads key=value lines, skipping blanks and comments.
func parseManifest(r io.Reader) map[string]string {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}

// lookupModel finds the manifest entry for a model, falling back to the
// model name with its hardware-revision suffix letter stripped.
func lookupModel(manifest map[string]string, model string) (version, notes string, ok bool) {
	candidates := []string{model}
	trimmed := strings.TrimRight(model, "ABCDEF")
	if trimmed != model && trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	for _, c := range candidates {
		if v, found := manifest[c]; found {
			return v, manifest[c+"_NOTES"], true
		}
	}
	return "", "", false
}

// versionNumber turns a firmware string like V2.2.3 into a comparable
// integer by keeping only the digits.
func versionNumber(v string) int {
	n := 0
	for _, r := range v {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	return n
}
