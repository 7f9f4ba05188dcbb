// Package notify fans warning-flag transitions out to the log, the
// Pushover API and the UDP status observer.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/state"
	"github.com/foshk/gateway/pkg/config"
)

const defaultPushoverURL = "https://api.pushover.net/1/messages.json"

// Notifier implements state.Notifier.
type Notifier struct {
	export   config.ExportData
	pushover config.PushoverData
	client   *http.Client
	logger   *zap.SugaredLogger

	mu         sync.Mutex
	pushoverOn bool
	flags      func() map[string]state.Flag
}

// New builds a notifier.  flags supplies the current flag set for the
// periodic status resend; it may be nil until SetFlagSource is called.
func New(export config.ExportData, pushover config.PushoverData, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		export:     export,
		pushover:   pushover,
		client:     &http.Client{Timeout: 8 * time.Second},
		logger:     logger,
		pushoverOn: pushover.Enable,
	}
}

// SetFlagSource wires the engine's flag snapshot for the resend loop.
func (n *Notifier) SetFlagSource(flags func() map[string]state.Flag) {
	n.mu.Lock()
	n.flags = flags
	n.mu.Unlock()
}

// SetPushover toggles push notifications at runtime.
func (n *Notifier) SetPushover(enabled bool) {
	n.mu.Lock()
	n.pushoverOn = enabled
	n.mu.Unlock()
}

// PushoverEnabled reports the runtime toggle state.
func (n *Notifier) PushoverEnabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pushoverOn
}

// FlagTransition logs, pushes and emits the status datagram for one
// transition.
func (n *Notifier) FlagTransition(name string, active bool, reason string) {
	if active {
		n.logger.Warnf("warning %s raised: %s", name, reason)
	} else {
		n.logger.Infof("warning %s cleared: %s", name, reason)
	}

	v := "0"
	if active {
		v = "1"
	}
	n.sendStatus(fmt.Sprintf("%s=%s", state.StatusKey(name), v))
	n.push(name, active, reason)
}

// sendStatus emits one SID-prefixed datagram to the configured observer.
func (n *Notifier) sendStatus(body string) {
	if !n.export.Enable || n.export.TargetIP == "" {
		return
	}
	addr := net.JoinHostPort(n.export.TargetIP, fmt.Sprint(n.export.TargetPort))
	conn, err := net.DialTimeout("udp", addr, 3*time.Second)
	if err != nil {
		n.logger.Errorf("status datagram to %s: %v", addr, err)
		return
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "SID=%s %s", n.export.SID, body); err != nil {
		n.logger.Errorf("status datagram to %s: %v", addr, err)
	}
}

func (n *Notifier) push(name string, active bool, reason string) {
	n.mu.Lock()
	enabled := n.pushoverOn
	n.mu.Unlock()
	if !enabled || n.pushover.Token == "" || n.pushover.User == "" {
		return
	}

	title := "warning " + name
	if active {
		title += " raised"
	} else {
		title += " cleared"
	}
	form := url.Values{
		"token":   {n.pushover.Token},
		"user":    {n.pushover.User},
		"title":   {title},
		"message": {reason},
	}
	endpoint := n.pushover.URL
	if endpoint == "" {
		endpoint = defaultPushoverURL
	}
	resp, err := n.client.PostForm(endpoint, form)
	if err != nil {
		n.logger.Errorf("pushover: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Errorf("pushover: status %d", resp.StatusCode)
	}
}

// RunStatusResend re-announces the full flag set to the UDP observer on
// the configured cadence so a restarted observer converges.
func (n *Notifier) RunStatusResend(ctx context.Context, wg *sync.WaitGroup) {
	if n.export.StatResend <= 0 || !n.export.Enable {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Duration(n.export.StatResend) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.mu.Lock()
				src := n.flags
				n.mu.Unlock()
				if src == nil {
					continue
				}
				keys, fields := state.StatusFields(src())
				parts := make([]string, 0, len(keys))
				for _, k := range keys {
					parts = append(parts, k+"="+fields[k])
				}
				n.sendStatus(strings.Join(parts, " "))
			}
		}
	}()
}
