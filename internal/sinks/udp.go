package sinks

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/foshk/gateway/internal/types"
)

// udpSink sends SID-prefixed datagrams, fragmenting at the configured
// maximum length.
type udpSink struct {
	addr    string
	sid     string
	maxLen  int
	builder func(*types.Observation) (string, error)
}

func (s *udpSink) Build(obs *types.Observation) (string, error) {
	return s.builder(obs)
}

func (s *udpSink) Send(ctx context.Context, payload string) error {
	conn, err := net.DialTimeout("udp", s.addr, 3*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	for _, frag := range Fragment(s.sid, payload, s.maxLen) {
		if _, err := fmt.Fprint(conn, frag); err != nil {
			return err
		}
	}
	return nil
}

// parseUDPAddr accepts host:port or a udp:// URL.
func parseUDPAddr(raw string) (string, error) {
	raw = strings.TrimPrefix(raw, "udp://")
	host, port, err := net.SplitHostPort(raw)
	if err != nil {
		return "", fmt.Errorf("udp target %q: %w", raw, err)
	}
	return net.JoinHostPort(host, port), nil
}
