package control

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

// RunUDP answers the command set on the LBU_PORT datagram socket.  Each
// datagram carries one command; the reply goes back to the sender.
func (h *Handler) RunUDP(ctx context.Context, wg *sync.WaitGroup, bindIP string, port int) error {
	if port == 0 {
		return nil
	}
	if bindIP == "" {
		bindIP = "0.0.0.0"
	}
	conn, err := net.ListenPacket("udp", net.JoinHostPort(bindIP, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("udp control listener: %w", err)
	}
	h.logger.Infof("listening for control datagrams on %s", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 512)
		for {
			n, raddr, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.logger.Errorf("udp control read: %v", err)
				continue
			}
			reply := h.udpCommand(strings.TrimSpace(string(buf[:n])), raddr.String())
			if _, err := conn.WriteTo([]byte(reply), raddr); err != nil {
				h.logger.Errorf("udp control reply to %s: %v", raddr, err)
			}
		}
	}()
	return nil
}

// udpCommand evaluates one datagram command.  The optional "Plugin."
// prefix of the original dialect is accepted.
func (h *Handler) udpCommand(cmd, from string) string {
	cmd = strings.TrimPrefix(cmd, "Plugin.")

	if name, val, ok := strings.Cut(cmd, "="); ok && !strings.HasPrefix(cmd, "getvalue") {
		if _, err := h.applyToggle(name, val); err != nil {
			return err.Error() + "\n"
		}
		h.logger.Infof("control: %s=%s by %s", name, val, from)
		return name + "=" + val + "\n"
	}

	switch {
	case cmd == "state":
		return "running\n"
	case cmd == "status":
		return renderLines(h.statusFields())
	case cmd == "minmax":
		return renderLines(h.minmaxFields())
	case strings.HasPrefix(cmd, "getvalue "):
		key := strings.TrimSpace(strings.TrimPrefix(cmd, "getvalue "))
		obs := h.engine.Latest()
		if obs == nil {
			return "no observation yet\n"
		}
		f, ok := obs.Imperial[key]
		if !ok {
			f, ok = obs.Metric[key]
		}
		if !ok {
			return "unknown key " + key + "\n"
		}
		return key + " = " + f.Text + "\n"
	}
	return "unknown command " + cmd + "\n"
}

func renderLines(fields []field) string {
	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "%s = %s\n", f.key, f.val)
	}
	return b.String()
}
