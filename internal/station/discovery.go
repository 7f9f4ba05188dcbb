// Package station implements the LAN client for GW1000/GW1100-class
// gateways: UDP broadcast discovery and the framed TCP command API with
// retries and rediscovery.
package station

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/foshk/gateway/internal/protocol"
)

const (
	broadcastAddr  = "255.255.255.255:46000"
	broadcastTries = 3
	broadcastWait  = 2 * time.Second
)

// ErrNoStationFound is returned when no gateway answered any discovery probe.
var ErrNoStationFound = errors.New("station: no gateway found on the LAN")

// knownModels is the model set inferred from the broadcast SSID by
// substring match.
var knownModels = []string{"GW1000", "GW1100", "GW1200", "GW2000", "WH2650", "WN1900"}

// Info describes one discovered gateway.
type Info struct {
	MAC   string
	IP    string
	Port  int
	SSID  string
	Model string
}

// decodeBroadcast parses a discovery response payload:
// MAC (6) + IP (4) + port (2, big-endian) + SSID length (1) + SSID.
func decodeBroadcast(payload []byte) (Info, error) {
	if len(payload) < 13 {
		return Info{}, fmt.Errorf("%w: broadcast payload %d bytes", protocol.ErrShortFrame, len(payload))
	}
	mac := payload[0:6]
	ip := net.IPv4(payload[6], payload[7], payload[8], payload[9])
	port := int(binary.BigEndian.Uint16(payload[10:12]))
	ssidLen := int(payload[12])
	if 13+ssidLen > len(payload) {
		ssidLen = len(payload) - 13
	}
	ssid := strings.TrimRight(string(payload[13:13+ssidLen]), "\x00 ")

	info := Info{
		MAC:  fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5]),
		IP:   ip.String(),
		Port: port,
		SSID: ssid,
	}
	info.Model = inferModel(ssid)
	return info, nil
}

// inferModel matches the SSID against the known-models set.  An empty
// result means the responder is not a supported gateway.
func inferModel(ssid string) string {
	for _, m := range knownModels {
		if strings.Contains(ssid, m) {
			return m
		}
	}
	return ""
}

// Discover broadcasts the discovery command and collects responses for up
// to broadcastTries probes of broadcastWait each.  Responders whose SSID
// does not match a known model are ignored.  The returned list preserves
// arrival order; the first entry becomes the active station.
func Discover() ([]Info, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
	if err != nil {
		return nil, fmt.Errorf("station: binding discovery socket: %w", err)
	}
	defer conn.Close()

	dest, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		return nil, err
	}

	probe := protocol.Frame(protocol.CmdBroadcast, nil)
	var found []Info
	seen := make(map[string]bool)

	for try := 0; try < broadcastTries; try++ {
		if _, err := conn.WriteToUDP(probe, dest); err != nil {
			return nil, fmt.Errorf("station: sending broadcast: %w", err)
		}

		deadline := time.Now().Add(broadcastWait)
		conn.SetReadDeadline(deadline)
		buf := make([]byte, 1024)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				break // deadline reached, next probe
			}
			payload, err := protocol.Unframe(protocol.CmdBroadcast, buf[:n])
			if err != nil {
				continue
			}
			info, err := decodeBroadcast(payload)
			if err != nil || info.Model == "" || seen[info.MAC] {
				continue
			}
			seen[info.MAC] = true
			found = append(found, info)
		}

		if len(found) > 0 {
			break
		}
	}

	if len(found) == 0 {
		return nil, ErrNoStationFound
	}
	return found, nil
}
