package station

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/foshk/gateway/internal/protocol"
	"github.com/foshk/gateway/pkg/config"
	"github.com/foshk/gateway/pkg/units"
	"go.uber.org/zap"
)

const (
	maxTries       = 3
	retryBackoff   = 2 * time.Second
	commandTimeout = 3 * time.Second
)

// Client speaks the gateway's TCP command API.  Only one command is in
// flight at a time; rediscovery runs only for auto-discovered stations.
type Client struct {
	mu         sync.Mutex
	addr       string
	mac        string
	model      string
	discovered bool
	logger     *zap.SugaredLogger
}

// NewClient builds a client for a configured or discovered gateway.
func NewClient(cfg config.GatewayData, logger *zap.SugaredLogger) (*Client, error) {
	c := &Client{logger: logger}

	if cfg.IP != "" {
		c.addr = net.JoinHostPort(cfg.IP, strconv.Itoa(cfg.Port))
		return c, nil
	}

	stations, err := Discover()
	if err != nil {
		return nil, err
	}
	active := stations[0]
	for _, s := range stations[1:] {
		logger.Infof("additional gateway found: %s [%s] at %s", s.SSID, s.MAC, s.IP)
	}
	c.addr = net.JoinHostPort(active.IP, strconv.Itoa(active.Port))
	c.mac = active.MAC
	c.model = active.Model
	c.discovered = true
	logger.Infof("using gateway %s [%s] at %s", active.SSID, active.MAC, c.addr)
	return c, nil
}

// Model returns the inferred gateway model, empty when statically configured.
func (c *Client) Model() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.model
}

// Addr returns the gateway's current host:port.
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Command sends one framed command and returns the validated response
// payload.  Each attempt opens a fresh connection.  On exhaustion an
// auto-discovered gateway is rediscovered by MAC and the command retried
// once against the updated address.
func (c *Client) Command(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.exchange(ctx, cmd, payload)
	if err == nil {
		return resp, nil
	}

	if !c.discovered {
		return nil, err
	}

	// The gateway may have moved to a new DHCP lease; match MAC among
	// current responders.
	c.logger.Warnf("gateway at %s unreachable (%v), rediscovering", c.addr, err)
	stations, derr := Discover()
	if derr != nil {
		return nil, fmt.Errorf("station: command failed (%v) and rediscovery failed: %w", err, derr)
	}
	for _, s := range stations {
		if s.MAC == c.mac {
			c.addr = net.JoinHostPort(s.IP, strconv.Itoa(s.Port))
			c.logger.Infof("gateway %s reappeared at %s", c.mac, c.addr)
			return c.exchange(ctx, cmd, payload)
		}
	}
	return nil, fmt.Errorf("station: gateway %s not among rediscovered stations: %w", c.mac, err)
}

// exchange runs the per-attempt retry loop for one command.
func (c *Client) exchange(ctx context.Context, cmd byte, payload []byte) ([]byte, error) {
	frame := protocol.Frame(cmd, payload)

	var lastErr error
	for attempt := 1; attempt <= maxTries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.roundTrip(ctx, cmd, frame)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.Debugf("command 0x%02X attempt %d/%d failed: %v", cmd, attempt, maxTries, err)

		if attempt < maxTries {
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("station: command 0x%02X failed after %d tries: %w", cmd, maxTries, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, cmd byte, frame []byte) ([]byte, error) {
	d := net.Dialer{Timeout: commandTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(commandTimeout))
	if _, err := conn.Write(frame); err != nil {
		return nil, err
	}

	buf := make([]byte, 1024)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return protocol.Unframe(cmd, buf[:n])
}

// LiveData reads and decodes the current sensor values.
func (c *Client) LiveData(ctx context.Context) ([]protocol.Value, error) {
	payload, err := c.Command(ctx, protocol.CmdLiveData, nil)
	if err != nil {
		return nil, err
	}
	values, err := protocol.DecodeLiveData(payload)
	if err != nil {
		// Decoding stops at the first unknown field; the consumed prefix
		// is still usable.
		c.logger.Debugf("live data partially decoded: %v", err)
	}
	return values, nil
}

// SensorIDs reads the sensor registration table.
func (c *Client) SensorIDs(ctx context.Context) ([]protocol.SensorID, error) {
	payload, err := c.Command(ctx, protocol.CmdReadSensorIDNew, nil)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeSensorIDs(payload)
}

// FirmwareVersion reads the firmware version string, e.g. "GW1100A_V2.2.3".
func (c *Client) FirmwareVersion(ctx context.Context) (string, error) {
	payload, err := c.Command(ctx, protocol.CmdReadFirmware, nil)
	if err != nil {
		return "", err
	}
	// payload: length byte + ASCII string
	if len(payload) > 1 && int(payload[0]) <= len(payload)-1 {
		return string(payload[1 : 1+payload[0]]), nil
	}
	return strings.TrimRight(string(payload), "\x00"), nil
}

// SystemParams holds the gateway's system settings from the SSSS read.
type SystemParams struct {
	Frequency  byte // RF band index
	SensorType byte
	UTCTime    time.Time
	Timezone   int8
	DST        bool
}

// ReadSystemParams reads the gateway's clock and radio settings.
func (c *Client) ReadSystemParams(ctx context.Context) (*SystemParams, error) {
	payload, err := c.Command(ctx, protocol.CmdReadSSSS, nil)
	if err != nil {
		return nil, err
	}
	// frequency(1) sensor-type(1) utc(4) timezone(1) dst(1)
	if len(payload) < 8 {
		return nil, protocol.ErrShortFrame
	}
	return &SystemParams{
		Frequency:  payload[0],
		SensorType: payload[1],
		UTCTime:    time.Unix(int64(binary.BigEndian.Uint32(payload[2:6])), 0).UTC(),
		Timezone:   int8(payload[6]),
		DST:        payload[7] != 0,
	}, nil
}

// Reboot asks the gateway to restart itself.
func (c *Client) Reboot(ctx context.Context) error {
	_, err := c.Command(ctx, protocol.CmdWriteReboot, nil)
	return err
}

// CustomServer is the gateway's customised-server push target.
type CustomServer struct {
	Server   string
	Port     int
	Interval int
	// Ecowitt selects the Ecowitt POST protocol; false means Wunderground.
	Ecowitt bool
	Path    string
}

// ReadCustomServer reads the customised-server settings.
func (c *Client) ReadCustomServer(ctx context.Context) (*CustomServer, error) {
	payload, err := c.Command(ctx, protocol.CmdReadCustomized, nil)
	if err != nil {
		return nil, err
	}
	// id-len + id + pwd-len + pwd + server-len + server + port(2) +
	// interval(2) + type(1) + active(1)
	i := 0
	skip := func() error {
		if i >= len(payload) {
			return protocol.ErrShortFrame
		}
		n := int(payload[i])
		i += 1 + n
		return nil
	}
	if err := skip(); err != nil { // station id
		return nil, err
	}
	if err := skip(); err != nil { // station key
		return nil, err
	}
	if i >= len(payload) {
		return nil, protocol.ErrShortFrame
	}
	srvLen := int(payload[i])
	i++
	if i+srvLen+5 > len(payload) {
		return nil, protocol.ErrShortFrame
	}
	cs := &CustomServer{Server: string(payload[i : i+srvLen])}
	i += srvLen
	cs.Port = int(binary.BigEndian.Uint16(payload[i : i+2]))
	cs.Interval = int(binary.BigEndian.Uint16(payload[i+2 : i+4]))
	cs.Ecowitt = payload[i+4] == 0
	return cs, nil
}

// WriteCustomServer points the gateway's push target at the given server,
// which is how the engine wires a statically configured gateway to itself.
func (c *Client) WriteCustomServer(ctx context.Context, cs CustomServer) error {
	var payload []byte
	appendStr := func(s string) {
		payload = append(payload, byte(len(s)))
		payload = append(payload, s...)
	}
	appendStr("") // station id, unused for the customized target
	appendStr("") // station key
	appendStr(cs.Server)
	payload = binary.BigEndian.AppendUint16(payload, uint16(cs.Port))
	payload = binary.BigEndian.AppendUint16(payload, uint16(cs.Interval))
	if cs.Ecowitt {
		payload = append(payload, 0)
	} else {
		payload = append(payload, 1)
	}
	payload = append(payload, 1) // active

	if _, err := c.Command(ctx, protocol.CmdWriteCustomized, payload); err != nil {
		return err
	}
	if cs.Path != "" {
		var pp []byte
		appendPath := func(s string) {
			pp = append(pp, byte(len(s)))
			pp = append(pp, s...)
		}
		appendPath(cs.Path) // Ecowitt path
		appendPath(cs.Path) // WU path
		if _, err := c.Command(ctx, protocol.CmdWriteUsrPath, pp); err != nil {
			return err
		}
	}
	return nil
}

// ReportPairs converts decoded live-data values into the Ecowitt push key
// dialect so that LAN polling and HTTP push feed the normaliser the same
// input shape.
func ReportPairs(values []protocol.Value) (map[string]string, []string) {
	pairs := make(map[string]string, len(values))
	var order []string
	set := func(k, v string) {
		if _, dup := pairs[k]; !dup {
			order = append(order, k)
		}
		pairs[k] = v
	}
	f := func(v float64, dec int) string {
		return strconv.FormatFloat(v, 'f', dec, 64)
	}

	for _, v := range values {
		switch v.Key {
		case "intemp":
			set("tempinf", f(units.Round(units.CToF(v.Num), 1), 1))
		case "outtemp":
			set("tempf", f(units.Round(units.CToF(v.Num), 1), 1))
		case "inhumid":
			set("humidityin", v.Text)
		case "outhumid":
			set("humidity", v.Text)
		case "absbarometer":
			set("baromabsin", f(units.Round(units.HPaToInHg(v.Num), 3), 3))
		case "relbarometer":
			set("baromrelin", f(units.Round(units.HPaToInHg(v.Num), 3), 3))
		case "winddir":
			set("winddir", v.Text)
		case "windspeed":
			set("windspeedmph", f(units.Round(units.KmhToMph(units.MsToKmh(v.Num)), 1), 1))
		case "gustspeed":
			set("windgustmph", f(units.Round(units.KmhToMph(units.MsToKmh(v.Num)), 1), 1))
		case "daymaxwind":
			set("maxdailygust", f(units.Round(units.KmhToMph(units.MsToKmh(v.Num)), 1), 1))
		case "rainrate":
			set("rainratein", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "rainevent":
			set("eventrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "rainhour":
			set("hourlyrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "rainday":
			set("dailyrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "rainweek":
			set("weeklyrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "rainmonth":
			set("monthlyrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "rainyear":
			set("yearlyrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "raintotals":
			set("totalrainin", f(units.Round(units.MmToIn(v.Num), 3), 3))
		case "light":
			// lux back to W/m² for the solarradiation key
			set("solarradiation", f(units.Round(v.Num/126.7, 2), 2))
		case "uvi":
			set("uv", v.Text)
		case "datetime", "uv", "lowbatt":
			// not part of the push dialect
		default:
			set(channelPair(v, f))
		}
	}
	return pairs, order
}

// channelPair rewrites channelised LAN keys into the push dialect.  The
// extra, soil and WH34/WH45 temperatures arrive in °C over the LAN and
// are re-expressed in °F under their push spellings; everything else
// passes through verbatim.
func channelPair(v protocol.Value, f func(float64, int) string) (string, string) {
	degF := func() string { return f(units.Round(units.CToF(v.Num), 1), 1) }
	if n, ok := channelNum(v.Key, "temp"); ok {
		return "temp" + n + "f", degF()
	}
	if n, ok := channelNum(v.Key, "humid"); ok {
		return "humidity" + n, v.Text
	}
	if n, ok := channelNum(v.Key, "soiltemp"); ok {
		return "soiltemp" + n + "f", degF()
	}
	if _, ok := channelNum(v.Key, "tf_ch"); ok {
		return v.Key, degF()
	}
	if v.Key == "tf_co2" {
		return v.Key, degF()
	}
	return v.Key, v.Text
}

// channelNum matches prefix plus a single channel digit, so battery
// suffixes like tf_ch1_batt stay untouched.
func channelNum(key, prefix string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || len(key) != len(prefix)+1 {
		return "", false
	}
	ch := key[len(prefix)]
	if ch < '1' || ch > '8' {
		return "", false
	}
	return string(ch), true
}
