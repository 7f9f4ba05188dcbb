package config

import "time"

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// Get specific configuration sections
	GetGateway() (*GatewayData, error)
	GetSinks() ([]SinkData, error)

	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure consumed by
// the engine.  Field names mirror the configuration-key surface; the file
// format behind them is the provider's business.
type ConfigData struct {
	Gateway      GatewayData
	Server       ServerData
	Export       ExportData
	Policy       PolicyData
	Warnings     WarningData
	Sinks        []SinkData
	Logging      LoggingData
	Update       UpdateData
	Capabilities CapabilityData
	Pushover     PushoverData
	CSV          CSVData
	Persistence  PersistenceData
}

// GatewayData holds the LAN weather-station connection settings
// (WS_IP, WS_PORT, WS_INTERVAL).
type GatewayData struct {
	IP string
	// Port the gateway's command API listens on; 45000 for the GW1000 class.
	Port int
	// Interval is the send interval in seconds the gateway is configured to
	// push observations at.  Windows and watchdog thresholds are sized off it.
	Interval int
	// Discovered is set by the engine when IP was found via broadcast rather
	// than configured; only auto-discovered stations are rediscovered.
	Discovered bool
	// Poll selects active LAN polling of live data.  When false the engine
	// programs the gateway's customised server to push at the HTTP ingest.
	Poll bool
}

// ServerData holds the engine's own listen addresses (LB_IP, LBH_PORT,
// LBU_PORT).
type ServerData struct {
	BindIP   string
	HTTPPort int
	UDPPort  int
}

// ExportData holds the UDP egress settings (LOX_IP, LOX_PORT, UDP_*).
type ExportData struct {
	TargetIP     string
	TargetPort   int
	Enable       bool
	MinMax       bool
	StatResend   int
	MaxLen       int
	SID          string
	MetricSystem bool // USE_METRIC
	LoxTime      bool // LOX_TIME
}

// PolicyData holds normalisation policy switches.
type PolicyData struct {
	IgnoreEmpty  bool   // IGNORE_EMPTY
	OutTime      bool   // OUT_TIME: stamp receipt time into dateutc
	OutTemp      string // OUT_TEMP: indoor key standing in for outdoor temperature
	OutHum       string // OUT_HUM: indoor key standing in for outdoor humidity
	FixLightning bool   // FIX_LIGHTNING
	AddItems     string // ADD_ITEMS: extra k=v pairs appended to every record
	EvalValues   bool   // EVAL_VALUES
	Language     string // LANGUAGE
	Latitude     float64
	Longitude    float64
	// AltitudeM is the station altitude in meters, used for cloud-base height.
	AltitudeM float64
}

// WarningData holds the warning state-machine configuration.
type WarningData struct {
	WatchdogWarning  bool    // WSDOG_WARNING
	WatchdogInterval int     // WSDOG_INTERVAL: missed send intervals before station_silent
	WatchdogRestart  int     // WSDOG_RESTART: further intervals before restart signal; 0 disables
	StormWarning     bool    // STORM_WARNING
	StormDiff1h      float64 // STORM_WARNDIFF, hPa
	StormDiff3h      float64 // STORM_WARNDIFF3H, hPa
	StormExpire      int     // STORM_EXPIRE, minutes
	SensorWarning    bool    // SENSOR_WARNING
	SensorMandatory  []string
	TstormWarning    bool    // TSTORM_WARNING
	TstormCount      int     // TSTORM_WARNCOUNT
	TstormDistKM     float64 // TSTORM_WARNDIST
	TstormExpire     int     // TSTORM_EXPIRE, minutes
	BatteryWarning   bool
	LeakWarning      bool
	CO2Warning       bool
	CO2Level         float64 // CO2_WARNLEVEL, ppm
}

// SinkData holds one configured forward (one FWD_* block).
type SinkData struct {
	ID       string
	Enable   bool
	Type     string // one of the sink-type set, e.g. WU, EW, UDP, MQTTMET, INFLUXMET...
	URL      string
	Interval int // seconds between deliveries
	SID      string
	Password string
	Ignore   []string // keys removed before serialisation
	Status   bool     // FWD_STATUS: include warning-flag fields
	Exec     string   // FWD_EXEC: external transform hook
	// MQTTCycle is the full-publish cadence in minutes for MQTT sinks, which
	// otherwise publish changed topics only.
	MQTTCycle int
	// Extra holds FWD_ADD static tags/fields appended to every delivery.
	Extra map[string]string
	// MinMax appends the daily extremes to the payload; set on the Loxone
	// UDP egress when UDP_MINMAX is configured.
	MinMax bool
}

// LoggingData holds LOG_* settings.
type LoggingData struct {
	Enable bool
	File   string
	Level  string   // ERROR, WARNING, INFO, ALL
	Ignore []string // keys scrubbed from logged raw bodies
}

// UpdateData holds firmware update-check settings (UPD_*).
type UpdateData struct {
	Check    bool
	URL      string
	Interval int // seconds
}

// CapabilityData gates the destructive control-plane operations.
type CapabilityData struct {
	RebootEnable  bool
	RestartEnable bool
	AuthPassword  string // AUTH_PWD shared secret on the ingest endpoints
}

// PushoverData holds the push-notification settings (PO_*).
type PushoverData struct {
	Enable bool
	URL    string
	Token  string
	User   string
}

// CSVData holds the daily CSV snapshot settings.
type CSVData struct {
	DayFile string // CSV_DAYFILE
}

// PersistenceData holds the crash-recovery snapshot settings.
type PersistenceData struct {
	Path string // sqlite file, empty disables persistence
	// MaxAge is how old a snapshot may be and still be restored.
	MaxAge time.Duration
}

// ApplyDefaults fills unset values with the engine defaults.
func (c *ConfigData) ApplyDefaults() {
	if c.Gateway.Port == 0 {
		c.Gateway.Port = 45000
	}
	if c.Gateway.Interval == 0 {
		c.Gateway.Interval = 60
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Export.MaxLen == 0 {
		c.Export.MaxLen = 2000
	}
	if c.Export.SID == "" {
		c.Export.SID = "FOSHKweather"
	}
	if c.Warnings.StormDiff1h == 0 {
		c.Warnings.StormDiff1h = 1.75
	}
	if c.Warnings.StormDiff3h == 0 {
		c.Warnings.StormDiff3h = 3.75
	}
	if c.Warnings.StormExpire == 0 {
		c.Warnings.StormExpire = 60
	}
	if c.Warnings.WatchdogInterval == 0 {
		c.Warnings.WatchdogInterval = 3
	}
	if c.Warnings.TstormCount == 0 {
		c.Warnings.TstormCount = 1
	}
	if c.Warnings.TstormDistKM == 0 {
		c.Warnings.TstormDistKM = 30
	}
	if c.Warnings.TstormExpire == 0 {
		c.Warnings.TstormExpire = 30
	}
	if c.Warnings.CO2Level == 0 {
		c.Warnings.CO2Level = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	if c.Update.Interval == 0 {
		c.Update.Interval = 86400
	}
	if c.Update.URL == "" {
		c.Update.URL = "http://foshkplugin.phantasoft.de/generic/updates.txt"
	}
	if c.Persistence.MaxAge == 0 {
		c.Persistence.MaxAge = 10 * time.Minute
	}
	for i := range c.Sinks {
		if c.Sinks[i].Interval == 0 {
			c.Sinks[i].Interval = c.Gateway.Interval
		}
		if c.Sinks[i].SID == "" {
			c.Sinks[i].SID = c.Export.SID
		}
	}
}
