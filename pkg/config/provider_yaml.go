package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
	config   *ConfigData
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// yamlConfig mirrors ConfigData with YAML tags and flat string-friendly
// types for the list-valued keys.
type yamlConfig struct {
	Gateway struct {
		IP       string `yaml:"ws_ip,omitempty"`
		Port     int    `yaml:"ws_port,omitempty"`
		Interval int    `yaml:"ws_interval,omitempty"`
		Poll     bool   `yaml:"ws_poll,omitempty"`
	} `yaml:"gateway"`
	Server struct {
		BindIP   string `yaml:"lb_ip,omitempty"`
		HTTPPort int    `yaml:"lbh_port,omitempty"`
		UDPPort  int    `yaml:"lbu_port,omitempty"`
	} `yaml:"server"`
	Export struct {
		TargetIP   string `yaml:"lox_ip,omitempty"`
		TargetPort int    `yaml:"lox_port,omitempty"`
		Enable     bool   `yaml:"udp_enable,omitempty"`
		MinMax     bool   `yaml:"udp_minmax,omitempty"`
		StatResend int    `yaml:"udp_statresend,omitempty"`
		MaxLen     int    `yaml:"udp_maxlen,omitempty"`
		SID        string `yaml:"def_sid,omitempty"`
		UseMetric  bool   `yaml:"use_metric,omitempty"`
		LoxTime    bool   `yaml:"lox_time,omitempty"`
	} `yaml:"export"`
	Policy struct {
		IgnoreEmpty  bool    `yaml:"ignore_empty,omitempty"`
		OutTime      bool    `yaml:"out_time,omitempty"`
		OutTemp      string  `yaml:"out_temp,omitempty"`
		OutHum       string  `yaml:"out_hum,omitempty"`
		FixLightning bool    `yaml:"fix_lightning,omitempty"`
		AddItems     string  `yaml:"add_items,omitempty"`
		EvalValues   bool    `yaml:"eval_values,omitempty"`
		Language     string  `yaml:"language,omitempty"`
		Latitude     float64 `yaml:"lat,omitempty"`
		Longitude    float64 `yaml:"lon,omitempty"`
		Altitude     float64 `yaml:"alt,omitempty"`
	} `yaml:"policy"`
	Warnings struct {
		WatchdogWarning  bool    `yaml:"wsdog_warning,omitempty"`
		WatchdogInterval int     `yaml:"wsdog_interval,omitempty"`
		WatchdogRestart  int     `yaml:"wsdog_restart,omitempty"`
		StormWarning     bool    `yaml:"storm_warning,omitempty"`
		StormDiff1h      float64 `yaml:"storm_warndiff,omitempty"`
		StormDiff3h      float64 `yaml:"storm_warndiff3h,omitempty"`
		StormExpire      int     `yaml:"storm_expire,omitempty"`
		SensorWarning    bool    `yaml:"sensor_warning,omitempty"`
		SensorMandatory  string  `yaml:"sensor_mandatory,omitempty"`
		TstormWarning    bool    `yaml:"tstorm_warning,omitempty"`
		TstormCount      int     `yaml:"tstorm_warncount,omitempty"`
		TstormDist       float64 `yaml:"tstorm_warndist,omitempty"`
		TstormExpire     int     `yaml:"tstorm_expire,omitempty"`
		BatteryWarning   bool    `yaml:"battery_warning,omitempty"`
		LeakWarning      bool    `yaml:"leakage_warning,omitempty"`
		CO2Warning       bool    `yaml:"co2_warning,omitempty"`
		CO2Level         float64 `yaml:"co2_warnlevel,omitempty"`
	} `yaml:"warnings"`
	Sinks []struct {
		ID        string            `yaml:"id,omitempty"`
		Enable    bool              `yaml:"fwd_enable"`
		Type      string            `yaml:"fwd_type"`
		URL       string            `yaml:"fwd_url,omitempty"`
		Interval  int               `yaml:"fwd_interval,omitempty"`
		SID       string            `yaml:"fwd_sid,omitempty"`
		Password  string            `yaml:"fwd_pwd,omitempty"`
		Ignore    string            `yaml:"fwd_ignore,omitempty"`
		Status    bool              `yaml:"fwd_status,omitempty"`
		Exec      string            `yaml:"fwd_exec,omitempty"`
		MQTTCycle int               `yaml:"fwd_mqttcycle,omitempty"`
		Extra     map[string]string `yaml:"fwd_add,omitempty"`
	} `yaml:"forwards,omitempty"`
	Logging struct {
		Enable bool   `yaml:"log_enable,omitempty"`
		File   string `yaml:"log_file,omitempty"`
		Level  string `yaml:"log_level,omitempty"`
		Ignore string `yaml:"log_ignore,omitempty"`
	} `yaml:"logging"`
	Update struct {
		Check    bool   `yaml:"upd_check,omitempty"`
		URL      string `yaml:"upd_url,omitempty"`
		Interval int    `yaml:"upd_interval,omitempty"`
	} `yaml:"update"`
	Capabilities struct {
		RebootEnable  bool   `yaml:"reboot_enable,omitempty"`
		RestartEnable bool   `yaml:"restart_enable,omitempty"`
		AuthPassword  string `yaml:"auth_pwd,omitempty"`
	} `yaml:"capabilities"`
	Pushover struct {
		Enable bool   `yaml:"po_enable,omitempty"`
		URL    string `yaml:"po_url,omitempty"`
		Token  string `yaml:"po_token,omitempty"`
		User   string `yaml:"po_user,omitempty"`
	} `yaml:"pushover"`
	CSV struct {
		DayFile string `yaml:"csv_dayfile,omitempty"`
	} `yaml:"csv"`
	Persistence struct {
		Path      string `yaml:"path,omitempty"`
		MaxAgeSec int    `yaml:"max_age_seconds,omitempty"`
	} `yaml:"persistence"`
}

// LoadConfig loads the complete configuration from the YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(cfgFile, &yc); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", y.filename, err)
	}

	config := &ConfigData{
		Gateway: GatewayData{
			IP:       yc.Gateway.IP,
			Port:     yc.Gateway.Port,
			Interval: yc.Gateway.Interval,
			Poll:     yc.Gateway.Poll,
		},
		Server: ServerData{
			BindIP:   yc.Server.BindIP,
			HTTPPort: yc.Server.HTTPPort,
			UDPPort:  yc.Server.UDPPort,
		},
		Export: ExportData{
			TargetIP:     yc.Export.TargetIP,
			TargetPort:   yc.Export.TargetPort,
			Enable:       yc.Export.Enable,
			MinMax:       yc.Export.MinMax,
			StatResend:   yc.Export.StatResend,
			MaxLen:       yc.Export.MaxLen,
			SID:          yc.Export.SID,
			MetricSystem: yc.Export.UseMetric,
			LoxTime:      yc.Export.LoxTime,
		},
		Policy: PolicyData{
			IgnoreEmpty:  yc.Policy.IgnoreEmpty,
			OutTime:      yc.Policy.OutTime,
			OutTemp:      yc.Policy.OutTemp,
			OutHum:       yc.Policy.OutHum,
			FixLightning: yc.Policy.FixLightning,
			AddItems:     yc.Policy.AddItems,
			EvalValues:   yc.Policy.EvalValues,
			Language:     yc.Policy.Language,
			Latitude:     yc.Policy.Latitude,
			Longitude:    yc.Policy.Longitude,
			AltitudeM:    yc.Policy.Altitude,
		},
		Warnings: WarningData{
			WatchdogWarning:  yc.Warnings.WatchdogWarning,
			WatchdogInterval: yc.Warnings.WatchdogInterval,
			WatchdogRestart:  yc.Warnings.WatchdogRestart,
			StormWarning:     yc.Warnings.StormWarning,
			StormDiff1h:      yc.Warnings.StormDiff1h,
			StormDiff3h:      yc.Warnings.StormDiff3h,
			StormExpire:      yc.Warnings.StormExpire,
			SensorWarning:    yc.Warnings.SensorWarning,
			SensorMandatory:  splitList(yc.Warnings.SensorMandatory),
			TstormWarning:    yc.Warnings.TstormWarning,
			TstormCount:      yc.Warnings.TstormCount,
			TstormDistKM:     yc.Warnings.TstormDist,
			TstormExpire:     yc.Warnings.TstormExpire,
			BatteryWarning:   yc.Warnings.BatteryWarning,
			LeakWarning:      yc.Warnings.LeakWarning,
			CO2Warning:       yc.Warnings.CO2Warning,
			CO2Level:         yc.Warnings.CO2Level,
		},
		Logging: LoggingData{
			Enable: yc.Logging.Enable,
			File:   yc.Logging.File,
			Level:  yc.Logging.Level,
			Ignore: splitList(yc.Logging.Ignore),
		},
		Update: UpdateData{
			Check:    yc.Update.Check,
			URL:      yc.Update.URL,
			Interval: yc.Update.Interval,
		},
		Capabilities: CapabilityData{
			RebootEnable:  yc.Capabilities.RebootEnable,
			RestartEnable: yc.Capabilities.RestartEnable,
			AuthPassword:  yc.Capabilities.AuthPassword,
		},
		Pushover: PushoverData{
			Enable: yc.Pushover.Enable,
			URL:    yc.Pushover.URL,
			Token:  yc.Pushover.Token,
			User:   yc.Pushover.User,
		},
		CSV: CSVData{
			DayFile: yc.CSV.DayFile,
		},
		Persistence: PersistenceData{
			Path:   yc.Persistence.Path,
			MaxAge: time.Duration(yc.Persistence.MaxAgeSec) * time.Second,
		},
	}

	for i, s := range yc.Sinks {
		sink := SinkData{
			ID:        s.ID,
			Enable:    s.Enable,
			Type:      strings.ToUpper(s.Type),
			URL:       s.URL,
			Interval:  s.Interval,
			SID:       s.SID,
			Password:  s.Password,
			Ignore:    splitList(s.Ignore),
			Status:    s.Status,
			Exec:      s.Exec,
			MQTTCycle: s.MQTTCycle,
			Extra:     s.Extra,
		}
		if sink.ID == "" {
			sink.ID = fmt.Sprintf("forward-%d", i+1)
		}
		config.Sinks = append(config.Sinks, sink)
	}

	config.ApplyDefaults()
	y.config = config
	return config, nil
}

// GetGateway returns the gateway section
func (y *YAMLProvider) GetGateway() (*GatewayData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return &y.config.Gateway, nil
}

// GetSinks returns the configured forwards
func (y *YAMLProvider) GetSinks() ([]SinkData, error) {
	if y.config == nil {
		if _, err := y.LoadConfig(); err != nil {
			return nil, err
		}
	}
	return y.config.Sinks, nil
}

// IsReadOnly returns true: YAML configs are not runtime-writable
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML providers
func (y *YAMLProvider) Close() error {
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
