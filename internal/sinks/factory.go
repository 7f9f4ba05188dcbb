package sinks

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

const (
	ctForm = "application/x-www-form-urlencoded"
	ctText = "text/plain"
	ctCSV  = "text/csv"
	ctJSON = "application/json"
)

// build constructs the sink for one forward configuration.
func build(cfg config.SinkData, deps Deps) (Sink, error) {
	metric := deps.Export.MetricSystem
	sinkType := strings.ToUpper(strings.TrimSpace(cfg.Type))

	// text products go to a local file when the target has no scheme
	textTarget := func(builder func(*types.Observation) (string, error), appendMode bool) Sink {
		if isFileTarget(cfg.URL) {
			return &fileSink{path: cfg.URL, appendMode: appendMode, builder: builder}
		}
		return newHTTPSink(cfg.URL, http.MethodPost, ctText, builder, nil)
	}

	switch sinkType {
	case "RAW", "RAWEW":
		return newHTTPSink(cfg.URL, http.MethodPost, ctForm, buildRaw(deps), nil), nil
	case "RAWAMB":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildRaw(deps), nil), nil
	case "RAWUDP":
		addr, err := parseUDPAddr(cfg.URL)
		if err != nil {
			return nil, err
		}
		return &udpSink{addr: addr, sid: cfg.SID, maxLen: deps.Export.MaxLen, builder: buildRawKV(deps)}, nil
	case "RAWCSV":
		if isFileTarget(cfg.URL) {
			return &fileSink{path: cfg.URL, builder: buildRawCSV(deps)}, nil
		}
		return newHTTPSink(cfg.URL, http.MethodPost, ctCSV, buildRawCSV(deps), nil), nil
	case "RAWTEXT":
		return textTarget(buildRawKV(deps), false), nil

	case "WU":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildWU(cfg), checkWU), nil
	case "EW":
		return newHTTPSink(cfg.URL, http.MethodPost, ctForm, buildEW(cfg, deps), nil), nil
	case "AMB":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildAMB(cfg, deps), nil), nil

	case "UDP":
		addr, err := parseUDPAddr(cfg.URL)
		if err != nil {
			return nil, err
		}
		return &udpSink{addr: addr, sid: cfg.SID, maxLen: deps.Export.MaxLen,
			builder: buildView(cfg, deps, metric)}, nil
	case "CSV":
		if isFileTarget(cfg.URL) {
			return &fileSink{path: cfg.URL, builder: buildCSV(cfg, deps, metric)}, nil
		}
		return newHTTPSink(cfg.URL, http.MethodPost, ctCSV, buildCSV(cfg, deps, metric), nil), nil

	case "MT":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildMT(cfg), nil), nil
	case "WC":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildWC(cfg), nil), nil
	case "AWEKAS":
		return newHTTPSink(cfg.URL, http.MethodPost, ctForm, buildAWEKAS(cfg), checkAWEKAS), nil
	case "WETTERCOM":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildWettercom(cfg), nil), nil
	case "WETTERSEKTOR":
		return newHTTPSink(cfg.URL, http.MethodGet, "", buildWettersektor(cfg), nil), nil
	case "WEATHER365":
		return newHTTPSink(cfg.URL, http.MethodPost, ctForm, buildWeather365(cfg), nil), nil
	case "LD":
		s := newHTTPSink(cfg.URL, http.MethodPost, ctJSON, buildLD(cfg), nil)
		s.headers = map[string]string{"X-Pin": "1", "X-Sensor": cfg.SID}
		return s, nil

	case "REALTIMETXT":
		return textTarget(buildRealtime, false), nil
	case "CLIENTRAWTXT":
		return textTarget(buildClientRaw, false), nil
	case "CSVFILE":
		return &fileSink{path: cfg.URL, builder: buildCSV(cfg, deps, metric)}, nil
	case "TXTFILE":
		pairsOf := func(obs *types.Observation) []pair {
			var status []pair
			if cfg.Status {
				status = deps.statusPairs()
			}
			return payloadPairs(obs, metric, cfg.Ignore, cfg.Extra, status)
		}
		return &fileSink{path: cfg.URL, builder: buildTXT(pairsOf)}, nil
	case "WSWIN":
		return textTarget(buildWSWIN, true), nil

	case "MQTTMET":
		return newMQTTSink(cfg, buildView(cfg, deps, true), deps.Logger)
	case "MQTTIMP":
		return newMQTTSink(cfg, buildView(cfg, deps, false), deps.Logger)
	case "INFLUXMET":
		return newInfluxSink(cfg, buildView(cfg, deps, true), "metric")
	case "INFLUXIMP":
		return newInfluxSink(cfg, buildView(cfg, deps, false), "imperial")
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
}
