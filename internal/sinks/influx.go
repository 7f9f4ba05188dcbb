package sinks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

// influxSink writes one measurement per observation.  FWD_SID carries
// org/bucket, FWD_PWD the API token.
type influxSink struct {
	writer   api.WriteAPIBlocking
	client   influxdb2.Client
	id       string
	msystem  string
	builder  func(*types.Observation) (string, error)
	lastTime func() time.Time
}

func newInfluxSink(cfg config.SinkData, builder func(*types.Observation) (string, error), msystem string) (*influxSink, error) {
	org, bucket, ok := strings.Cut(cfg.SID, "/")
	if !ok || org == "" || bucket == "" {
		return nil, fmt.Errorf("influx sink %s: FWD_SID must be org/bucket", cfg.ID)
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Password)
	return &influxSink{
		writer:   client.WriteAPIBlocking(org, bucket),
		client:   client,
		id:       cfg.ID,
		msystem:  msystem,
		builder:  builder,
		lastTime: time.Now,
	}, nil
}

func (s *influxSink) Build(obs *types.Observation) (string, error) {
	payload, err := s.builder(obs)
	if err != nil {
		return "", err
	}
	// the model tag rides along so Send stays payload-only
	return "model=" + obs.Model + " " + payload, nil
}

func (s *influxSink) Send(ctx context.Context, payload string) error {
	fields := make(map[string]interface{})
	model := ""
	for _, p := range parseKV(payload) {
		if p.key == "model" && model == "" {
			model = p.val
			continue
		}
		if num, err := strconv.ParseFloat(p.val, 64); err == nil {
			fields[p.key] = num
		} else {
			fields[p.key] = p.val
		}
	}
	if len(fields) == 0 {
		return Permanent(fmt.Errorf("empty influx payload"))
	}
	point := influxdb2.NewPoint("weather",
		map[string]string{
			"model":   model,
			"forward": s.id,
			"msystem": s.msystem,
		},
		fields, s.lastTime())
	return s.writer.WritePoint(ctx, point)
}
