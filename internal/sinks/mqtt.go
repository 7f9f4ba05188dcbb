package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foshk/gateway/internal/types"
	"github.com/foshk/gateway/pkg/config"
)

// mqttSink publishes each field to its own topic under the configured
// prefix.  Only changed values are published; a full publish runs on
// the FWD_MQTTCYCLE cadence so late subscribers converge.
type mqttSink struct {
	client  mqtt.Client
	prefix  string
	cycle   time.Duration
	builder func(*types.Observation) (string, error)
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	lastVals map[string]string
	lastFull time.Time
}

func newMQTTSink(cfg config.SinkData, builder func(*types.Observation) (string, error), logger *zap.SugaredLogger) (*mqttSink, error) {
	broker := cfg.URL
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID("foshk-gateway-" + uuid.NewString()[:8]).
		SetConnectTimeout(httpTimeout).
		SetAutoReconnect(true)
	if cfg.Password != "" {
		opts.SetUsername(cfg.SID)
		opts.SetPassword(cfg.Password)
	}

	prefix := strings.TrimSuffix(cfg.SID, "/")
	if prefix == "" {
		prefix = "foshk"
	}
	cycle := time.Duration(cfg.MQTTCycle) * time.Minute

	return &mqttSink{
		client:   mqtt.NewClient(opts),
		prefix:   prefix,
		cycle:    cycle,
		builder:  builder,
		logger:   logger,
		lastVals: make(map[string]string),
	}, nil
}

func (s *mqttSink) Build(obs *types.Observation) (string, error) {
	return s.builder(obs)
}

func (s *mqttSink) Send(_ context.Context, payload string) error {
	if !s.client.IsConnected() {
		tok := s.client.Connect()
		if !tok.WaitTimeout(httpTimeout) {
			return fmt.Errorf("mqtt connect timed out")
		}
		if err := tok.Error(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	full := s.cycle > 0 && time.Since(s.lastFull) >= s.cycle
	if s.lastFull.IsZero() {
		full = true
	}
	if full {
		s.lastFull = time.Now()
		s.logger.Debugf("mqtt %s: full publish", s.prefix)
	}
	s.mu.Unlock()

	var firstErr error
	for _, p := range parseKV(payload) {
		s.mu.Lock()
		unchanged := s.lastVals[p.key] == p.val
		s.mu.Unlock()
		if unchanged && !full {
			continue
		}
		topic := fmt.Sprintf("%s/%s", s.prefix, p.key)
		tok := s.client.Publish(topic, 0, full, p.val)
		if !tok.WaitTimeout(httpTimeout) || tok.Error() != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s: %v", topic, tok.Error())
			}
			continue
		}
		s.mu.Lock()
		s.lastVals[p.key] = p.val
		s.mu.Unlock()
	}
	return firstErr
}
