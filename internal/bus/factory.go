package bus

import (
	"fmt"
	"strings"

	"github.com/facecontrol/face-remote/internal/config"
	"github.com/facecontrol/face-remote/internal/pkg/errors"
	"github.com/facecontrol/face-remote/internal/pkg/logger"
)

// New creates the bus selected by cfg, wrapped in a LoggedBus when the
// event log is enabled.
func New(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	if log == nil {
		log = logger.Default()
	}

	inner, err := newTransport(cfg, log)
	if err != nil {
		return nil, err
	}
	if !cfg.EventLogEnabled {
		return inner, nil
	}

	eventLogger, err := NewEventLogger(cfg.EventLogPath, true)
	if err != nil {
		_ = inner.Close()
		return nil, errors.Wrap(errors.CodeInternal, "failed to open event log", err)
	}
	return NewLoggedBus(inner, eventLogger, log.WithComponent("bus")), nil
}

func newTransport(cfg config.BusConfig, log *logger.Logger) (Bus, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryBus().WithLogger(log), nil

	case "kafka":
		brokers := ParseKafkaBrokers(cfg.KafkaBrokers)
		if len(brokers) == 0 {
			return nil, errors.New(errors.CodeValidation, "kafka brokers not configured")
		}
		group := cfg.KafkaGroup
		if group == "" {
			group = "face-remote"
		}
		return NewKafkaBus(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: group,
			TopicPrefix:   cfg.TopicPrefix,
		}, log)

	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New(errors.CodeValidation, "redis URL not configured")
		}
		return NewRedisBus(cfg.RedisURL, cfg.TopicPrefix, log)

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown bus type: %s", cfg.Type))
	}
}
