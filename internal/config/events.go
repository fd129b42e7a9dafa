package config

import (
	"log/slog"
	"strings"

	"github.com/ana-joker/FULLSTUDY/internal/events"
)

const (
	PublisherKafka     = "kafka"
	PublisherGoChannel = "gochannel"
	PublisherMock      = "mock"
)

// EventConfig holds configuration for study event publishing
type EventConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Publisher    string `mapstructure:"publisher" validate:"oneof=kafka gochannel mock"`
	KafkaBrokers string `mapstructure:"kafka_brokers"`
	Topic        string `mapstructure:"topic" validate:"required"`
}

// GetKafkaBrokers returns Kafka brokers as a slice
func (c *EventConfig) GetKafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// CreateEventPublisher creates an event publisher based on configuration.
// A nil publisher means events are dropped.
func (c *EventConfig) CreateEventPublisher(logger *slog.Logger) (events.EventPublisher, error) {
	if !c.Enabled {
		logger.Info("Event publishing disabled")
		return nil, nil
	}

	config := events.PublisherConfig{
		KafkaBrokers: c.GetKafkaBrokers(),
		TopicName:    c.Topic,
		Logger:       logger,
	}

	switch c.Publisher {
	case PublisherKafka:
		logger.Info("Creating Kafka event publisher",
			"brokers", c.KafkaBrokers,
			"topic", c.Topic)
		return events.NewKafkaEventPublisher(config)
	case PublisherGoChannel:
		logger.Info("Creating in-process event publisher", "topic", c.Topic)
		return events.NewChannelEventPublisher(config), nil
	case PublisherMock:
		logger.Info("Using mock event publisher")
		return events.NewMockEventPublisher(logger), nil
	default:
		logger.Warn("Unknown event publisher type, falling back to mock", "publisher", c.Publisher)
		return events.NewMockEventPublisher(logger), nil
	}
}
