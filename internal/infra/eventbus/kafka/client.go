package kafka

import (
	"fmt"

	"github.com/IBM/sarama"
)

// ClientConfig contains what is needed to reach the Kafka cluster.
type ClientConfig struct {
	Brokers  []string
	ClientID string
}

// NewSyncProducer creates a producer that waits for every in-sync replica to
// acknowledge each message.
func NewSyncProducer(cfg *ClientConfig) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.ClientID = cfg.ClientID

	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Producer.Partitioner = sarama.NewHashPartitioner

	// Version should be consistent across all components.
	config.Version = sarama.V3_6_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("creating kafka producer: %w", err)
	}
	return producer, nil
}
