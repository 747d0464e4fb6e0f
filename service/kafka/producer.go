package kafka

import (
	"strings"
	"time"

	"PPLive/tools/errs"

	"github.com/Shopify/sarama"
)

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion
	cfg.ClientID = "pplive"

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	if c.ProducerRetries <= 0 {
		c.ProducerRetries = 1
	}
	cfg.Producer.Retry.Max = c.ProducerRetries
	// the key is the session id, so one session stays on one partition
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

// NewSyncProducer connects to the brokers, optionally creates the topic, and
// returns a producer that owns the client.
func NewSyncProducer(c Config) (sarama.SyncProducer, error) {
	client, err := sarama.NewClient(c.Brokers, BuildBaseConfig(c))
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", c.Brokers)
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errs.WrapMsg(err, "kafka admin")
		}
		if err := EnsureTopics(admin, []string{c.Topic}, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return &ownedProducer{SyncProducer: p, client: client}, nil
}

// ownedProducer closes the client together with the producer.
type ownedProducer struct {
	sarama.SyncProducer
	client sarama.Client
}

func (p *ownedProducer) Close() error {
	err := p.SyncProducer.Close()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}
