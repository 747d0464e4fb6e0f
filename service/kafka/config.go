package kafka

import "github.com/Shopify/sarama"

type Config struct {
	Brokers             []string
	Topic               string
	PartitionsPerTopic  int32
	ReplicationFactor   int16
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	KafkaVersion        sarama.KafkaVersion
	EnsureTopic         bool
	Buffer              int // queued records before Record starts dropping
}

func DefaultConfig() Config {
	return Config{
		Brokers:             []string{"127.0.0.1:9092"},
		Topic:               "live_attendance",
		PartitionsPerTopic:  8,
		ReplicationFactor:   1,
		ProducerRetries:     5,
		ProducerCompression: "snappy",
		KafkaVersion:        sarama.V2_1_0_0,
		EnsureTopic:         true,
		Buffer:              1024,
	}
}
