package kafka

import (
	"errors"

	"PPLive/tools/errs"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// EnsureTopics creates missing topics and grows partitions up to
// c.PartitionsPerTopic. Kafka never shrinks partitions.
func EnsureTopics(admin sarama.ClusterAdmin, topics []string, c Config) error {
	for _, t := range topics {
		descs, err := admin.DescribeTopics([]string{t})
		if err != nil {
			return errs.WrapMsg(err, "describe topic", "topic", t)
		}
		exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

		minISR := "1"
		if c.ReplicationFactor >= 3 {
			minISR = "2"
		}

		if !exists {
			td := &sarama.TopicDetail{
				NumPartitions:     c.PartitionsPerTopic,
				ReplicationFactor: c.ReplicationFactor,
				ConfigEntries: map[string]*string{
					"cleanup.policy":                 strPtr("delete"),
					"min.insync.replicas":            strPtr(minISR),
					"unclean.leader.election.enable": strPtr("false"),
					"compression.type":               strPtr("producer"),
				},
			}
			if err := admin.CreateTopic(t, td, false); err != nil {
				var te *sarama.TopicError
				if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
					glog.Infof("[Topic] exists (race): %s", t)
					continue
				}
				return errs.WrapMsg(err, "create topic", "topic", t)
			}
			glog.Infof("[Topic] created: %s (partitions=%d, rf=%d)", t, c.PartitionsPerTopic, c.ReplicationFactor)
			continue
		}

		cur := int32(len(descs[0].Partitions))
		if c.PartitionsPerTopic > cur {
			if err := admin.CreatePartitions(t, c.PartitionsPerTopic, nil, false); err != nil {
				return errs.WrapMsg(err, "expand partitions", "topic", t, "from", cur, "to", c.PartitionsPerTopic)
			}
			glog.Infof("[Topic] partitions expanded: %s (%d -> %d)", t, cur, c.PartitionsPerTopic)
		} else {
			glog.Infof("[Topic] exists: %s (partitions=%d)", t, cur)
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
