package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"PPLive/module/live/model"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

// AttendanceSink ships presence join/leave/peak/end events to Kafka. Record
// never blocks the tracker: events are queued and sent by one goroutine, and
// dropped when the queue is full.
type AttendanceSink struct {
	producer sarama.SyncProducer
	topic    string

	queue   chan model.AttendanceEvent
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool
}

func NewAttendanceSink(p sarama.SyncProducer, topic string, buffer int) *AttendanceSink {
	if buffer <= 0 {
		buffer = 1024
	}
	s := &AttendanceSink{
		producer: p,
		topic:    topic,
		queue:    make(chan model.AttendanceEvent, buffer),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *AttendanceSink) Record(_ context.Context, ev model.AttendanceEvent) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- ev:
	default:
		glog.Warningf("attendance queue full, dropped %s session=%s user=%s", ev.Kind, ev.SessionID, ev.UserID)
	}
}

func (s *AttendanceSink) loop() {
	defer close(s.done)
	for ev := range s.queue {
		s.send(ev)
	}
}

func (s *AttendanceSink) send(ev model.AttendanceEvent) {
	b, err := json.Marshal(ev)
	if err != nil {
		glog.Errorf("encode attendance event: %v", err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.SessionID),
		Value: sarama.ByteEncoder(b),
	}
	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		glog.Errorf("send attendance %s session=%s: %v", ev.Kind, ev.SessionID, err)
		return
	}
	glog.V(2).Infof("attendance %s session=%s partition=%d offset=%d", ev.Kind, ev.SessionID, partition, offset)
}

// Close flushes queued events and closes the producer.
func (s *AttendanceSink) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()
	<-s.done
	return s.producer.Close()
}
