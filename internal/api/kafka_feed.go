package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers  string
	Topic    string
	GroupID  string
	Username string
	Password string
	CACert   string
}

// KafkaFeed reads scanner payloads from a Kafka topic, one message per scan
type KafkaFeed struct {
	cfg       KafkaConfig
	sink      ScanSink
	reader    *kafka.Reader
	connected atomic.Bool
	processed int64
}

func NewKafkaFeed(cfg KafkaConfig, sink ScanSink) *KafkaFeed {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: ParseKafkaBrokers(cfg.Brokers),
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
		// scans older than the consumer group are not replayed
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     500 * time.Millisecond,
		Dialer:      CreateKafkaDialer(cfg.Username, cfg.Password, cfg.CACert),
	})
	return &KafkaFeed{cfg: cfg, sink: sink, reader: reader}
}

func (f *KafkaFeed) Name() string { return "Kafka" }

func (f *KafkaFeed) Connected() bool { return f.connected.Load() }

func (f *KafkaFeed) Run(ctx context.Context) error {
	defer func() {
		if err := f.reader.Close(); err != nil {
			log.Printf("⚠️ Kafka reader close: %v", err)
		}
		f.connected.Store(false)
	}()

	log.Printf("📡 Kafka scan feed started: topic=%s, groupID=%s", f.cfg.Topic, f.cfg.GroupID)
	f.connected.Store(true)
	f.sink.Ready()

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Println("🛑 Kafka scan feed stopped")
				return nil
			}
			if f.connected.Swap(false) {
				f.sink.ShowError(fmt.Sprintf("Kafka error: %v", err), false)
			}
			log.Printf("⚠️ Kafka scan feed read error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if !f.connected.Swap(true) {
			f.sink.Ready()
		}
		n := atomic.AddInt64(&f.processed, 1)
		log.Printf("📨 Kafka scan #%d: offset=%d, partition=%d", n, msg.Offset, msg.Partition)
		dispatchScan(ctx, f.sink, "Kafka", msg.Value)
	}
}
