package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages in memory and writes them from one goroutine so
// that request handlers never wait on the broker. Delivery is best effort:
// callers needing durability keep their own record (the reconciliation
// ledger does).
type Producer struct {
	w      messageWriter
	topic  string
	log    *slog.Logger
	inbox  chan kafka.Message
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, log *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newProducer(w, topic, buf, log)
}

func newProducer(w messageWriter, topic string, buf int, log *slog.Logger) *Producer {
	return &Producer{
		w:     w,
		topic: topic,
		log:   log,
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
	}
}

func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.w.WriteMessages(ctx, m); err != nil {
				p.log.Error("kafka write failed",
					slog.String("topic", p.topic),
					slog.String("key", string(m.Key)),
					slog.Any("err", err),
				)
			}
			cancel()
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("kafka writer close", slog.String("topic", p.topic), slog.Any("err", err))
		}
	}()
}

// Publish queues a message without waiting. It reports false when the
// producer is closed or its buffer is full, in which case the message is
// dropped.
func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return true
	default:
		p.log.Warn("kafka buffer full, message dropped",
			slog.String("topic", p.topic),
			slog.String("key", string(key)),
		)
		return false
	}
}

// Close stops accepting messages, flushes what is queued and waits for the
// writer to shut down.
func (p *Producer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}
