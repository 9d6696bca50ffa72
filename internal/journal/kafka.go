package journal

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"bay-allocation-backend/config"
	"bay-allocation-backend/internal/events"
)

// partitionKey routes every event to one partition so the topic keeps commit
// order.
const partitionKey = "bay-allocation"

const (
	maxBatch     = 100
	flushTimeout = 5 * time.Second
)

// MessageWriter is the subset of *kafka.Writer the journal uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a kafka writer for the configured brokers and topic.
func NewWriter(cfg config.JournalConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

// Journal mirrors the committed event stream to a kafka topic. It is a bus
// subscriber and never blocks delivery: when the queue is full events are
// dropped and counted.
type Journal struct {
	w       MessageWriter
	queue   chan *events.Envelope
	dropped atomic.Uint64
}

// New creates a journal buffering up to buffer events.
func New(w MessageWriter, buffer int) *Journal {
	return &Journal{
		w:     w,
		queue: make(chan *events.Envelope, buffer),
	}
}

// Deliver queues env for writing.
func (j *Journal) Deliver(env *events.Envelope) bool {
	select {
	case j.queue <- env:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Printf("Warning: journal queue full, %d events dropped so far", n)
		}
	}
	return true
}

// Dropped returns the number of events that did not fit in the queue.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Run writes queued events in batches until ctx is done, then flushes what
// is left and closes the writer.
func (j *Journal) Run(ctx context.Context) {
	log.Println("Event journal started")
	for {
		select {
		case env := <-j.queue:
			j.write(ctx, j.batch(env))
		case <-ctx.Done():
			j.flush()
			if err := j.w.Close(); err != nil {
				log.Printf("Error closing journal writer: %v", err)
			}
			log.Println("Event journal stopped")
			return
		}
	}
}

func (j *Journal) batch(first *events.Envelope) []*events.Envelope {
	batch := []*events.Envelope{first}
	for len(batch) < maxBatch {
		select {
		case env := <-j.queue:
			batch = append(batch, env)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case env := <-j.queue:
			j.write(ctx, j.batch(env))
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, batch []*events.Envelope) {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, env := range batch {
		value, err := env.Frame()
		if err != nil {
			log.Printf("Error encoding event %d for journal: %v", env.Seq, err)
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(partitionKey),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(env.Event.Type())},
				{Key: "seq", Value: []byte(strconv.FormatUint(env.Seq, 10))},
			},
			Time: time.Now(),
		})
	}
	if len(msgs) == 0 {
		return
	}
	if err := j.w.WriteMessages(ctx, msgs...); err != nil {
		log.Printf("Error writing %d events to journal: %v", len(msgs), err)
	}
}
