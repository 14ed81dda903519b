// Package audit fans security events out to the durable audit backends.
// Writes are best effort: a full queue or a failing backend never blocks
// or fails the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/models"
	"security-service/internal/util"
)

const (
	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
	closeTimeout     = 10 * time.Second
)

// Store is the durable audit table (ClickHouse).
type Store interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
}

// Producer publishes audit events for downstream consumers (Kafka).
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Indexer makes audit entries searchable (Elasticsearch).
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) (*esapi.Response, error)
}

// Sink buffers entries in memory and drains them to every configured
// backend from a single goroutine. Backends may be nil.
type Sink struct {
	store    Store
	producer Producer
	indexer  Indexer
	topic    string
	index    string

	queue     chan *models.AuditLogEntry
	done      chan struct{}
	closeOnce sync.Once
}

func NewSink(store Store, producer Producer, indexer Indexer, topic, index string) *Sink {
	s := &Sink{
		store:    store,
		producer: producer,
		indexer:  indexer,
		topic:    topic,
		index:    index,
		queue:    make(chan *models.AuditLogEntry, defaultQueueSize),
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

// Enqueue hands an entry to the sink without blocking. When the queue is
// full the entry is dropped and logged; the caller never waits.
func (s *Sink) Enqueue(entry *models.AuditLogEntry) {
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	select {
	case s.queue <- entry:
	default:
		util.Warn("Audit queue full, dropping entry",
			zap.String("action", entry.Action),
			zap.String("entry_id", entry.EntryID))
	}
}

func (s *Sink) drain() {
	defer close(s.done)
	for entry := range s.queue {
		s.write(entry)
	}
}

func (s *Sink) write(entry *models.AuditLogEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if s.store != nil {
		if err := s.store.Insert(ctx, entry); err != nil {
			util.Warn("Audit store write failed",
				zap.String("entry_id", entry.EntryID),
				zap.Error(err))
		}
	}

	if s.producer != nil {
		payload, err := json.Marshal(entry)
		if err != nil {
			util.Warn("Audit entry encode failed", zap.Error(err))
		} else if err := s.producer.ProduceMessage(ctx, s.topic, []byte(entry.Action), payload, nil); err != nil {
			util.Warn("Audit publish failed",
				zap.String("entry_id", entry.EntryID),
				zap.Error(err))
		}
	}

	if s.indexer != nil {
		res, err := s.indexer.IndexDocument(ctx, s.index, entry.EntryID, entry)
		if err != nil {
			util.Warn("Audit index failed",
				zap.String("entry_id", entry.EntryID),
				zap.Error(err))
		} else if res != nil {
			if res.IsError() {
				util.Warn("Audit index rejected",
					zap.String("entry_id", entry.EntryID),
					zap.String("status", res.Status()))
			}
			if res.Body != nil {
				res.Body.Close()
			}
		}
	}
}

// Close stops accepting entries and waits for the queue to drain, up to a
// deadline. Safe to call more than once.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
		select {
		case <-s.done:
		case <-time.After(closeTimeout):
			util.Warn("Audit sink close timed out with entries unflushed")
		}
	})
}
