package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type memorySubscriber struct {
	table  string
	filter Filter
	ch     chan ChangeEvent
}

// MemorySource fans published events out to in-process subscribers. A slow
// subscriber whose buffer is full loses the event rather than blocking
// Publish.
type MemorySource struct {
	mu          sync.RWMutex
	subscribers map[*memorySubscriber]struct{}
	bufferSize  int
	logger      *logrus.Logger
}

// NewMemorySource creates a new in-process source
func NewMemorySource(bufferSize int, logger *logrus.Logger) *MemorySource {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &MemorySource{
		subscribers: make(map[*memorySubscriber]struct{}),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a subscriber until ctx is done
func (s *MemorySource) Subscribe(ctx context.Context, table string, filter Filter) (<-chan ChangeEvent, error) {
	sub := &memorySubscriber{
		table:  table,
		filter: filter,
		ch:     make(chan ChangeEvent, s.bufferSize),
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subscribers, sub)
		close(sub.ch)
		s.mu.Unlock()
	}()

	return sub.ch, nil
}

// Publish delivers the event to every matching subscriber
func (s *MemorySource) Publish(ctx context.Context, event ChangeEvent) error {
	if event.CommitTimestamp.IsZero() {
		event.CommitTimestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subscribers {
		if sub.table != event.Table || !sub.filter.Match(&event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			s.logger.WithFields(logrus.Fields{
				"table":  event.Table,
				"filter": sub.filter.String(),
			}).Warn("Realtime subscriber buffer full, dropping event")
		}
	}

	return ctx.Err()
}

// Subscribers returns the number of active subscriptions
func (s *MemorySource) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
