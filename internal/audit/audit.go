// Package audit delivers attempt records to the append-only audit
// log. Delivery is fire-and-forget from the submitter's perspective:
// a slow or failing audit store never blocks or fails a submission,
// but failures are logged rather than dropped silently.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"casefile/internal/store"
)

// Sink accepts attempt records for asynchronous persistence.
type Sink interface {
	Record(entry store.AuditEntry)
}

// StoreSink buffers entries on a channel and writes them to the store
// from a single background goroutine.
type StoreSink struct {
	log     store.AuditLog
	entries chan store.AuditEntry
	done    chan struct{}
	once    sync.Once
}

const writeTimeout = 5 * time.Second

func NewStoreSink(auditLog store.AuditLog, buffer int) *StoreSink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &StoreSink{
		log:     auditLog,
		entries: make(chan store.AuditEntry, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an entry without blocking. When the buffer is full
// the entry is dropped with a warning; audit data informs anomaly
// detection, never authorization, so losing an entry is survivable.
func (s *StoreSink) Record(entry store.AuditEntry) {
	select {
	case s.entries <- entry:
	default:
		log.Printf("WARNING: audit buffer full, dropping entry for user %s challenge %s",
			entry.UserID, entry.ChallengeID)
	}
}

// Close stops accepting entries and drains the buffer.
func (s *StoreSink) Close() {
	s.once.Do(func() {
		close(s.entries)
	})
	<-s.done
}

func (s *StoreSink) run() {
	defer close(s.done)

	for entry := range s.entries {
		s.write(entry)
	}
}

func (s *StoreSink) write(entry store.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := s.log.AppendAudit(ctx, entry)
	if err == nil {
		return
	}

	// One retry covers transient store hiccups.
	if retryErr := s.log.AppendAudit(ctx, entry); retryErr != nil {
		log.Printf("WARNING: failed to persist audit entry for user %s challenge %s: %v",
			entry.UserID, entry.ChallengeID, retryErr)
	}
}
