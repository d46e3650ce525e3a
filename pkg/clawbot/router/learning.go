package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/clawbot/pkg/clawbot/patterns"
)

const (
	defaultLearningQueueSize = 64
	learnTimeout             = 5 * time.Second
)

type learnItem struct {
	userID      string
	patternType string
	input       string
	intent      string
}

// learner records patterns on a single background goroutine. Writes are
// best effort: a full queue drops the item and failures are only logged.
type learner struct {
	repo   patterns.Repository
	logger *slog.Logger

	mu     sync.RWMutex
	queue  chan learnItem
	closed bool
	done   chan struct{}

	// pending counts queued items not yet written.
	pending sync.WaitGroup
}

func newLearner(repo patterns.Repository, size int, logger *slog.Logger) *learner {
	if size <= 0 {
		size = defaultLearningQueueSize
	}
	l := &learner{
		repo:   repo,
		logger: logger,
		queue:  make(chan learnItem, size),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *learner) enqueue(item learnItem) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	l.pending.Add(1)
	select {
	case l.queue <- item:
	default:
		l.pending.Done()
		l.logger.Warn("learning queue full, dropping pattern", "user", item.userID, "intent", item.intent)
	}
}

func (l *learner) run() {
	defer close(l.done)
	for item := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), learnTimeout)
		err := l.repo.Record(ctx, item.userID, item.patternType, item.input, item.intent)
		cancel()
		l.pending.Done()
		if err != nil {
			l.logger.Warn("failed to record learned pattern", "user", item.userID, "type", item.patternType, "error", err)
			continue
		}
		l.logger.Debug("learned pattern", "user", item.userID, "type", item.patternType, "intent", item.intent)
	}
}

// close stops accepting items, drains the queue and waits for the worker.
func (l *learner) close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}

// flush waits until every item queued so far has been written.
func (l *learner) flush() {
	l.pending.Wait()
}
