// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/motivorastudios-blip/Motivora-studio/internal/log"
	"github.com/motivorastudios-blip/Motivora-studio/internal/metrics"
	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

const (
	notifyQueueSize = 256
	sinkTimeout     = 5 * time.Second
)

// notifier fans job events out to sinks from a single dispatcher goroutine.
// Material events are never dropped; progress events are throttled per job
// and dropped when the queue is full.
type notifier struct {
	sinks  []model.Sink
	every  rate.Limit
	logger zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan model.Event
	done   chan struct{}

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter
}

func newNotifier(sinks []model.Sink, perSecond float64, logger zerolog.Logger) *notifier {
	n := &notifier{
		sinks:    sinks,
		every:    rate.Inf,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
	if perSecond > 0 {
		n.every = rate.Limit(perSecond)
	}
	if len(sinks) == 0 {
		return n
	}
	n.queue = make(chan model.Event, notifyQueueSize)
	n.done = make(chan struct{})
	go n.run()
	return n
}

func (n *notifier) publish(ev model.Event) {
	if n.queue == nil {
		return
	}
	if ev.Kind == model.EventProgress && !n.allow(ev.Snapshot.ID) {
		return
	}
	if ev.Kind == model.EventTerminal {
		n.forget(ev.Snapshot.ID)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	if ev.Kind.Material() {
		n.queue <- ev
		return
	}
	select {
	case n.queue <- ev:
	default:
		metrics.RecordMirrorDropped()
	}
}

func (n *notifier) allow(id string) bool {
	n.limMu.Lock()
	defer n.limMu.Unlock()
	l, ok := n.limiters[id]
	if !ok {
		l = rate.NewLimiter(n.every, 1)
		n.limiters[id] = l
	}
	return l.Allow()
}

func (n *notifier) forget(id string) {
	n.limMu.Lock()
	delete(n.limiters, id)
	n.limMu.Unlock()
}

func (n *notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		for _, s := range n.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err := s.Notify(ctx, ev)
			cancel()
			if err != nil {
				metrics.RecordMirrorFailure(s.Name())
				n.logger.Warn().
					Err(err).
					Str("sink", s.Name()).
					Str(log.FieldJobID, ev.Snapshot.ID).
					Str("kind", string(ev.Kind)).
					Msg("job event not mirrored")
			}
		}
	}
}

// close flushes queued events and stops the dispatcher. Later publishes are
// discarded.
func (n *notifier) close() {
	if n.queue == nil {
		return
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

func (o *Orchestrator) notify(kind model.EventKind, snap model.Snapshot) {
	o.notifier.publish(model.Event{Kind: kind, Snapshot: snap, At: o.store.Now()})
}
