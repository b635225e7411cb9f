// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motivorastudios-blip/Motivora-studio/internal/render/model"
)

func event(kind model.EventKind, id string, progress float64) model.Event {
	return model.Event{Kind: kind, Snapshot: model.Snapshot{ID: id, Progress: progress}}
}

func TestNotifier_ThrottlesProgressPerJob(t *testing.T) {
	sink := &recordingSink{}
	n := newNotifier([]model.Sink{sink}, 1, zerolog.Nop())

	n.publish(event(model.EventCreated, "a", 0))
	for i := 1; i <= 10; i++ {
		n.publish(event(model.EventProgress, "a", float64(i)))
		n.publish(event(model.EventProgress, "b", float64(i)))
	}
	n.publish(event(model.EventTerminal, "a", 100))
	n.close()

	var progressA, progressB, material int
	for _, ev := range sink.snapshot() {
		switch {
		case ev.Kind.Material():
			material++
		case ev.Snapshot.ID == "a":
			progressA++
		default:
			progressB++
		}
	}
	assert.Equal(t, 2, material)
	assert.Equal(t, 1, progressA)
	assert.Equal(t, 1, progressB)

	n.limMu.Lock()
	defer n.limMu.Unlock()
	assert.NotContains(t, n.limiters, "a")
	assert.Contains(t, n.limiters, "b")
}

func TestNotifier_UnlimitedAndFailingSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("mirror down")}
	ok := &recordingSink{}
	n := newNotifier([]model.Sink{failing, ok}, 0, zerolog.Nop())

	for i := 0; i < 5; i++ {
		n.publish(event(model.EventProgress, "a", float64(i)))
	}
	n.close()

	// A failing sink does not stop delivery to the others.
	assert.Len(t, failing.snapshot(), 5)
	require.Len(t, ok.snapshot(), 5)
	assert.InDelta(t, 4, ok.snapshot()[4].Snapshot.Progress, 0.001)
}

func TestNotifier_CloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	n := newNotifier([]model.Sink{sink}, 0, zerolog.Nop())
	n.close()
	n.close()

	n.publish(event(model.EventTerminal, "a", 100))
	assert.Empty(t, sink.snapshot())

	empty := newNotifier(nil, 0, zerolog.Nop())
	empty.publish(event(model.EventCreated, "a", 0))
	empty.close()
}
