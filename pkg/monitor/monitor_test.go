package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_EmitToSubscriber(t *testing.T) {
	b := NewBus(10)
	ch := b.Subscribe()

	b.Emit(NewEvent(EventStageStarted, "run-1").WithData("stage", "code_quality"))

	e := <-ch
	assert.Equal(t, EventStageStarted, e.Type)
	assert.Equal(t, "run-1", e.RunID)
	assert.Equal(t, "code_quality", e.Data["stage"])

	b.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestBus_HistoryBoundedAndFiltered(t *testing.T) {
	b := NewBus(3)
	b.Emit(NewEvent(EventRunStarted, "a"))
	b.Emit(NewEvent(EventRunStarted, "b"))
	b.Emit(NewEvent(EventRunDone, "a"))
	b.Emit(NewEvent(EventRunDone, "b"))

	all := b.History("")
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].RunID)

	onlyA := b.History("a")
	require.Len(t, onlyA, 1)
	assert.Equal(t, EventRunDone, onlyA[0].Type)

	stats := b.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Counts[string(EventRunDone)])
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBus(1000)
	b.bufferSize = 1
	_ = b.Subscribe()

	for i := 0; i < 5; i++ {
		b.Emit(NewEvent(EventStageFailed, "r"))
	}
	assert.Equal(t, 4, b.Stats().Dropped)
}

func TestBus_Close(t *testing.T) {
	b := NewBus(0)
	ch := b.Subscribe()
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, b.Stats().Subscribers)
}

func TestNoopMonitor(t *testing.T) {
	m := NewNoopMonitor()
	m.Emit(NewEvent(EventRunDone, "x"))
	_, open := <-m.Subscribe()
	assert.False(t, open)
}
