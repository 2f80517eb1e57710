package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitDeliversToSubscriber(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(Event{Type: EventTaskClaimed, TaskID: "TASK-1"})

	got := <-e.Events()
	assert.Equal(t, EventTaskClaimed, got.Type)
	assert.Equal(t, "TASK-1", got.TaskID)
}

func TestEmitDropsWhenBufferFull(t *testing.T) {
	e := NewEmitter(1)
	e.Emit(Event{Type: EventTaskClaimed, TaskID: "first"})
	e.Emit(Event{Type: EventTaskClaimed, TaskID: "second"})

	got := <-e.Events()
	assert.Equal(t, "first", got.TaskID)

	select {
	case <-e.Events():
		t.Fatal("expected no second event, channel should have been empty after the drop")
	default:
	}
}
