package progress

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterFromContext(t *testing.T) {
	t.Parallel()

	fallback := &Recorder{}
	assert.Same(t, fallback, EmitterFrom(context.Background(), fallback))
	assert.Equal(t, Nop{}, EmitterFrom(context.Background(), nil))

	rec := &Recorder{}
	id := uuid.New()
	ctx := ContextWithEmitter(context.Background(), WithRun(rec, id, nil))
	EmitterFrom(ctx, fallback).Emit(Event{Stage: StageFetchAttempt, URL: "u", StatusClass: Status2xx})

	assert.Empty(t, fallback.Events())
	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].RunUUID())
	require.NoError(t, events[0].Validate())
}
