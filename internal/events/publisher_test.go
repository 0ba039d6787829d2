package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type capturePublisher struct {
	topics []string
	events []Event
	err    error
}

func (c *capturePublisher) PublishEvent(ctx context.Context, topic string, event interface{}) error {
	if c.err != nil {
		return c.err
	}
	c.topics = append(c.topics, topic)
	c.events = append(c.events, event.(Event))
	return nil
}

func TestEmitterFansOut(t *testing.T) {
	a := &capturePublisher{}
	b := &capturePublisher{}
	e := NewEmitter([]Publisher{a, b}, zap.NewNop())

	e.Emit(context.Background(), TypeTradeExecuted, map[string]string{"trade_id": "t1"})

	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
	assert.Equal(t, TypeTradeExecuted, a.events[0].Type)
	assert.Equal(t, Topic, a.topics[0])
	assert.NotEqual(t, "", a.events[0].ID.String())
	assert.False(t, a.events[0].Timestamp.IsZero())
}

func TestEmitterSwallowsPublisherErrors(t *testing.T) {
	failing := &capturePublisher{err: errors.New("broker down")}
	healthy := &capturePublisher{}
	e := NewEmitter([]Publisher{failing, healthy}, zap.NewNop())

	// Must not panic or block; the healthy publisher still receives the event.
	e.Emit(context.Background(), TypeOrderCancelled, nil)
	require.Len(t, healthy.events, 1)
}

func TestEmitterNoPublishers(t *testing.T) {
	e := NewEmitter(nil, zap.NewNop())
	e.Emit(context.Background(), TypeTradeExecuted, nil)
}
