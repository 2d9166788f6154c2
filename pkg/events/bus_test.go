package events

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoChannelBus_PublishSubscribe(t *testing.T) {
	bus := NewGoChannelBus(GoChannelConfig{Logger: zerolog.Nop(), BlockUntilAck: true})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, BlockUpdated{TurnID: "t1", Index: 2, Kind: "action", ActionName: "read", Partial: true}))
	require.NoError(t, bus.Publish(ctx, TurnReady{TurnID: "t1", ConversationID: "c1", Results: 1}))

	var got []Event
	for len(got) < 2 {
		select {
		case e := <-ch:
			got = append(got, e)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}
	}

	block, ok := got[0].(BlockUpdated)
	require.True(t, ok)
	assert.Equal(t, 2, block.Index)
	assert.Equal(t, "read", block.ActionName)
	assert.True(t, block.Partial)

	ready, ok := got[1].(TurnReady)
	require.True(t, ok)
	assert.Equal(t, "c1", ready.ConversationID)
}

func TestGoChannelBus_PublishWithoutSubscribers(t *testing.T) {
	bus := NewGoChannelBus(GoChannelConfig{Logger: zerolog.Nop()})
	defer bus.Close()

	assert.NoError(t, bus.Publish(context.Background(), ApprovalProgress{TurnID: "t", Message: "halfway", Percent: 50}))
	assert.Equal(t, DefaultTopic, bus.Topic())
}

func TestDecode_UnknownType(t *testing.T) {
	env, e, err := Decode([]byte(`{"type":"something_else","data":{}}`))
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, Type("something_else"), env.Type)

	_, _, err = Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestPublishBlind_NilBus(t *testing.T) {
	assert.NotPanics(t, func() {
		PublishBlind(context.Background(), nil, TurnReady{})
		PublishBlind(context.Background(), NopBus{}, TurnReady{})
	})
}
