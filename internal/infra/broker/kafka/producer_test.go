package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSendsKeyedMessageWithSortedHeaders(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "ledger.user.events.v1", msg.Topic)
		key, _ := msg.Key.Encode()
		assert.Equal(t, "u-1", string(key))
		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "ce_id", string(msg.Headers[0].Key))
		assert.Equal(t, "ce_type", string(msg.Headers[1].Key))
		return nil
	})
	p := NewProducerFrom(sync)
	err := p.Publish(context.Background(), "ledger.user.events.v1", "u-1", []byte(`{}`), map[string]string{"ce_type": "user.balance_credited", "ce_id": "e-1"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestPublishWrapsBrokerErrors(t *testing.T) {
	sync := mocks.NewSyncProducer(t, nil)
	sync.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	p := NewProducerFrom(sync)
	err := p.Publish(context.Background(), "t", "k", nil, nil)
	assert.True(t, errors.Is(err, sarama.ErrNotLeaderForPartition))
	require.NoError(t, p.Close())
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProducerFrom(mocks.NewSyncProducer(t, nil))
	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil, nil), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNewConfigIsValidIdempotentProducer(t *testing.T) {
	cfg := NewConfig("test")
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)

	_, err := NewProducer(nil, nil)
	assert.ErrorIs(t, err, ErrNoBrokers)
}
