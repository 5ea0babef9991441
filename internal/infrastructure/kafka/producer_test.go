package kafka

import (
	"context"
	"errors"
	"testing"

	"aawallet/internal/domain"
	"aawallet/internal/streaming"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishTransactions(t *testing.T) {
	writer := &fakeWriter{}
	producer, err := newProducer(writer, ProducerConfig{ChainID: 11155111})
	require.NoError(t, err)

	err = producer.PublishTransactions(context.Background(), "0xABC", string(streaming.MessageTypeTransactionConfirmed), []domain.Transaction{
		{Hash: "0x01", Status: domain.TxStatusSuccess, Kind: domain.TxKindTransfer, Amount: "10.5", Timestamp: 1},
		{Hash: "0x02", Status: domain.TxStatusSuccess, Kind: domain.TxKindBatch, Timestamp: 2},
	})
	require.NoError(t, err)
	require.Len(t, writer.messages, 2)

	first := writer.messages[0]
	assert.Equal(t, "aawallet-ledger-11155111", first.Topic)
	assert.Equal(t, "0xabc", string(first.Key))

	msg, err := streaming.Decode(first.Value)
	require.NoError(t, err)
	assert.Equal(t, "0x01", msg.TxHash)
	assert.Equal(t, "10.5", msg.Amount)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.TraceID)
}

func TestPublishTransactionsRejectsUnknownEvent(t *testing.T) {
	writer := &fakeWriter{}
	producer, err := newProducer(writer, ProducerConfig{ChainID: 1, TopicPrefix: "custom"})
	require.NoError(t, err)

	err = producer.PublishTransactions(context.Background(), "0xabc", "log", []domain.Transaction{{Hash: "0x01"}})
	require.Error(t, err)
	assert.Empty(t, writer.messages)
}

func TestPublishTransactionsWriterError(t *testing.T) {
	producer, err := newProducer(&fakeWriter{err: errors.New("broker down")}, ProducerConfig{ChainID: 1})
	require.NoError(t, err)

	err = producer.PublishTransactions(context.Background(), "0xabc", string(streaming.MessageTypeHistoryReconciled), []domain.Transaction{{Hash: "0x01"}})
	require.ErrorContains(t, err, "broker down")
}

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{ChainID: 1})
	require.Error(t, err)
}
