package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"aawallet/internal/domain"
	"aawallet/internal/infrastructure/telemetry"
	"aawallet/internal/streaming"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultTopicPrefix = "aawallet-ledger"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes ledger records, keyed by account, to a per-chain topic.
type Producer struct {
	writer  messageWriter
	prefix  string
	chainID uint64
}

type ProducerConfig struct {
	Brokers     []string
	TopicPrefix string
	ChainID     uint64
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 500 * time.Millisecond,
	}
	return newProducer(writer, cfg)
}

func newProducer(writer messageWriter, cfg ProducerConfig) (*Producer, error) {
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}
	if strings.TrimSpace(cfg.TopicPrefix) == "" {
		cfg.TopicPrefix = defaultTopicPrefix
	}
	return &Producer{writer: writer, prefix: cfg.TopicPrefix, chainID: cfg.ChainID}, nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func (p *Producer) Topic() string {
	return fmt.Sprintf("%s-%d", p.prefix, p.chainID)
}

// PublishTransactions writes one message per record. event is a
// streaming.MessageType value.
func (p *Producer) PublishTransactions(ctx context.Context, account, event string, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	msgType := streaming.MessageType(event)
	if !msgType.Valid() {
		return fmt.Errorf("unknown ledger event %q", event)
	}

	tracer := otel.Tracer("aawallet/kafka")
	messages := make([]kafka.Message, 0, len(txs))
	spans := make([]trace.Span, 0, len(txs))
	for _, tx := range txs {
		traceCtx, traceIDHex := telemetry.EnsureTrace(ctx)
		traceCtx, span := tracer.Start(traceCtx, "ledger.publish_"+event, trace.WithSpanKind(trace.SpanKindProducer))
		span.SetAttributes(
			attribute.Int64("chain.id", int64(p.chainID)),
			attribute.String("account", account),
			attribute.String("tx.hash", tx.Hash),
			attribute.String("tx.status", string(tx.Status)),
		)

		payload, err := streaming.Encode(streaming.Message{
			ID:        uuid.NewString(),
			Type:      msgType,
			ChainID:   p.chainID,
			Account:   account,
			TraceID:   traceIDHex,
			TxHash:    tx.Hash,
			Status:    string(tx.Status),
			Kind:      string(tx.Kind),
			Amount:    tx.Amount,
			Recipient: tx.Recipient,
			Timestamp: tx.Timestamp,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			for _, s := range spans {
				s.End()
			}
			return err
		}
		headers := make([]kafka.Header, 0, 2)
		telemetry.InjectKafkaHeaders(traceCtx, &headers)
		messages = append(messages, kafka.Message{
			Topic:   p.Topic(),
			Key:     []byte(strings.ToLower(account)),
			Value:   payload,
			Headers: headers,
		})
		spans = append(spans, span)
	}

	err := p.writer.WriteMessages(ctx, messages...)
	for _, span := range spans {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
	return err
}
