package kafka

import (
	"context"
	"errors"
	"time"

	"gacha-admin/internal/logging"

	kafkaGo "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	Topics         []string
	MinBytes       int
	MaxBytes       int
	CommitInterval time.Duration
	// StartFromLatest 新 group 从最新位置开始；失效广播不需要回放历史
	StartFromLatest bool
}

type MessageHandler func(ctx context.Context, msg kafkaGo.Message) error

// MessageReader kafka-go Reader 的最小接口，测试替换
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafkaGo.Message, error)
	Close() error
}

type Consumer struct {
	reader MessageReader
	logger *logging.Logger
}

func NewConsumer(cfg ConsumerConfig, l *logging.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.CommitInterval == 0 {
		cfg.CommitInterval = time.Second
	}
	rc := kafkaGo.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    cfg.Topics,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		CommitInterval: cfg.CommitInterval,
	}
	if cfg.StartFromLatest {
		rc.StartOffset = kafkaGo.LastOffset
	}
	return NewConsumerWithReader(kafkaGo.NewReader(rc), l)
}

func NewConsumerWithReader(r MessageReader, l *logging.Logger) *Consumer {
	if l == nil {
		l = logging.Nop()
	}
	return &Consumer{reader: r, logger: l}
}

// Start 消费循环，ctx 取消时返回 nil：
// 1. 从 headers 提取 W3C traceparent / baggage
// 2. 创建 kafka.consume Span (SpanKindConsumer)
// 3. 旧 trace_id header 写入日志上下文
// 4. handler 出错只记录，不中断循环
func (c *Consumer) Start(ctx context.Context, handler MessageHandler) error {
	if c.reader == nil {
		return errors.New("nil reader")
	}
	prop := otel.GetTextMapPropagator()
	tracer := otel.Tracer("kafka-consumer")
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		carrier := propagation.MapCarrier{}
		for _, h := range m.Headers {
			carrier[h.Key] = string(h.Value)
		}
		msgCtx := prop.Extract(ctx, carrier)
		if v, ok := carrier["trace_id"]; ok && v != "" {
			msgCtx = logging.WithTraceID(msgCtx, v)
		}

		attrs := []attribute.KeyValue{
			semconv.MessagingSystem("kafka"),
			semconv.MessagingDestinationName(m.Topic),
			attribute.String("messaging.destination_kind", "topic"),
			attribute.Int("messaging.kafka.partition", m.Partition),
			attribute.Int64("messaging.kafka.offset", m.Offset),
			attribute.Int("messaging.message.key_size", len(m.Key)),
			attribute.Int("messaging.message.size", len(m.Value)),
		}
		msgCtx, span := tracer.Start(msgCtx, "kafka.consume", trace.WithSpanKind(trace.SpanKindConsumer), trace.WithAttributes(attrs...))

		if err := handler(msgCtx, m); err != nil {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			c.logger.WithContext(msgCtx).Warn("kafka_handler_failed", zap.String("topic", m.Topic), zap.Int64("offset", m.Offset), zap.Error(err))
		}
		span.End()
	}
}

func (c *Consumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
