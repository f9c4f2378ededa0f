package kafka

import (
	"context"
	"errors"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"time"
)

// Kafka 生产者服务
// 定义接口，方便测试和替换
type ProducerService interface {
	Produce(ctx context.Context, key []byte, msg any) error
	Close() error
}

type kafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokerURL, topic string) (ProducerService, error) {
	if brokerURL == "" || topic == "" {
		return nil, errors.New("kafka broker and topic are required")
	}
	return &kafkaProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokerURL),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // 相同 key 进入同一个 partition，保证同一策略的顺序
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 5 * time.Second,
		},
	}, nil
}

// Produce 序列化为 JSON 并写入 Kafka
func (p *kafkaProducer) Produce(ctx context.Context, key []byte, msg any) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
}

func (p *kafkaProducer) Close() error {
	return p.writer.Close()
}
