// Package kafka 提供了用户审计事件向 Kafka 的发送功能。
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"ai-tutor-go/internal/config"
	"ai-tutor-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

// 用户生命周期事件类型。
const (
	EventUserCreated         = "user.created"
	EventUserUpdated         = "user.updated"
	EventUserDeleted         = "user.deleted"
	EventUserLogin           = "user.login"
	EventUserPasswordChanged = "user.password_changed"
)

// Event 是一条用户审计事件。
type Event struct {
	Type      string            `json:"type"`
	UserID    int64             `json:"userId"`
	Username  string            `json:"username"`
	ActorID   int64             `json:"actorId,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publisher 发送审计事件。发送失败只记录日志，不影响业务操作。
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

type producer struct {
	writer *kafka.Writer
}

// NewPublisher 根据配置创建事件发送者，未配置 brokers 时返回空实现。
func NewPublisher(cfg config.KafkaConfig) Publisher {
	brokers := splitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return Nop()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	log.Infof("Kafka 生产者初始化成功, topic: %s", cfg.Topic)
	return &producer{writer: w}
}

// splitBrokers 解析逗号分隔的 broker 列表，忽略空项。
func splitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func (p *producer) Publish(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	value, err := json.Marshal(e)
	if err != nil {
		log.Errorf("[Kafka] 序列化事件失败: %v", err)
		return
	}
	// 同一用户的事件按 key 落到同一分区，保证顺序
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(e.UserID, 10)),
		Value: value,
	})
	if err != nil {
		log.Warnf("[Kafka] 发送事件 %s 失败: %v", e.Type, err)
	}
}

func (p *producer) Close() error {
	return p.writer.Close()
}

type nopPublisher struct{}

// Nop 返回丢弃所有事件的 Publisher。
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, Event) {}
func (nopPublisher) Close() error                   { return nil }

// Recorder 在内存中记录事件，供测试使用。
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) { r.Events = append(r.Events, e) }
func (r *Recorder) Close() error                       { return nil }

// Types 返回已记录事件的类型列表。
func (r *Recorder) Types() []string {
	types := make([]string, len(r.Events))
	for i, e := range r.Events {
		types[i] = e.Type
	}
	return types
}
