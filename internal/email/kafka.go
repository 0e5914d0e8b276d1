package email

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// MailJob is the record published for the external mailer.
type MailJob struct {
	From     string    `json:"from"`
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	HTML     string    `json:"html"`
	Text     string    `json:"text,omitempty"`
	QueuedAt time.Time `json:"queuedAt"`
}

// KafkaSender hands rendered mail to a mail service over Kafka instead of
// talking SMTP itself. Send returns once the brokers acknowledged the
// record; delivery to the inbox is the consumer's job.
type KafkaSender struct {
	writer messageWriter
	from   Address
	now    func() time.Time
}

// NewKafkaSender creates a synchronous producer for topic.
func NewKafkaSender(brokers []string, topic string, from Address) *KafkaSender {
	return newKafkaSender(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}, from)
}

func newKafkaSender(w messageWriter, from Address) *KafkaSender {
	return &KafkaSender{writer: w, from: from, now: time.Now}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	job := MailJob{
		From:     s.from.String(),
		To:       msg.To,
		Subject:  msg.Subject,
		HTML:     msg.HTML,
		Text:     msg.Text,
		QueuedAt: s.now().UTC(),
	}
	value, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("email: encoding mail job: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.To),
		Value: value,
		Time:  job.QueuedAt,
	})
	if err != nil {
		return fmt.Errorf("email: publishing mail job: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSender) Close() error {
	return s.writer.Close()
}
