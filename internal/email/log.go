package email

import (
	"context"
	"log/slog"
)

// LogSender is the fallback when no SMTP credentials are configured: every
// message is logged instead of delivered, so local sign-up and reset flows
// still work (the OTP and links show up in the server log).
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	body := msg.Text
	if body == "" {
		body = msg.HTML
	}
	s.logger.InfoContext(ctx, "email not sent (no SMTP credentials)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", body),
	)
	return nil
}
