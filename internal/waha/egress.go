package waha

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Egress abstracts message delivery so the router can be tested without
// a WhatsApp session. Best effort: callers log failures and move on.
type Egress interface {
	SendText(ctx context.Context, chatID, text string) error
	SendImage(ctx context.Context, chatID, pngBase64, caption string) error
}

// NewEgress returns a client-backed egress, or a log-only one when
// dryrun is set (local development without a paired session).
func NewEgress(c *Client, dryrun bool, logger *zap.Logger) Egress {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dryrun {
		return &dryrunEgress{logger: logger}
	}
	return &clientEgress{c: c}
}

type clientEgress struct{ c *Client }

func (e *clientEgress) SendText(ctx context.Context, chatID, text string) error {
	if e == nil || e.c == nil {
		return errors.New("egress not available")
	}
	return e.c.SendText(ctx, chatID, text)
}

func (e *clientEgress) SendImage(ctx context.Context, chatID, pngBase64, caption string) error {
	if e == nil || e.c == nil {
		return errors.New("egress not available")
	}
	return e.c.SendImage(ctx, chatID, pngBase64, caption)
}

type dryrunEgress struct{ logger *zap.Logger }

func (e *dryrunEgress) SendText(_ context.Context, chatID, text string) error {
	e.logger.Info("egress_dryrun", zap.String("type", "text"), zap.String("chat_id", chatID), zap.String("text", text))
	return nil
}

func (e *dryrunEgress) SendImage(_ context.Context, chatID, _, caption string) error {
	e.logger.Info("egress_dryrun", zap.String("type", "image"), zap.String("chat_id", chatID), zap.String("caption", caption))
	return nil
}
