package notify

import (
	"context"

	"github.com/go-faster/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/xenking/store-core/internal/domain/order"
)

// Sender is the part of *tgbotapi.BotAPI used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram delivers events as chat messages. Account IDs are Telegram user
// IDs, so the customer's private chat is addressed directly.
type Telegram struct {
	bot Sender
}

var _ Deliverer = (*Telegram)(nil)

// NewTelegram creates a Telegram deliverer.
func NewTelegram(bot Sender) *Telegram {
	return &Telegram{bot: bot}
}

// Deliver sends the rendered message. The bot API call takes no context, so
// ctx is only checked before sending.
func (t *Telegram) Deliver(ctx context.Context, ev order.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(ev.Order.AccountID, Message(ev))
	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrapf(err, "send to %d", ev.Order.AccountID)
	}
	return nil
}
