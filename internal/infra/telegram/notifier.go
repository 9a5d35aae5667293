// internal/infra/telegram/notifier.go
package telegram

import (
	"fmt"

	"gopkg.in/telebot.v3"

	"standup_attendance_service/internal/domain/notify"
)

// TelebotNotifier implements the notify.Notifier interface using the
// gopkg.in/telebot.v3 library, posting session lifecycle announcements to the
// administrators' chat.
type TelebotNotifier struct {
	bot         *telebot.Bot
	adminChatID int64
}

func NewTelebotNotifier(b *telebot.Bot, adminChatID int64) *TelebotNotifier {
	return &TelebotNotifier{bot: b, adminChatID: adminChatID}
}

func (t *TelebotNotifier) SessionActivated(sessionKey string, participantCount int) error {
	text := fmt.Sprintf("Standup session %s is open. %d participants on the roster.", sessionKey, participantCount)
	return t.send(text)
}

func (t *TelebotNotifier) SessionFinalized(sessionKey string, summary notify.FinalizeSummary, auto bool) error {
	closedBy := "an operator"
	if auto {
		closedBy = "the timeout watcher"
	}
	text := fmt.Sprintf("Standup session %s was closed by %s. Present: %d, not available: %d, missed: %d.",
		sessionKey, closedBy, summary.Present, summary.NotAvailable, summary.Missed)
	return t.send(text)
}

func (t *TelebotNotifier) send(text string) error {
	recipient := &telebot.Chat{ID: t.adminChatID}
	_, err := t.bot.Send(recipient, text, &telebot.SendOptions{})
	return err
}
