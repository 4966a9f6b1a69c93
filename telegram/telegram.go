package telegram

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func EscapeMessage(message string) string {
	r := strings.NewReplacer(
		"_", "\\_",
		"*", "\\*",
		"[", "\\[",
		"`", "\\`",
	)
	return r.Replace(message)
}

// Notifier pushes operational alerts (training failures mostly) to the admin
// chat. Everything is best effort: a broken bot config never blocks a job.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewNotifier returns nil when TG_TOKEN or TG_ADMIN_CHAT_ID is not set,
// callers treat a nil notifier as alerts disabled.
func NewNotifier() *Notifier {
	token := os.Getenv("TG_TOKEN")
	chat := os.Getenv("TG_ADMIN_CHAT_ID")
	if token == "" || chat == "" {
		return nil
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		fmt.Println("Invalid TG_ADMIN_CHAT_ID:", err)
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		fmt.Println("Error tg bot init:", err)
		return nil
	}
	return &Notifier{bot: bot, chatID: chatID}
}

func (n *Notifier) Alert(message string) {
	if n == nil || n.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(n.chatID, EscapeMessage(message))
	msg.ParseMode = "markdown"
	if _, err := n.bot.Send(msg); err != nil {
		fmt.Println("Error sending tg alert:", err)
	}
}
