/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"usdt-recharge-go/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Notifier delivers a text message to a chat user.
type Notifier interface {
	SendMessage(ctx context.Context, recipientId, text string) error
}

// TelegramNotifier sends through the Bot API. Zapry exposes the same API
// under its own endpoint.
type TelegramNotifier struct {
	bot *tgbotapi.BotAPI
}

// NewTelegramNotifier connects with token. apiEndpoint is a format string
// like tgbotapi.APIEndpoint; empty selects Telegram.
func NewTelegramNotifier(cfg models.NotifyConfig) (*TelegramNotifier, error) {
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("telegram bot token cannot be empty")
	}
	endpoint := cfg.TelegramApiEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.TelegramBotToken, endpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to connect bot api: %w", err)
	}

	zap.L().Info("Bot notifier connected", zap.String("bot", bot.Self.UserName))
	return &TelegramNotifier{bot: bot}, nil
}

func (n *TelegramNotifier) SendMessage(ctx context.Context, recipientId, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatId, err := strconv.ParseInt(recipientId, 10, 64)
	if err != nil {
		return fmt.Errorf("recipient %q is not a chat id: %w", recipientId, err)
	}
	if _, err := n.bot.Send(tgbotapi.NewMessage(chatId, text)); err != nil {
		return fmt.Errorf("unable to send message to %s: %w", recipientId, err)
	}
	return nil
}

// LogNotifier writes messages to the log. Used when no bot token is set.
type LogNotifier struct{}

func (LogNotifier) SendMessage(_ context.Context, recipientId, text string) error {
	zap.L().Info("Notification", zap.String("recipient_id", recipientId), zap.String("text", text))
	return nil
}

// DepositCredited renders the message sent after a deposit is credited.
func DepositCredited(amount, balance decimal.Decimal, txHash string) string {
	var b strings.Builder
	b.WriteString("Deposit received\n")
	b.WriteString("━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(&b, "Amount: %s USDT\n", amount.StringFixed(6))
	fmt.Fprintf(&b, "Balance: %s USDT\n\n", balance.StringFixed(4))
	fmt.Fprintf(&b, "Transaction:\n%s\n\n", txHash)
	b.WriteString("Premium features are now unlocked:\n")
	b.WriteString("• In-depth interpretation\n")
	b.WriteString("• Unlimited readings\n")
	b.WriteString("• Unlimited chat")
	return b.String()
}
