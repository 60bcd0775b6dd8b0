package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/gymledger/internal/models"
)

// TelegramService sends ledger notifications to the staff chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	apiBase     string
	client      *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		apiBase:     "https://api.telegram.org",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// FormatPrice formats an amount with thousand separators, two decimals and
// the currency code.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	fixed := amount.StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	sign := ""
	if strings.HasPrefix(whole, "-") {
		sign, whole = "-", whole[1:]
	}

	var result strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return sign + result.String() + "." + frac + " " + currency
}

// NotifySettlement tells staff about a new ledger entry. Pending transfers
// are flagged for manual review.
func (s *TelegramService) NotifySettlement(ctx context.Context, rec *models.PaymentRecord) error {
	if s.adminChatID == "" {
		return nil
	}

	title := "<b>✅ PAGO RECIBIDO</b>"
	if rec.Status == models.PaymentStatusPending {
		title = "<b>⏳ TRANSFERENCIA POR REVISAR</b>"
	}

	methodText := "Tarjeta"
	switch rec.Method {
	case models.PaymentMethodTransfer:
		methodText = "Transferencia"
	case models.PaymentMethodCash:
		methodText = "Efectivo"
	}
	if rec.LastFourDigits != "" {
		methodText += " •••• " + rec.LastFourDigits
	}

	message := fmt.Sprintf(`%s
<b>👤 Cliente:</b> %s
<b>🪪 Cédula:</b> %s
<b>💰 Monto:</b> %s
<b>💳 Método:</b> %s
<b>🧾 Referencia:</b> %s
━━━━━━━━━━━━━━━━━━`,
		title,
		html.EscapeString(rec.PayerName),
		html.EscapeString(rec.PayerIdentification),
		FormatPrice(rec.Amount, rec.Currency),
		methodText,
		html.EscapeString(rec.ExternalPaymentID),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}
