package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency валюта платежа.
type Currency string

// Поддерживаемые валюты.
const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Valid сообщает, поддерживается ли валюта.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyRUB, CurrencyUSD, CurrencyEUR:
		return true
	}
	return false
}

// Payment одна попытка оплаты.
// Success равен nil, пока платёж не подтверждён; переводится в true/false ровно один раз.
type Payment struct {
	ID                int64           `json:"id"`
	TelegramID        int64           `json:"telegram_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          Currency        `json:"currency"`
	ExternalPaymentID string          `json:"external_payment_id"`
	Success           *bool           `json:"success"`
	PaymentDate       time.Time       `json:"payment_date"`
	CreatedAt         time.Time       `json:"created_at"`
}

// Pending сообщает, ожидает ли платёж подтверждения.
func (p *Payment) Pending() bool {
	return p.Success == nil
}

// PaymentConfirmation итог подтверждения платежа: сам платёж
// и подписка, продлённая при успешной оплате (nil при неуспехе).
type PaymentConfirmation struct {
	Payment      *Payment
	Subscription *Subscription
}
