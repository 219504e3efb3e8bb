// Package models содержит доменные структуры сервиса: аккаунт пользователя бота,
// подписки, платежи и историю обращений к AI. Структуры используются в бизнес‑логике,
// хранилище и при формировании JSON‑ответов.
package models

import "time"

// DefaultTrialMessages количество бесплатных сообщений, выдаваемых новому аккаунту,
// если в конфиге не задано иное.
const DefaultTrialMessages = 10

// Account представляет аккаунт пользователя Telegram-бота.
// Единственный владелец полей TrialBalance и IsVIP - леджер,
// остальные слои получают их только на чтение.
type Account struct {
	ID           int64     `json:"id"`
	TelegramID   int64     `json:"telegram_id"`   // Внешний идентификатор пользователя (уникальный)
	TrialBalance int       `json:"trial_balance"` // Остаток бесплатных сообщений, всегда >= 0
	IsVIP        bool      `json:"is_vip"`        // Безлимитный доступ по оплаченной подписке
	LastActive   time.Time `json:"last_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AccountStatus сводка по аккаунту для профиля пользователя.
type AccountStatus struct {
	TelegramID            int64      `json:"telegram_id"`
	IsVIP                 bool       `json:"is_vip"`
	TrialMessagesLeft     int        `json:"trial_messages_left"`
	IsTrialActive         bool       `json:"is_trial_active"`
	HasActiveSubscription bool       `json:"has_active_subscription"`
	SubscriptionEndDate   *time.Time `json:"subscription_end_date,omitempty"`
	ActivePlan            *Plan      `json:"active_plan,omitempty"`
}

// NewAccountStatus собирает сводку из снимка аккаунта и активной подписки (может быть nil).
func NewAccountStatus(acc *Account, active *Subscription) *AccountStatus {
	st := &AccountStatus{
		TelegramID:        acc.TelegramID,
		IsVIP:             acc.IsVIP,
		TrialMessagesLeft: acc.TrialBalance,
		IsTrialActive:     !acc.IsVIP && acc.TrialBalance > 0,
	}
	if active != nil {
		end := active.EndDate
		plan := active.Plan
		st.HasActiveSubscription = true
		st.SubscriptionEndDate = &end
		st.ActivePlan = &plan
	}
	return st
}
