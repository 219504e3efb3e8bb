package models

import "time"

// MessageHistory запись об одном успешном обмене с AI-провайдером.
// Создаётся только после получения ответа, дальше не изменяется.
type MessageHistory struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	UserText   string    `json:"user_text"`
	AIText     string    `json:"ai_text"`
	CreatedAt  time.Time `json:"created_at"`
}
