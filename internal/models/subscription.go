package models

import "time"

// Plan тип тарифного плана подписки.
type Plan string

const (
	// PlanTrial пробный план. В текущей модели пробный доступ выдаётся счётчиком
	// сообщений при создании аккаунта, строки с этим планом не создаются.
	PlanTrial Plan = "trial"
	// PlanPremium оплаченный план, дающий VIP-доступ.
	PlanPremium Plan = "premium"
)

// Subscription ограниченный по времени период действия плана.
// StartDate и EndDate включительные, хранятся с точностью до дня.
type Subscription struct {
	ID         int64     `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Plan       Plan      `json:"plan"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ActiveOn сообщает, действует ли подписка в указанный день.
func (s *Subscription) ActiveOn(day time.Time) bool {
	return !s.EndDate.Before(Day(day))
}

// Day обрезает время до начала суток в UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ExtendEnd вычисляет новую дату окончания: max(current, today) + days.
// current может быть nil, если активной подписки нет.
func ExtendEnd(current *time.Time, today time.Time, days int) time.Time {
	base := Day(today)
	if current != nil && Day(*current).After(base) {
		base = Day(*current)
	}
	return base.AddDate(0, 0, days)
}
