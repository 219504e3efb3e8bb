// Package access решает, может ли сообщение пользователя быть отправлено AI-провайдеру.
package access

import "github.com/pomogator/relay/internal/models"

// Verdict решение политики доступа.
type Verdict int

const (
	// Deny доступ запрещён, бесплатные сообщения закончились.
	Deny Verdict = iota
	// AllowFree VIP, списание не требуется.
	AllowFree
	// AllowTrial доступ за счёт одного бесплатного сообщения.
	AllowTrial
)

func (v Verdict) String() string {
	switch v {
	case AllowFree:
		return "allow_free"
	case AllowTrial:
		return "allow_trial"
	default:
		return "deny"
	}
}

// Evaluate чистая функция от снимка аккаунта. VIP имеет приоритет над балансом.
// AllowTrial лишь предсказание: фактическое право даёт только успешное списание.
func Evaluate(acc models.Account) Verdict {
	switch {
	case acc.IsVIP:
		return AllowFree
	case acc.TrialBalance > 0:
		return AllowTrial
	default:
		return Deny
	}
}
