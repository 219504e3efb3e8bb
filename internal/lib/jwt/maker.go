// Package jwt выпускает и проверяет сервисные JWT-токены, которыми бот
// авторизуется в API бэкенда.
package jwt

import (
	"time"
)

// Issuer значение поля iss во всех токенах сервиса.
const Issuer = "relay"

// ScopeBot права фронтенда бота: обработка сообщений и профиль пользователя.
const ScopeBot = "bot"

// Maker выпускает и разбирает токены.
type Maker interface {
	GenerateToken(service, scope string) (string, error)
	ParseToken(tokenStr string) (*ServiceClaims, error)
}

// MakerImpl подписывает токены общим секретом (HS256).
type MakerImpl struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewJWTMaker создаёт MakerImpl.
func NewJWTMaker(secretKey string, ttl time.Duration) *MakerImpl {
	return &MakerImpl{
		secretKey: secretKey,
		tokenTTL:  ttl,
	}
}
