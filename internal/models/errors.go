package models

import "errors"

var (
	// ErrNotEnoughCredits нет VIP и закончились бесплатные сообщения.
	ErrNotEnoughCredits = errors.New("not enough credits")
	// ErrAIService AI-провайдер вернул ошибку или не ответил вовремя.
	ErrAIService = errors.New("ai service error")
	// ErrAccountNotFound аккаунт с таким telegram_id не существует.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists аккаунт уже создан конкурентным запросом.
	ErrAccountExists = errors.New("account already exists")
	// ErrTrialAlreadyActivated пробный доступ уже был выдан этому аккаунту.
	ErrTrialAlreadyActivated = errors.New("trial already activated")
	// ErrPaymentNotFound платёж с таким внешним идентификатором не найден.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentAlreadyResolved платёж уже подтверждён или отклонён.
	ErrPaymentAlreadyResolved = errors.New("payment already resolved")
	// ErrPaymentExists платёж с таким внешним идентификатором уже существует.
	ErrPaymentExists = errors.New("payment already exists")
)
