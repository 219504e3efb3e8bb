package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/pomogator/relay/internal/backendclient"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
)

const (
	pollTimeout = 60
	maxInFlight = 16
)

// Тексты ответов бота.
const (
	textHelp = "Отправьте вопрос, и я передам его AI.\n\n" +
		"/start или /trial - получить бесплатные сообщения\n" +
		"/balance - остаток сообщений и подписка\n" +
		"/pay - оформить подписку\n" +
		"/help - эта справка"
	textTrialStarted   = "Привет! Вам доступно бесплатных сообщений: %d. Просто напишите вопрос."
	textTrialActivated = "Пробный доступ уже активирован. Проверить остаток: /balance"
	textStatusVIP      = "VIP-доступ без ограничений."
	textStatusVIPUntil = "VIP-доступ без ограничений до %s."
	textStatusFree     = "Осталось бесплатных сообщений: %d."
	textNoAccount      = "Вы ещё не начали работу с ботом. Отправьте /start"
	textPay            = "Подписка PREMIUM открывает безлимитный доступ на 30 дней. Оплата принимается через платёжного провайдера, ссылка придёт после подтверждения счёта."
	textNoCredits      = "Бесплатные сообщения закончились. Оформите подписку: /pay"
	textAIUnavailable  = "AI-сервис временно недоступен, попробуйте позже. Сообщение не списано."
	textFailed         = "Что-то пошло не так, попробуйте позже."
	textUnknownCommand = "Неизвестная команда. Список команд: /help"
)

// Backend вызовы backend relay, нужные боту.
type Backend interface {
	ProcessMessage(ctx context.Context, telegramID int64, text string) (*backendclient.Reply, error)
	StartTrial(ctx context.Context, telegramID int64) (int, error)
	GetCredits(ctx context.Context, telegramID int64) (*models.AccountStatus, error)
}

// Bot читает обновления и отвечает пользователям.
type Bot struct {
	api     BotAPI
	sender  *Sender
	backend Backend
	log     *slog.Logger
}

// NewBot создаёт бота.
func NewBot(api BotAPI, backend Backend, log *slog.Logger) *Bot {
	return &Bot{
		api:     api,
		sender:  NewSender(api),
		backend: backend,
		log:     log,
	}
}

// Run получает обновления long polling'ом до отмены ctx.
// Сообщения обрабатываются конкурентно, не больше maxInFlight одновременно.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()
	sem := make(chan struct{}, maxInFlight)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(msg *tgbotapi.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				b.handle(ctx, msg)
			}(upd.Message)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	text := b.Reply(ctx, msg.From.ID, msg.Command(), msg.Text)
	if text == "" {
		return
	}
	if err := b.sender.Send(ctx, msg.Chat.ID, text); err != nil {
		b.log.Error("failed to send reply", sl.TelegramID(msg.From.ID), sl.Err(err))
	}
}

// Reply возвращает ответ на команду command (без слэша) или на обычный текст.
// Пустая строка означает, что отвечать не нужно.
func (b *Bot) Reply(ctx context.Context, telegramID int64, command, text string) string {
	log := b.log.With(sl.TelegramID(telegramID))

	switch command {
	case "":
	case "start", "trial":
		left, err := b.backend.StartTrial(ctx, telegramID)
		switch {
		case errors.Is(err, models.ErrTrialAlreadyActivated):
			return textTrialActivated
		case err != nil:
			log.Error("failed to start trial", sl.Err(err))
			return textFailed
		}
		return fmt.Sprintf(textTrialStarted, left)
	case "balance", "status":
		st, err := b.backend.GetCredits(ctx, telegramID)
		switch {
		case errors.Is(err, models.ErrAccountNotFound):
			return textNoAccount
		case err != nil:
			log.Error("failed to get credits", sl.Err(err))
			return textFailed
		}
		if st.IsVIP {
			if st.SubscriptionEndDate != nil {
				return fmt.Sprintf(textStatusVIPUntil, st.SubscriptionEndDate.Format("02.01.2006"))
			}
			return textStatusVIP
		}
		return fmt.Sprintf(textStatusFree, st.TrialMessagesLeft)
	case "pay":
		return textPay
	case "help":
		return textHelp
	default:
		return textUnknownCommand
	}

	if text == "" {
		return ""
	}
	reply, err := b.backend.ProcessMessage(ctx, telegramID, text)
	switch {
	case errors.Is(err, models.ErrNotEnoughCredits):
		return textNoCredits
	case errors.Is(err, models.ErrAIService):
		return textAIUnavailable
	case err != nil:
		log.Error("failed to process message", sl.Err(err))
		return textFailed
	}
	return reply.Reply
}
