// Package bot содержит процесс Telegram-бота: long polling обновлений и
// пересылку сообщений в backend relay.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pomogator/relay/internal/backendclient"
	"github.com/pomogator/relay/internal/config"
	"github.com/pomogator/relay/internal/lib/jwt"
	"github.com/pomogator/relay/internal/telegram"
)

// App представляет приложение бота.
type App struct {
	bot    *telegram.Bot
	logger *slog.Logger
}

// New подключается к Telegram и настраивает клиента backend.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg.JWTToken.JWTSecretKey == "" {
		return nil, fmt.Errorf("jwt secret is not set")
	}
	api, err := telegram.NewAPI(cfg.Telegram)
	if err != nil {
		return nil, err
	}
	logger.Info("authorized on telegram", slog.String("username", api.Self.UserName))

	tokens := jwt.NewJWTMaker(cfg.JWTToken.JWTSecretKey, cfg.JWTToken.TokenTTL)
	backend := backendclient.New(cfg.Telegram.BackendURL, cfg.Telegram.Timeout, tokens)

	return &App{
		bot:    telegram.NewBot(api, backend, logger),
		logger: logger,
	}, nil
}

// Run обрабатывает обновления до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := a.bot.Run(ctx)
	a.logger.Info("bot shutting down gracefully")
	return err
}
