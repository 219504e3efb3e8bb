// Package sl содержит вспомогательные функции для работы с логгером slog:
// единообразные атрибуты для ошибок и идентификаторов пользователей,
// а также настройку логгера по окружению.
package sl

import (
	"io"
	"log/slog"
	"os"
)

// Err возвращает slog.Attr с ключом "error" и значением текста ошибки.
// Для nil возвращает пустую строку.
//
// Пример:
//
//	log.Error("failed to debit trial", sl.Err(err))
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(err.Error()),
	}
}

// TelegramID возвращает атрибут с идентификатором пользователя.
func TelegramID(id int64) slog.Attr {
	return slog.Int64("telegram_id", id)
}

// SetupLogger создаёт текстовый логгер: debug для local и dev, info для остальных окружений.
func SetupLogger(env string) *slog.Logger {
	return newLogger(os.Stdout, env)
}

func newLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	switch env {
	case "local", "dev":
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
