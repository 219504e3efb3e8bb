// Package query разбирает параметры строки запроса, общие для обработчиков API.
package query

import (
	"errors"
	"net/http"
	"strconv"
)

var (
	// ErrMissingTelegramID параметр telegram_id не передан.
	ErrMissingTelegramID = errors.New("telegram_id is required")
	// ErrInvalidTelegramID telegram_id не является положительным целым.
	ErrInvalidTelegramID = errors.New("telegram_id must be a positive integer")
	// ErrInvalidLimit limit не является положительным целым.
	ErrInvalidLimit = errors.New("limit must be a positive integer")
)

// TelegramID читает обязательный параметр telegram_id.
func TelegramID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("telegram_id")
	if raw == "" {
		return 0, ErrMissingTelegramID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidTelegramID
	}
	return id, nil
}

// Limit читает параметр limit. Без параметра возвращает def,
// значения больше maxLimit урезаются до maxLimit.
func Limit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, ErrInvalidLimit
	}
	return min(limit, maxLimit), nil
}
