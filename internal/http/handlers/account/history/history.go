// Package history отдаёт последние обмены пользователя с AI.
package history

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/pomogator/relay/internal/http/query"
	"github.com/pomogator/relay/internal/http/response"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Repository читает историю сообщений, новые первыми.
type Repository interface {
	ListHistory(ctx context.Context, telegramID int64, limit int) ([]*models.MessageHistory, error)
}

// Handler обработчик GET /history.
type Handler struct {
	log  *slog.Logger
	repo Repository
}

// New создаёт Handler.
func New(log *slog.Logger, repo Repository) *Handler {
	return &Handler{log: log, repo: repo}
}

// ServeHTTP godoc
// @Summary История сообщений
// @Description Последние обмены пользователя с AI, новые первыми
// @Tags Accounts
// @Produce json
// @Param telegram_id query int true "Telegram ID"
// @Param limit query int false "Сколько записей вернуть (по умолчанию 10, максимум 100)"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректные параметры"
// @Router /history [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.history"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	telegramID, err := query.TelegramID(r)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}
	limit, err := query.Limit(r, defaultLimit, maxLimit)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}

	res, err := h.repo.ListHistory(r.Context(), telegramID, limit)
	if err != nil {
		log.Error("failed to list history", sl.TelegramID(telegramID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if res == nil {
		res = []*models.MessageHistory{}
	}

	log.Debug("history listed", sl.TelegramID(telegramID), slog.Int("count", len(res)))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"count":    len(res),
		"messages": res,
	}))
}
