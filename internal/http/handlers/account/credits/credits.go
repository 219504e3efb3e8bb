// Package credits отдаёт профиль пользователя: VIP, остаток и подписку.
package credits

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/pomogator/relay/internal/http/query"
	"github.com/pomogator/relay/internal/http/response"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
)

// Service возвращает профиль пользователя.
type Service interface {
	Status(ctx context.Context, telegramID int64) (*models.AccountStatus, error)
}

// Handler обработчик GET /get_credits.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Профиль пользователя
// @Description Возвращает VIP-статус, остаток бесплатных сообщений и активную подписку
// @Tags Accounts
// @Produce json
// @Param telegram_id query int true "Telegram ID"
// @Success 200 {object} response.Response{data=models.AccountStatus}
// @Failure 400 {object} response.ErrorResponse "Некорректный telegram_id"
// @Failure 404 {object} response.ErrorResponse "Аккаунт не найден"
// @Router /get_credits [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.credits"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	telegramID, err := query.TelegramID(r)
	if err != nil {
		log.Warn("bad telegram_id", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error(err.Error()))
		return
	}

	st, err := h.service.Status(r.Context(), telegramID)
	if errors.Is(err, models.ErrAccountNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("user not found"))
		return
	}
	if err != nil {
		log.Error("failed to get account status", sl.TelegramID(telegramID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.OKWithData(st))
}
