// Package paymentlist отдаёт платежи пользователя.
package paymentlist

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

// Service перечисляет платежи.
type Service interface {
	List(ctx context.Context, telegramID int64) ([]*models.Payment, error)
}

// Handler обработчик GET /payments.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{log: log, service: service}
}

// ServeHTTP godoc
// @Summary Платежи пользователя
// @Tags Payments
// @Produce json
// @Param telegram_id query int true "Telegram ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.ErrorResponse "Некорректный telegram_id"
// @Router /payments [get]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.list"
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

	res, err := h.service.List(r.Context(), telegramID)
	if err != nil {
		log.Error("failed to list payments", sl.TelegramID(telegramID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}
	if res == nil {
		res = []*models.Payment{}
	}

	render.JSON(w, r, response.OKWithData(map[string]any{
		"count":    len(res),
		"payments": res,
	}))
}
