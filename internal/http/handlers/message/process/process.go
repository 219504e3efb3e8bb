// Package process обрабатывает сообщение пользователя через AI-провайдера.
package process

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/pomogator/relay/internal/http/response"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
	"github.com/pomogator/relay/internal/services/fulfillment"
)

// Request тело запроса на обработку сообщения.
type Request struct {
	TelegramID int64  `json:"telegram_id" validate:"required,gt=0"`
	Text       string `json:"text" validate:"required,max=4096"`
}

// Reply ответ AI и остаток бесплатных сообщений.
type Reply struct {
	Reply            string `json:"reply"`
	RemainingCredits int    `json:"remaining_credits"`
	IsVIP            bool   `json:"is_vip"`
}

// Service обрабатывает сообщение.
type Service interface {
	Process(ctx context.Context, req fulfillment.Request) (*fulfillment.Result, error)
}

// Handler обработчик POST /process_message.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создаёт Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Обработать сообщение
// @Description Проверяет доступ, списывает бесплатное сообщение и возвращает ответ AI
// @Tags Messages
// @Accept json
// @Produce json
// @Param request body Request true "Сообщение пользователя"
// @Success 200 {object} response.Response{data=Reply}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 402 {object} response.ErrorResponse "Нет VIP и бесплатных сообщений"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 502 {object} response.ErrorResponse "AI-провайдер недоступен"
// @Router /process_message [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.message.process"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		errors.As(err, &verrs)
		log.Warn("validation failed", sl.Err(err))
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(verrs))
		return
	}

	res, err := h.service.Process(r.Context(), fulfillment.Request{TelegramID: req.TelegramID, Text: req.Text})
	switch {
	case errors.Is(err, models.ErrNotEnoughCredits):
		log.Info("no credits left", sl.TelegramID(req.TelegramID))
		render.Status(r, http.StatusPaymentRequired)
		render.JSON(w, r, response.Error("not enough credits"))
		return
	case errors.Is(err, models.ErrAIService):
		log.Warn("ai service error", sl.TelegramID(req.TelegramID), sl.Err(err))
		render.Status(r, http.StatusBadGateway)
		render.JSON(w, r, response.Error("ai service unavailable, please try again later"))
		return
	case err != nil:
		log.Error("failed to process message", sl.TelegramID(req.TelegramID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	log.Info("message processed", sl.TelegramID(req.TelegramID), slog.Int("remaining", res.Remaining))
	render.JSON(w, r, response.OKWithData(Reply{
		Reply:            res.Reply,
		RemainingCredits: res.Remaining,
		IsVIP:            res.IsVIP,
	}))
}
