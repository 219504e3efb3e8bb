// Package trial выдаёт пользователю пробный лимит сообщений.
package trial

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
)

// Request тело запроса активации пробного доступа.
type Request struct {
	TelegramID int64 `json:"telegram_id" validate:"required,gt=0"`
}

// Started результат активации.
type Started struct {
	TrialRemaining int `json:"trial_remaining"`
}

// Service активирует пробный доступ.
type Service interface {
	ActivateTrial(ctx context.Context, telegramID int64) (*models.Account, error)
}

// Handler обработчик POST /start_trial.
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
// @Summary Активировать пробный доступ
// @Description Создаёт аккаунт с пробным лимитом сообщений. Повторная активация запрещена
// @Tags Accounts
// @Accept json
// @Produce json
// @Param request body Request true "Пользователь"
// @Success 200 {object} response.Response{data=Started}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 409 {object} response.ErrorResponse "Пробный доступ уже активирован"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /start_trial [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.account.trial"
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
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.ValidationError(verrs))
		return
	}

	acc, err := h.service.ActivateTrial(r.Context(), req.TelegramID)
	if errors.Is(err, models.ErrTrialAlreadyActivated) {
		log.Info("trial already activated", sl.TelegramID(req.TelegramID))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("trial already activated"))
		return
	}
	if err != nil {
		log.Error("failed to activate trial", sl.TelegramID(req.TelegramID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.JSON(w, r, response.OKWithData(Started{TrialRemaining: acc.TrialBalance}))
}
