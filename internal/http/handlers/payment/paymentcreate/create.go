// Package paymentcreate создаёт счёт на оплату PREMIUM.
package paymentcreate

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/shopspring/decimal"

	"github.com/pomogator/relay/internal/http/response"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
)

// Request тело запроса на создание счёта. Amount принимается строкой или числом.
type Request struct {
	TelegramID int64           `json:"telegram_id" validate:"required,gt=0"`
	Amount     decimal.Decimal `json:"amount" swaggertype:"string" example:"299.00"`
	Currency   string          `json:"currency" validate:"required,oneof=RUB USD EUR"`
}

// Service создаёт счета.
type Service interface {
	CreateInvoice(ctx context.Context, telegramID int64, amount decimal.Decimal, currency models.Currency) (*models.Payment, error)
}

// Handler обработчик POST /payments.
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
// @Summary Создать счёт
// @Description Создаёт ожидающий платёж за PREMIUM и возвращает его внешний идентификатор
// @Tags Payments
// @Accept json
// @Produce json
// @Param request body Request true "Данные счёта"
// @Success 201 {object} response.Response{data=models.Payment}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Router /payments [post]
// @Security BearerAuth
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.create"
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
	if !req.Amount.IsPositive() {
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, response.Error("field Amount must be greater than 0"))
		return
	}

	p, err := h.service.CreateInvoice(r.Context(), req.TelegramID, req.Amount, models.Currency(req.Currency))
	if err != nil {
		log.Error("failed to create invoice", sl.TelegramID(req.TelegramID), sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(p))
}
