// Package paymentwebhook принимает уведомления платёжного провайдера
// о результате оплаты.
package paymentwebhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/pomogator/relay/internal/http/response"
	"github.com/pomogator/relay/internal/lib/sl"
	"github.com/pomogator/relay/internal/models"
	"github.com/pomogator/relay/internal/services/payment"
)

// SignatureHeader заголовок с base64(HMAC-SHA256(body)).
const SignatureHeader = "X-Signature"

const maxBodySize = 64 << 10

// Payload тело уведомления.
type Payload struct {
	ExternalPaymentID string `json:"external_payment_id"`
	Status            string `json:"status"`
}

// Confirmed результат обработки уведомления.
type Confirmed struct {
	ExternalPaymentID   string     `json:"external_payment_id"`
	Success             bool       `json:"success"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
}

// Service применяет результат оплаты.
type Service interface {
	ConfirmPayment(ctx context.Context, externalPaymentID string, succeeded bool) (*models.PaymentConfirmation, error)
}

// Handler обработчик POST /payments/webhook.
type Handler struct {
	log           *slog.Logger
	service       Service
	webhookSecret string
}

// New создаёт Handler. Без секрета все уведомления отклоняются.
func New(log *slog.Logger, service Service, secret string) *Handler {
	return &Handler{
		log:           log,
		service:       service,
		webhookSecret: secret,
	}
}

// Sign вычисляет подпись тела уведомления.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (h *Handler) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(h.webhookSecret, body)), []byte(signature))
}

// ServeHTTP godoc
// @Summary Уведомление об оплате
// @Description Подтверждает или отклоняет ожидающий платёж. Успешная оплата продлевает PREMIUM
// @Tags Payments
// @Accept json
// @Produce json
// @Param X-Signature header string true "base64(HMAC-SHA256(body))"
// @Param request body Payload true "Результат оплаты"
// @Success 200 {object} response.Response{data=Confirmed}
// @Failure 400 {object} response.ErrorResponse "Некорректное тело"
// @Failure 401 {object} response.ErrorResponse "Неверная подпись"
// @Failure 404 {object} response.ErrorResponse "Платёж не найден"
// @Failure 409 {object} response.ErrorResponse "Платёж уже обработан"
// @Router /payments/webhook [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.payment.webhook"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		log.Error("failed to read webhook body", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		log.Warn("invalid or missing webhook signature")
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, response.Error("invalid signature"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ExternalPaymentID == "" || strings.TrimSpace(payload.Status) == "" {
		log.Error("failed to unmarshal webhook payload", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response.Error("invalid request body"))
		return
	}

	succeeded := payment.Succeeded(payload.Status)
	res, err := h.service.ConfirmPayment(r.Context(), payload.ExternalPaymentID, succeeded)
	switch {
	case errors.Is(err, models.ErrPaymentNotFound):
		log.Warn("unknown payment", slog.String("external_payment_id", payload.ExternalPaymentID))
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, response.Error("payment not found"))
		return
	case errors.Is(err, models.ErrPaymentAlreadyResolved):
		log.Info("payment already resolved", slog.String("external_payment_id", payload.ExternalPaymentID))
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, response.Error("payment already resolved"))
		return
	case err != nil:
		log.Error("failed to confirm payment", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response.Error("internal error"))
		return
	}

	out := Confirmed{ExternalPaymentID: payload.ExternalPaymentID, Success: succeeded}
	if res.Subscription != nil {
		end := res.Subscription.EndDate
		out.SubscriptionEndDate = &end
	}
	log.Info("webhook processed",
		slog.String("external_payment_id", payload.ExternalPaymentID),
		slog.String("status", payload.Status),
	)
	render.JSON(w, r, response.OKWithData(out))
}
