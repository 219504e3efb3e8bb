package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pomogator/relay/internal/http/handlers/payment/paymentwebhook"
	"github.com/pomogator/relay/internal/lib/jwt"
	"github.com/pomogator/relay/internal/lib/metrics"
	"github.com/pomogator/relay/internal/services/fulfillment"
	"github.com/pomogator/relay/internal/services/ledger"
	"github.com/pomogator/relay/internal/services/payment"
	"github.com/pomogator/relay/internal/services/subscription"
	"github.com/pomogator/relay/internal/storage/memory"
)

const (
	testSecret  = "jwt-secret"
	hookSecret  = "hook-secret"
	trialPerDay = 2
)

type echoProvider struct{}

func (echoProvider) Generate(_ context.Context, text string) (string, error) {
	if text == "fail" {
		return "", errors.New("upstream 503")
	}
	return "echo: " + text, nil
}

func (echoProvider) Name() string  { return "echo" }
func (echoProvider) Model() string { return "echo-1" }

type envelope struct {
	Status string          `json:"status"`
	Error  string          `json:"error"`
	Data   json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	token  string
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
	store := memory.New()
	l := ledger.New(store, nil, logger, trialPerDay)
	subs := subscription.New(store, l, nil, nil, logger, subscription.Options{PremiumPeriodDays: 30})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	maker := jwt.NewJWTMaker(testSecret, time.Hour)

	r := chi.NewRouter()
	RegisterRoutes(r, logger, Deps{
		Messages: fulfillment.New(l, store, echoProvider{}, m, logger, fulfillment.Options{
			RequestTimeout: time.Second,
			RefundTimeout:  time.Second,
		}),
		Accounts:      subs,
		History:       store,
		Payments:      payment.New(store, l, "telegram", logger),
		Confirmations: subs,
		Storage:       store,
		Tokens:        maker,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		WebhookSecret: hookSecret,
		RateLimit:     1000,
		RateBurst:     1000,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	token, err := maker.GenerateToken("bot", jwt.ScopeBot)
	require.NoError(t, err)
	return &testServer{t: t, srv: srv, token: token, client: srv.Client()}
}

func (s *testServer) do(method, path string, body any, headers map[string]string) (int, envelope) {
	s.t.Helper()
	var reader io.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func (s *testServer) auth() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func TestRoutes_RequireServiceToken(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"process message", http.MethodPost, "/api/v1/process_message"},
		{"credits", http.MethodGet, "/api/v1/get_credits?telegram_id=1"},
		{"trial", http.MethodPost, "/api/v1/start_trial"},
		{"history", http.MethodGet, "/api/v1/history?telegram_id=1"},
		{"create payment", http.MethodPost, "/api/v1/payments"},
		{"list payments", http.MethodGet, "/api/v1/payments?telegram_id=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(tt.method, tt.path, nil, nil)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, "Error", env.Status)
		})
	}
}

func TestRoutes_OpenEndpoints(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.client.Get(s.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	code, _ := s.do(http.MethodPost, "/api/v1/process_message", map[string]any{"telegram_id": 1, "text": "hi"}, s.auth())
	require.Equal(t, http.StatusOK, code)

	resp, err = s.client.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `relay_fulfillment_total{outcome="ok"} 1`)
}

func TestRoutes_TrialFlow(t *testing.T) {
	s := newTestServer(t)
	const id = 42

	code, _ := s.do(http.MethodGet, "/api/v1/get_credits?telegram_id=42", nil, s.auth())
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/v1/start_trial", map[string]any{"telegram_id": id}, s.auth())
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/v1/start_trial", map[string]any{"telegram_id": id}, s.auth())
	assert.Equal(t, http.StatusConflict, code)

	code, env := s.do(http.MethodPost, "/api/v1/process_message", map[string]any{"telegram_id": id, "text": "hello"}, s.auth())
	require.Equal(t, http.StatusOK, code)
	var reply struct {
		Reply            string `json:"reply"`
		RemainingCredits int    `json:"remaining_credits"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &reply))
	assert.Equal(t, "echo: hello", reply.Reply)
	assert.Equal(t, trialPerDay-1, reply.RemainingCredits)

	code, _ = s.do(http.MethodPost, "/api/v1/process_message", map[string]any{"telegram_id": id, "text": "fail"}, s.auth())
	assert.Equal(t, http.StatusBadGateway, code)

	code, env = s.do(http.MethodGet, "/api/v1/get_credits?telegram_id=42", nil, s.auth())
	require.Equal(t, http.StatusOK, code)
	var st struct {
		TrialMessagesLeft int `json:"trial_messages_left"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, trialPerDay-1, st.TrialMessagesLeft, "failed AI call must be refunded")

	code, _ = s.do(http.MethodPost, "/api/v1/process_message", map[string]any{"telegram_id": id, "text": "again"}, s.auth())
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(http.MethodPost, "/api/v1/process_message", map[string]any{"telegram_id": id, "text": "more"}, s.auth())
	assert.Equal(t, http.StatusPaymentRequired, code)
	assert.Equal(t, "not enough credits", env.Error)

	code, env = s.do(http.MethodGet, "/api/v1/history?telegram_id=42", nil, s.auth())
	require.Equal(t, http.StatusOK, code)
	var hist struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &hist))
	assert.Equal(t, 2, hist.Count)
}

func TestRoutes_PaymentFlow(t *testing.T) {
	s := newTestServer(t)
	const id = 7

	code, env := s.do(http.MethodPost, "/api/v1/payments",
		map[string]any{"telegram_id": id, "amount": "299.00", "currency": "RUB"}, s.auth())
	require.Equal(t, http.StatusCreated, code)
	var p struct {
		ExternalPaymentID string `json:"external_payment_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	require.NotEmpty(t, p.ExternalPaymentID)

	body, err := json.Marshal(paymentwebhook.Payload{ExternalPaymentID: p.ExternalPaymentID, Status: "succeeded"})
	require.NoError(t, err)

	code, _ = s.do(http.MethodPost, "/api/v1/payments/webhook", body,
		map[string]string{paymentwebhook.SignatureHeader: "forged"})
	assert.Equal(t, http.StatusUnauthorized, code)

	signed := map[string]string{paymentwebhook.SignatureHeader: paymentwebhook.Sign(hookSecret, body)}
	code, _ = s.do(http.MethodPost, "/api/v1/payments/webhook", body, signed)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/v1/payments/webhook", body, signed)
	assert.Equal(t, http.StatusConflict, code)

	code, env = s.do(http.MethodGet, "/api/v1/get_credits?telegram_id=7", nil, s.auth())
	require.Equal(t, http.StatusOK, code)
	var st struct {
		IsVIP                 bool `json:"is_vip"`
		HasActiveSubscription bool `json:"has_active_subscription"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.IsVIP)
	assert.True(t, st.HasActiveSubscription)

	for range 5 {
		code, _ = s.do(http.MethodPost, "/api/v1/process_message", map[string]any{"telegram_id": id, "text": "vip"}, s.auth())
		assert.Equal(t, http.StatusOK, code, "vip access is unlimited")
	}
}
