package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testHandler(cfg Config) *Handler {
	return New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func TestCheckoutValidation(t *testing.T) {
	cases := []struct {
		name       string
		cfg        Config
		method     string
		userID     string
		body       string
		wantStatus int
	}{
		{"wrong method", Config{StripeSecretKey: "sk_test"}, http.MethodGet, "u1", "", http.StatusMethodNotAllowed},
		{"stripe not configured", Config{}, http.MethodPost, "u1", `{"booking_id":"b1"}`, http.StatusNotImplemented},
		{"missing user", Config{StripeSecretKey: "sk_test"}, http.MethodPost, "", `{"booking_id":"b1"}`, http.StatusUnauthorized},
		{"bad json", Config{StripeSecretKey: "sk_test"}, http.MethodPost, "u1", `{`, http.StatusBadRequest},
		{"missing booking id", Config{StripeSecretKey: "sk_test"}, http.MethodPost, "u1", `{}`, http.StatusBadRequest},
		{"missing return urls", Config{StripeSecretKey: "sk_test"}, http.MethodPost, "u1", `{"booking_id":"b1"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := testHandler(tc.cfg)
			req := httptest.NewRequest(tc.method, "/api/v1/payments/checkout", strings.NewReader(tc.body))
			if tc.userID != "" {
				req.Header.Set("X-User-Id", tc.userID)
			}
			rec := httptest.NewRecorder()
			h.Checkout(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestStatusRequiresBookingID(t *testing.T) {
	h := testHandler(Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status", nil)
	rec := httptest.NewRecorder()
	h.Status(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestLocalWebhookValidation(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing ids", `{"type":"deposit.paid"}`, http.StatusBadRequest},
		{"unsupported type", `{"event_id":"e1","booking_id":"b1","type":"refund"}`, http.StatusBadRequest},
		{"bad occurred_at", `{"event_id":"e1","booking_id":"b1","type":"deposit.paid","occurred_at":"yesterday"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := testHandler(Config{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/local", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.LocalWebhook(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestStripeWebhookRejectsUnsigned(t *testing.T) {
	h := testHandler(Config{StripeWebhookSecret: "whsec_test"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.StripeWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
