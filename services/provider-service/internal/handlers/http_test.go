package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testHandler() *Handler {
	return New(nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestValidRating(t *testing.T) {
	cases := []struct {
		rating int
		want   bool
	}{
		{0, false},
		{1, true},
		{3, true},
		{5, true},
		{6, false},
		{-1, false},
	}
	for _, tc := range cases {
		if got := ValidRating(tc.rating); got != tc.want {
			t.Errorf("ValidRating(%d) = %v, want %v", tc.rating, got, tc.want)
		}
	}
}

func TestCreateReviewValidation(t *testing.T) {
	h := testHandler()

	cases := []struct {
		name       string
		userID     string
		body       string
		wantStatus int
	}{
		{"missing user", "", `{"provider_id":"p1","rating":5}`, http.StatusUnauthorized},
		{"bad json", "u1", `{`, http.StatusBadRequest},
		{"missing provider", "u1", `{"rating":5}`, http.StatusBadRequest},
		{"rating too low", "u1", `{"provider_id":"p1","rating":0}`, http.StatusBadRequest},
		{"rating too high", "u1", `{"provider_id":"p1","rating":6}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/public/reviews", strings.NewReader(tc.body))
			if tc.userID != "" {
				req.Header.Set("X-User-Id", tc.userID)
			}
			rec := httptest.NewRecorder()
			h.Reviews(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestProfileRequiresProviderHeader(t *testing.T) {
	h := testHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/profile", nil)
	rec := httptest.NewRecorder()
	h.GetProfile(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "X-Provider-Id") {
		t.Fatalf("body = %s, want X-Provider-Id mention", rec.Body.String())
	}
}

func TestModerateReviewValidation(t *testing.T) {
	h := testHandler()

	cases := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, `{`, http.StatusBadRequest},
		{"missing approve", http.MethodPost, `{"review_id":"r1"}`, http.StatusBadRequest},
		{"missing review id", http.MethodPost, `{"approve":true}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/v1/admin/reviews/moderate", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.ModerateReview(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}
