package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/libs/outbox"
	"github.com/mounasabet/platform/services/provider-service/internal/storage"
)

// ApproveProvider and SuspendProvider flip moderation status and publish the
// matching event through the outbox in one transaction, so downstream caches
// never see a status without its event.

func (h *Handler) ApproveProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderStatus(w, r, "approved", "provider.approved.v1")
}

func (h *Handler) SuspendProvider(w http.ResponseWriter, r *http.Request) {
	h.setProviderStatus(w, r, "suspended", "provider.suspended.v1")
}

func (h *Handler) setProviderStatus(w http.ResponseWriter, r *http.Request, status, eventType string) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		ProviderID string `json:"provider_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		httpx.Error(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		h.logger.Error("begin tx failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "failed to update provider")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	profile, changed, err := h.repo.SetStatusTx(ctx, tx, req.ProviderID, status)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "provider not found")
			return
		}
		h.logger.Error("set provider status failed", "err", err, "provider_id", req.ProviderID)
		httpx.Error(w, http.StatusInternalServerError, "failed to update provider")
		return
	}

	if changed {
		payload, err := json.Marshal(map[string]any{
			"provider_id":  profile.ProviderID,
			"display_name": profile.DisplayName,
			"reason":       strings.TrimSpace(req.Reason),
		})
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to update provider")
			return
		}
		if err := h.outboxRepo.Insert(ctx, tx, outbox.Event{
			AggregateType: "provider",
			AggregateID:   profile.ProviderID,
			EventType:     eventType,
			Payload:       payload,
		}); err != nil {
			h.logger.Error("outbox insert failed", "err", err, "provider_id", req.ProviderID)
			httpx.Error(w, http.StatusInternalServerError, "failed to update provider")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		h.logger.Error("commit failed", "err", err, "provider_id", req.ProviderID)
		httpx.Error(w, http.StatusInternalServerError, "failed to update provider")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"provider_id": profile.ProviderID,
		"status":      status,
	})
}

func (h *Handler) PendingReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reviews, err := h.repo.ListPendingReviews(r.Context(), 100)
	if err != nil {
		h.logger.Error("list pending reviews failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}

	items := make([]map[string]any, 0, len(reviews))
	for _, rv := range reviews {
		items = append(items, map[string]any{
			"id":          rv.ID,
			"provider_id": rv.ProviderID,
			"customer_id": rv.CustomerID,
			"rating":      rv.Rating,
			"comment":     rv.Comment,
			"created_at":  rv.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reviews": items})
}

func (h *Handler) ModerateReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		ReviewID string `json:"review_id"`
		Approve  *bool  `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ReviewID = strings.TrimSpace(req.ReviewID)
	if req.ReviewID == "" || req.Approve == nil {
		httpx.Error(w, http.StatusBadRequest, "review_id and approve are required")
		return
	}

	status := "rejected"
	if *req.Approve {
		status = "approved"
	}

	changed, err := h.repo.ModerateReview(r.Context(), req.ReviewID, status)
	if err != nil {
		h.logger.Error("moderate review failed", "err", err, "review_id", req.ReviewID)
		httpx.Error(w, http.StatusInternalServerError, "failed to moderate review")
		return
	}
	if !changed {
		httpx.Error(w, http.StatusNotFound, "pending review not found")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"review_id": req.ReviewID, "status": status})
}
