package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mounasabet/platform/libs/httpx"
	"github.com/mounasabet/platform/libs/outbox"
	"github.com/mounasabet/platform/services/provider-service/internal/storage"
)

type Handler struct {
	repo       *storage.Repository
	outboxRepo *outbox.Repository
	logger     *slog.Logger
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger) *Handler {
	return &Handler{repo: repo, outboxRepo: outboxRepo, logger: logger}
}

func providerIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Provider-Id"))
}

func userIDFromHeader(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-Id"))
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	p, err := h.repo.GetProfile(r.Context(), providerID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Error("get profile failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	httpx.JSON(w, http.StatusOK, profileResponse(p))
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	var req struct {
		DisplayName string `json:"display_name"`
		City        string `json:"city"`
		Description string `json:"description"`
		Timezone    string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	req.City = strings.TrimSpace(req.City)
	req.Description = strings.TrimSpace(req.Description)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.DisplayName == "" {
		httpx.Error(w, http.StatusBadRequest, "display_name is required")
		return
	}
	if req.Timezone == "" {
		req.Timezone = "UTC"
	}

	if err := h.repo.UpdateProfile(r.Context(), providerID, req.DisplayName, req.City, req.Description, req.Timezone); err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "profile not found")
			return
		}
		h.logger.Error("update profile failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	var req struct {
		Name         string `json:"name"`
		Category     string `json:"category"`
		DurationMins int    `json:"duration_minutes"`
		PriceCents   int64  `json:"price_cents"`
		Description  string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Description = strings.TrimSpace(req.Description)
	if req.Name == "" || req.DurationMins <= 0 {
		httpx.Error(w, http.StatusBadRequest, "name and duration_minutes required")
		return
	}
	if req.PriceCents < 0 {
		httpx.Error(w, http.StatusBadRequest, "price_cents must not be negative")
		return
	}

	id, err := h.repo.CreateService(r.Context(), providerID, req.Name, req.Category, req.DurationMins, req.PriceCents, req.Description)
	if err != nil {
		h.logger.Error("create service failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to create service")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}

	services, err := h.repo.ListServices(r.Context(), providerID, 100)
	if err != nil {
		h.logger.Error("list services failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to list services")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"services": serviceItems(services)})
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	providerID := providerIDFromHeader(r)
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Provider-Id")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		httpx.Error(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.repo.DeleteService(r.Context(), providerID, id); err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "service not found")
			return
		}
		h.logger.Error("delete service failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to delete service")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Catalog lists approved providers with their services, for the public site.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	city := strings.TrimSpace(r.URL.Query().Get("city"))

	profiles, err := h.repo.ListApprovedProfiles(r.Context(), city, 100)
	if err != nil {
		h.logger.Error("catalog query failed", "err", err)
		httpx.Error(w, http.StatusInternalServerError, "failed to load catalog")
		return
	}

	items := make([]map[string]any, 0, len(profiles))
	for _, p := range profiles {
		services, err := h.repo.ListServices(r.Context(), p.ProviderID, 100)
		if err != nil {
			h.logger.Error("catalog services query failed", "err", err, "provider_id", p.ProviderID)
			httpx.Error(w, http.StatusInternalServerError, "failed to load catalog")
			return
		}
		entry := profileResponse(p)
		entry["services"] = serviceItems(services)
		items = append(items, entry)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"providers": items})
}

func (h *Handler) Reviews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listReviews(w, r)
	case http.MethodPost:
		h.createReview(w, r)
	default:
		httpx.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listReviews(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		httpx.Error(w, http.StatusBadRequest, "provider_id is required")
		return
	}

	reviews, err := h.repo.ListApprovedReviews(r.Context(), providerID, 100)
	if err != nil {
		h.logger.Error("list reviews failed", "err", err, "provider_id", providerID)
		httpx.Error(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reviews": reviewItems(reviews)})
}

func (h *Handler) createReview(w http.ResponseWriter, r *http.Request) {
	customerID := userIDFromHeader(r)
	if customerID == "" {
		httpx.Error(w, http.StatusUnauthorized, "missing X-User-Id")
		return
	}

	var req struct {
		ProviderID string `json:"provider_id"`
		Rating     int    `json:"rating"`
		Comment    string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Comment = strings.TrimSpace(req.Comment)
	if req.ProviderID == "" {
		httpx.Error(w, http.StatusBadRequest, "provider_id is required")
		return
	}
	if !ValidRating(req.Rating) {
		httpx.Error(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	id, err := h.repo.CreateReview(r.Context(), req.ProviderID, customerID, req.Rating, req.Comment)
	if err != nil {
		h.logger.Error("create review failed", "err", err, "provider_id", req.ProviderID)
		httpx.Error(w, http.StatusInternalServerError, "failed to create review")
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": id, "status": "pending"})
}

// ValidRating bounds review ratings to the 1-5 star scale.
func ValidRating(rating int) bool {
	return rating >= 1 && rating <= 5
}

func profileResponse(p storage.Profile) map[string]any {
	return map[string]any{
		"provider_id":  p.ProviderID,
		"display_name": p.DisplayName,
		"city":         p.City,
		"description":  p.Description,
		"timezone":     p.Timezone,
		"status":       p.Status,
	}
}

func serviceItems(services []storage.Service) []map[string]any {
	items := make([]map[string]any, 0, len(services))
	for _, s := range services {
		items = append(items, map[string]any{
			"id":               s.ID,
			"name":             s.Name,
			"category":         s.Category,
			"duration_minutes": s.DurationMins,
			"price_cents":      s.PriceCents,
			"description":      s.Description,
		})
	}
	return items
}

func reviewItems(reviews []storage.Review) []map[string]any {
	items := make([]map[string]any, 0, len(reviews))
	for _, rv := range reviews {
		items = append(items, map[string]any{
			"id":         rv.ID,
			"rating":     rv.Rating,
			"comment":    rv.Comment,
			"created_at": rv.CreatedAt,
		})
	}
	return items
}
