package server

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
)

// HandleSearchFoods handles GET /v1/foods/search?q=&tags=&limit=.
// The backend degrades transparently: external index, pgvector, then plain
// text search. Clients never see which one answered.
func (h *Handlers) HandleSearchFoods(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "q is required")
		return
	}

	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	limit := queryLimit(r, 20)

	results, err := h.searchSvc.Search(r.Context(), query, tags, limit)
	if err != nil {
		h.writeInternalError(w, r, "food search failed", err)
		return
	}
	if results == nil {
		results = []model.FoodSearchResult{}
	}

	writeJSON(w, r, http.StatusOK, results)
}

// HandleGetFood handles GET /v1/foods/{food_id}.
func (h *Handlers) HandleGetFood(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("food_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid food_id")
		return
	}

	food, err := h.db.GetFood(r.Context(), id)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "food not found")
			return
		}
		h.writeInternalError(w, r, "failed to load food", err)
		return
	}

	writeJSON(w, r, http.StatusOK, food)
}

// HandleCreateFood handles POST /v1/admin/foods (admin-only). New foods get
// their embedding asynchronously from the backfill worker, so catalog imports
// don't block on the embedding provider.
func (h *Handlers) HandleCreateFood(w http.ResponseWriter, r *http.Request) {
	var req model.Food
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name is required")
		return
	}
	if req.Calories < 0 || req.ProteinG < 0 || req.CarbsG < 0 || req.FatG < 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "nutrition values must not be negative")
		return
	}

	food, err := h.db.CreateFood(r.Context(), req)
	if err != nil {
		if isDuplicateKeyError(err) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "food already exists")
			return
		}
		h.writeInternalError(w, r, "failed to create food", err)
		return
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"create_food", "food", food.ID.String(), nil, food, nil,
	); auditErr != nil {
		h.logger.Error("failed to audit food creation", "food_id", food.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusCreated, food)
}
