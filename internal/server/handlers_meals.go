package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/service/insights"
)

// HandleLogMeal handles POST /v1/users/{user_id}/meals. Inserting the log and
// awarding XP are separate writes; if the award fails the meal still exists
// and the award's ref_id idempotency lets a retry catch up.
func (h *Handlers) HandleLogMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	var req model.MealLogInput
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	idem, proceed := h.beginIdempotentWrite(w, r, userID, logMealEndpoint(userID), req)
	if !proceed {
		return
	}

	meal, err := h.db.InsertMealLog(r.Context(), userID, req)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		h.writeInternalError(w, r, "failed to log meal", err)
		return
	}

	awards, streak, err := h.progressSvc.MealLogged(r.Context(), userID, meal.ID, meal.LoggedAt)
	if err != nil {
		// The meal is committed; report the award failure without undoing it.
		h.logger.Error("meal logged but XP award failed", "user_id", userID, "meal_id", meal.ID, "error", err)
	}
	if awards == nil {
		awards = []model.XPEntry{}
	}

	resp := model.LogMealResponse{Meal: meal, AwardedXP: awards, Streak: streak}
	writeJSON(w, r, http.StatusCreated, resp)
	h.completeIdempotentWriteBestEffort(r, idem, http.StatusCreated, resp)
}

// HandleListMeals handles GET /v1/users/{user_id}/meals. Defaults to the
// last 7 days.
func (h *Handlers) HandleListMeals(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	from, to, ok := h.parseRange(w, r, 7)
	if !ok {
		return
	}
	limit := queryLimit(r, 100)
	offset := queryOffset(r)

	meals, err := h.db.ListMealLogs(r.Context(), userID, from, to, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list meals", err)
		return
	}
	if meals == nil {
		meals = []model.MealLog{}
	}

	writeList(w, r, meals, nil, limit, offset, len(meals))
}

// HandleGetMeal handles GET /v1/users/{user_id}/meals/{meal_id}.
func (h *Handlers) HandleGetMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}
	mealID, ok := h.parseMealID(w, r)
	if !ok {
		return
	}

	meal, err := h.db.GetMealLog(r.Context(), userID, mealID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "meal not found")
			return
		}
		h.writeInternalError(w, r, "failed to load meal", err)
		return
	}

	writeJSON(w, r, http.StatusOK, meal)
}

// HandleDeleteMeal handles DELETE /v1/users/{user_id}/meals/{meal_id}.
// XP already awarded for the meal stays; the ledger is append-only.
func (h *Handlers) HandleDeleteMeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}
	mealID, ok := h.parseMealID(w, r)
	if !ok {
		return
	}

	if err := h.db.DeleteMealLog(r.Context(), userID, mealID); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "meal not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete meal", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleDailyInsights handles GET /v1/users/{user_id}/insights/daily?date=.
func (h *Handlers) HandleDailyInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	day, err := queryDay(r, "date")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	summary, err := h.insightsSvc.Daily(r.Context(), userID, day)
	if err != nil {
		h.writeInternalError(w, r, "failed to compute daily summary", err)
		return
	}

	writeJSON(w, r, http.StatusOK, summary)
}

// HandleInsightsRange handles GET /v1/users/{user_id}/insights/range?from=&to=.
func (h *Handlers) HandleInsightsRange(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	from, to, ok := h.parseRange(w, r, 30)
	if !ok {
		return
	}

	sums, err := h.insightsSvc.Range(r.Context(), userID, from, to)
	if err != nil {
		if errors.Is(err, insights.ErrInvalidRange) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "from must precede to")
			return
		}
		h.writeInternalError(w, r, "failed to compute range summary", err)
		return
	}
	if sums == nil {
		sums = []model.DailySummary{}
	}

	writeJSON(w, r, http.StatusOK, sums)
}

// HandleInsightsStats handles GET /v1/users/{user_id}/insights/stats?from=&to=.
// The composite aggregate behind the stats area.
func (h *Handlers) HandleInsightsStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	from, to, ok := h.parseRange(w, r, 30)
	if !ok {
		return
	}

	stats, err := h.insightsSvc.Stats(r.Context(), userID, from, to)
	if err != nil {
		if errors.Is(err, insights.ErrInvalidRange) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "from must precede to")
			return
		}
		h.writeInternalError(w, r, "failed to compute stats", err)
		return
	}

	writeJSON(w, r, http.StatusOK, stats)
}

// parseRange reads from/to query params, defaulting to the trailing
// defaultDays window ending now. Writes the error response on failure.
func (h *Handlers) parseRange(w http.ResponseWriter, r *http.Request, defaultDays int) (time.Time, time.Time, bool) {
	fromPtr, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return time.Time{}, time.Time{}, false
	}
	toPtr, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return time.Time{}, time.Time{}, false
	}

	to := time.Now().UTC()
	if toPtr != nil {
		to = *toPtr
	}
	from := to.AddDate(0, 0, -defaultDays)
	if fromPtr != nil {
		from = *fromPtr
	}
	if !from.Before(to) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "from must precede to")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func (h *Handlers) parseMealID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("meal_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid meal_id")
		return uuid.Nil, false
	}
	return id, true
}
