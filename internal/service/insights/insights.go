// Package insights computes nutrition and engagement aggregates for a user.
// It answers the question the stats area of the app asks: "How am I doing?"
// by summarizing logged meals per day and activity over a date range.
package insights

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// maxRangeDays caps a stats query window. Wider requests are clamped to the
// most recent maxRangeDays, not rejected.
const maxRangeDays = 90

// ErrInvalidRange is returned when a range query ends before it starts.
var ErrInvalidRange = errors.New("insights: range end precedes start")

// Store is the storage surface the service reads from.
type Store interface {
	DailySummaries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.DailySummary, error)
	ActiveDays(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]time.Time, error)
	EventTypeCounts(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]storage.EventTypeCount, error)
}

// Averages holds per-logged-day macro averages over a range.
type Averages struct {
	Calories float64 `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// Stats is the composite response for the stats area.
type Stats struct {
	From        time.Time                `json:"from"`
	To          time.Time                `json:"to"`
	Days        []model.DailySummary     `json:"days"`
	LoggedDays  int                      `json:"logged_days"`
	ActiveDays  int                      `json:"active_days"`
	DailyAvg    Averages                 `json:"daily_avg"`
	EventCounts []storage.EventTypeCount `json:"event_counts"`
}

// Service computes user insights.
type Service struct {
	store Store
}

// New creates an insights service.
func New(store Store) *Service {
	return &Service{store: store}
}

// Daily returns the nutrition summary for one UTC day. A day with no logged
// meals yields a zero summary, not an error.
func (s *Service) Daily(ctx context.Context, userID uuid.UUID, day time.Time) (model.DailySummary, error) {
	from, to := dayWindow(day)
	sums, err := s.store.DailySummaries(ctx, userID, from, to)
	if err != nil {
		return model.DailySummary{}, fmt.Errorf("insights: daily summary: %w", err)
	}
	if len(sums) == 0 {
		return model.DailySummary{UserID: userID, Day: from}, nil
	}
	return sums[0], nil
}

// Range returns per-day summaries over [from, to), most recent first.
func (s *Service) Range(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.DailySummary, error) {
	from, to, err := clampRange(from, to)
	if err != nil {
		return nil, err
	}
	sums, err := s.store.DailySummaries(ctx, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("insights: range summary: %w", err)
	}
	return sums, nil
}

// Stats returns the full stats-area aggregate: per-day summaries, averages
// over days that have logs, and engagement counts from client events.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID, from, to time.Time) (Stats, error) {
	from, to, err := clampRange(from, to)
	if err != nil {
		return Stats{}, err
	}

	sums, err := s.store.DailySummaries(ctx, userID, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("insights: daily summaries: %w", err)
	}
	active, err := s.store.ActiveDays(ctx, userID, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("insights: active days: %w", err)
	}
	counts, err := s.store.EventTypeCounts(ctx, userID, from, to)
	if err != nil {
		return Stats{}, fmt.Errorf("insights: event counts: %w", err)
	}

	return Stats{
		From:        from,
		To:          to,
		Days:        sums,
		LoggedDays:  len(sums),
		ActiveDays:  len(active),
		DailyAvg:    averages(sums),
		EventCounts: counts,
	}, nil
}

// averages computes per-day macro averages over days that have at least one
// logged meal. An empty range averages to zero.
func averages(sums []model.DailySummary) Averages {
	if len(sums) == 0 {
		return Averages{}
	}
	var a Averages
	for _, s := range sums {
		a.Calories += s.TotalCalories
		a.ProteinG += s.TotalProteinG
		a.CarbsG += s.TotalCarbsG
		a.FatG += s.TotalFatG
	}
	n := float64(len(sums))
	a.Calories /= n
	a.ProteinG /= n
	a.CarbsG /= n
	a.FatG /= n
	return a
}

// clampRange normalizes a query window: UTC, end after start, at most
// maxRangeDays wide (keeping the most recent days).
func clampRange(from, to time.Time) (time.Time, time.Time, error) {
	from, to = from.UTC(), to.UTC()
	if !to.After(from) {
		return time.Time{}, time.Time{}, ErrInvalidRange
	}
	if lo := to.AddDate(0, 0, -maxRangeDays); from.Before(lo) {
		from = lo
	}
	return from, to, nil
}

// dayWindow returns the [midnight, midnight+24h) UTC window containing t.
func dayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}
