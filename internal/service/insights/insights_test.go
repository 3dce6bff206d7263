package insights

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

type fakeStore struct {
	summaries []model.DailySummary
	active    []time.Time
	counts    []storage.EventTypeCount

	gotFrom, gotTo time.Time
}

func (f *fakeStore) DailySummaries(_ context.Context, _ uuid.UUID, from, to time.Time) ([]model.DailySummary, error) {
	f.gotFrom, f.gotTo = from, to
	return f.summaries, nil
}

func (f *fakeStore) ActiveDays(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]time.Time, error) {
	return f.active, nil
}

func (f *fakeStore) EventTypeCounts(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]storage.EventTypeCount, error) {
	return f.counts, nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func summary(d time.Time, meals int, cal, protein float64) model.DailySummary {
	return model.DailySummary{
		Day: d, MealCount: meals,
		TotalCalories: cal, TotalProteinG: protein,
	}
}

func TestDailyEmptyDay(t *testing.T) {
	store := &fakeStore{}
	svc := New(store)
	userID := uuid.New()

	got, err := svc.Daily(context.Background(), userID, time.Date(2026, 8, 10, 15, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, userID, got.UserID)
	assert.Equal(t, day(2026, 8, 10), got.Day)
	assert.Zero(t, got.MealCount)
	assert.Zero(t, got.TotalCalories)

	// The query window is exactly that UTC day.
	assert.Equal(t, day(2026, 8, 10), store.gotFrom)
	assert.Equal(t, day(2026, 8, 11), store.gotTo)
}

func TestDailyReturnsStoredSummary(t *testing.T) {
	d := day(2026, 8, 10)
	store := &fakeStore{summaries: []model.DailySummary{summary(d, 3, 1850, 120)}}
	svc := New(store)

	got, err := svc.Daily(context.Background(), uuid.New(), d)
	require.NoError(t, err)
	assert.Equal(t, 3, got.MealCount)
	assert.InDelta(t, 1850, got.TotalCalories, 0.001)
}

func TestRangeRejectsInvertedWindow(t *testing.T) {
	svc := New(&fakeStore{})
	_, err := svc.Range(context.Background(), uuid.New(), day(2026, 8, 10), day(2026, 8, 1))
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestRangeClampsWideWindow(t *testing.T) {
	store := &fakeStore{}
	svc := New(store)
	to := day(2026, 8, 1)

	_, err := svc.Range(context.Background(), uuid.New(), day(2020, 1, 1), to)
	require.NoError(t, err)
	assert.Equal(t, to.AddDate(0, 0, -maxRangeDays), store.gotFrom, "window keeps the most recent days")
	assert.Equal(t, to, store.gotTo)
}

func TestStatsComposite(t *testing.T) {
	from, to := day(2026, 8, 1), day(2026, 8, 8)
	store := &fakeStore{
		summaries: []model.DailySummary{
			summary(day(2026, 8, 3), 3, 2000, 100),
			summary(day(2026, 8, 2), 2, 1000, 50),
		},
		active: []time.Time{day(2026, 8, 2), day(2026, 8, 3), day(2026, 8, 5)},
		counts: []storage.EventTypeCount{
			{EventType: "screen_view", Count: 12},
			{EventType: "meal_logged", Count: 5},
		},
	}
	svc := New(store)

	stats, err := svc.Stats(context.Background(), uuid.New(), from, to)
	require.NoError(t, err)
	assert.Equal(t, from, stats.From)
	assert.Equal(t, to, stats.To)
	assert.Equal(t, 2, stats.LoggedDays)
	assert.Equal(t, 3, stats.ActiveDays)
	assert.Len(t, stats.EventCounts, 2)
	assert.InDelta(t, 1500, stats.DailyAvg.Calories, 0.001, "average over logged days only")
	assert.InDelta(t, 75, stats.DailyAvg.ProteinG, 0.001)
}

func TestAverages(t *testing.T) {
	assert.Equal(t, Averages{}, averages(nil))

	got := averages([]model.DailySummary{
		{TotalCalories: 1800, TotalProteinG: 90, TotalCarbsG: 200, TotalFatG: 60},
		{TotalCalories: 2200, TotalProteinG: 110, TotalCarbsG: 240, TotalFatG: 80},
	})
	assert.InDelta(t, 2000, got.Calories, 0.001)
	assert.InDelta(t, 100, got.ProteinG, 0.001)
	assert.InDelta(t, 220, got.CarbsG, 0.001)
	assert.InDelta(t, 70, got.FatG, 0.001)
}

func TestDayWindowUTC(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 23:30 New York on Mar 1 is already Mar 2 in UTC.
	from, to := dayWindow(time.Date(2026, 3, 1, 23, 30, 0, 0, ny))
	assert.Equal(t, day(2026, 3, 2), from)
	assert.Equal(t, day(2026, 3, 3), to)
}
