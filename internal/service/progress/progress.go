// Package progress implements the gamification mechanics: XP awards, level
// computation, and streak maintenance. Award amounts and streak milestones
// are configuration rows, not code; the service reads them once and treats a
// missing row as "award disabled".
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
	"github.com/mindfork/mindfork/internal/telemetry"
)

// Store is the storage surface the progress mechanics need.
type Store interface {
	InsertXP(ctx context.Context, userID uuid.UUID, amount int, reason string, refID *uuid.UUID) (model.XPEntry, bool, error)
	TotalXP(ctx context.Context, userID uuid.UUID) (int, error)
	ListXP(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.XPEntry, error)
	GetStreak(ctx context.Context, userID uuid.UUID) (model.Streak, error)
	TouchStreak(ctx context.Context, userID uuid.UUID, at time.Time) (model.Streak, error)
	CountMealsOnDay(ctx context.Context, userID uuid.UUID, day time.Time) (int, error)
	XPAwardAmounts(ctx context.Context) (map[string]int, error)
}

// Service orchestrates XP awards and streak updates around activity writes.
type Service struct {
	store  Store
	logger *slog.Logger

	cfgMu      sync.Mutex
	cfgLoaded  bool
	amounts    map[string]int
	milestones []int // ascending streak lengths with a configured award

	awardsTotal metric.Int64Counter
}

// New creates the progress service. Award configuration loads lazily on the
// first award so construction never touches the database.
func New(store Store, logger *slog.Logger) *Service {
	meter := telemetry.Meter("mindfork/progress")
	awards, _ := meter.Int64Counter("mindfork.xp.awards",
		metric.WithDescription("XP awards written to the ledger"),
	)
	return &Service{
		store:       store,
		logger:      logger,
		awardsTotal: awards,
	}
}

// Level computes the level curve for a ledger total: level 1 starts at 0 XP
// and each level n requires (n-1)^2 * 100 total XP. Negative totals (possible
// after adjustments) stay at level 1.
func Level(totalXP int) (level, floorXP, nextXP int) {
	if totalXP < 0 {
		totalXP = 0
	}
	level = 1 + int(math.Sqrt(float64(totalXP)/100))
	floorXP = (level - 1) * (level - 1) * 100
	nextXP = level * level * 100
	return level, floorXP, nextXP
}

// Progress assembles the aggregated gamification state served to the app.
// Users with no activity get level 1 and a zero streak, never an error.
func (s *Service) Progress(ctx context.Context, userID uuid.UUID) (model.Progress, error) {
	total, err := s.store.TotalXP(ctx, userID)
	if err != nil {
		return model.Progress{}, fmt.Errorf("progress: total xp: %w", err)
	}
	level, floorXP, nextXP := Level(total)

	p := model.Progress{
		UserID:       userID,
		TotalXP:      total,
		Level:        level,
		LevelFloorXP: floorXP,
		NextLevelXP:  nextXP,
	}

	streak, err := s.store.GetStreak(ctx, userID)
	switch {
	case err == nil:
		p.StreakCurrent = streak.Current
		p.StreakBest = streak.Best
	case errors.Is(err, storage.ErrNotFound):
		// Never active: zero streak.
	default:
		return model.Progress{}, fmt.Errorf("progress: streak: %w", err)
	}
	return p, nil
}

// History returns ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.XPEntry, error) {
	return s.store.ListXP(ctx, userID, limit, offset)
}

// OnboardingComplete awards the one-time onboarding bonus. The user's own ID
// is the idempotency ref, so replays of the onboarding request award nothing.
func (s *Service) OnboardingComplete(ctx context.Context, userID uuid.UUID) (*model.XPEntry, error) {
	return s.award(ctx, userID, model.XPReasonOnboarding, &userID)
}

// MealLogged applies every progress consequence of one logged meal: the
// per-meal award, the first-of-day bonus, the streak touch, and any streak
// milestone the touch crossed. Award failures after the meal is stored are
// reported but must not fail the meal write, so callers treat the returned
// entries as best-effort.
func (s *Service) MealLogged(ctx context.Context, userID, mealID uuid.UUID, loggedAt time.Time) ([]model.XPEntry, model.Streak, error) {
	var entries []model.XPEntry

	if e, err := s.award(ctx, userID, model.XPReasonMealLogged, &mealID); err != nil {
		return nil, model.Streak{}, err
	} else if e != nil {
		entries = append(entries, *e)
	}

	// The deterministic daily ref makes the bonus race-free when two meals
	// for the same day land concurrently: both may see count==1, only one
	// insert survives the unique index.
	count, err := s.store.CountMealsOnDay(ctx, userID, loggedAt)
	if err != nil {
		return nil, model.Streak{}, fmt.Errorf("progress: count meals: %w", err)
	}
	if count <= 1 {
		ref := dailyRef(userID, loggedAt)
		if e, err := s.award(ctx, userID, model.XPReasonFirstMealOfDay, &ref); err != nil {
			return nil, model.Streak{}, err
		} else if e != nil {
			entries = append(entries, *e)
		}
	}

	// Streak touches contend on the user's row; retry transient conflicts.
	var streak model.Streak
	err = storage.WithRetry(ctx, 3, 25*time.Millisecond, func() error {
		var touchErr error
		streak, touchErr = s.store.TouchStreak(ctx, userID, loggedAt)
		return touchErr
	})
	if err != nil {
		return nil, model.Streak{}, fmt.Errorf("progress: touch streak: %w", err)
	}

	milestone, err := s.milestoneAward(ctx, userID, streak.Current)
	if err != nil {
		return nil, model.Streak{}, err
	}
	if milestone != nil {
		entries = append(entries, *milestone)
	}
	return entries, streak, nil
}

// Adjust appends a manual ledger correction. No ref: adjustments may repeat.
func (s *Service) Adjust(ctx context.Context, userID uuid.UUID, amount int) (model.XPEntry, error) {
	e, _, err := s.store.InsertXP(ctx, userID, amount, model.XPReasonAdjustment, nil)
	if err != nil {
		return model.XPEntry{}, fmt.Errorf("progress: adjust: %w", err)
	}
	s.awardsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", model.XPReasonAdjustment)))
	return e, nil
}

// award writes one configured award. A reason with no enabled config row is
// skipped; nil entry with nil error means "nothing awarded".
func (s *Service) award(ctx context.Context, userID uuid.UUID, reason string, ref *uuid.UUID) (*model.XPEntry, error) {
	amounts, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	amount, ok := amounts[reason]
	if !ok || amount <= 0 {
		s.logger.Debug("progress: award not configured", "reason", reason)
		return nil, nil
	}

	e, awarded, err := s.store.InsertXP(ctx, userID, amount, reason, ref)
	if err != nil {
		return nil, fmt.Errorf("progress: award %s: %w", reason, err)
	}
	if !awarded {
		return nil, nil
	}
	s.awardsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return &e, nil
}

// milestoneAward awards the milestone matching the current streak length, if
// one is configured. The user ID is the ref: each (user, milestone) pair
// awards once ever, so losing and rebuilding a streak does not re-award.
func (s *Service) milestoneAward(ctx context.Context, userID uuid.UUID, current int) (*model.XPEntry, error) {
	if _, err := s.config(ctx); err != nil {
		return nil, err
	}
	for _, m := range s.milestones {
		if current == m {
			return s.award(ctx, userID, model.XPReasonStreakMilestone(m), &userID)
		}
	}
	return nil, nil
}

// config loads the award table once. A load failure is returned but not
// cached, so a transient error at startup does not disable awards forever.
func (s *Service) config(ctx context.Context) (map[string]int, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if s.cfgLoaded {
		return s.amounts, nil
	}

	amounts, err := s.store.XPAwardAmounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("progress: load award config: %w", err)
	}
	s.amounts = amounts
	s.milestones = parseMilestones(amounts)
	s.cfgLoaded = true
	s.logger.Info("progress: award config loaded",
		"awards", len(amounts), "milestones", s.milestones)
	return s.amounts, nil
}

// parseMilestones extracts the streak lengths from streak_milestone_<n> keys.
func parseMilestones(amounts map[string]int) []int {
	var ms []int
	for reason := range amounts {
		rest, ok := strings.CutPrefix(reason, model.XPReasonStreakPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n <= 0 {
			continue
		}
		ms = append(ms, n)
	}
	sort.Ints(ms)
	return ms
}

// dailyRef derives the idempotency ref for per-day awards: one fixed UUID
// per (user, UTC date).
func dailyRef(userID uuid.UUID, at time.Time) uuid.UUID {
	day := at.UTC().Format("2006-01-02")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("mindfork:first_meal:"+userID.String()+":"+day))
}
