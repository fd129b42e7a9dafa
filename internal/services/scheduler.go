package services

import (
	"math"
	"time"

	"github.com/ana-joker/FULLSTUDY/internal/models"
)

const (
	InitialInterval   = 1
	InitialEaseFactor = 2.5
	MinimumEaseFactor = 1.3

	forgotEasePenalty = 0.2
	easyBonus         = 1.3
	easyEaseIncrement = 0.15

	// Items whose interval exceeds this many days count as mastered.
	masteredInterval = 30

	day = 24 * time.Hour
)

// SchedulerConfig tunes the ease-factor algorithm.
type SchedulerConfig struct {
	// MaximumInterval caps the interval in days. Zero leaves it unbounded.
	MaximumInterval int
}

// Schedule applies outcome to item and returns the updated copy. It is pure:
// the caller decides what "now" is.
func Schedule(item models.RecallItem, outcome models.Outcome, now time.Time, cfg SchedulerConfig) models.RecallItem {
	interval := item.Interval
	if interval < InitialInterval {
		interval = InitialInterval
	}
	ease := item.EaseFactor
	if ease < MinimumEaseFactor {
		ease = MinimumEaseFactor
	}

	switch outcome {
	case models.OutcomeForgot:
		interval = InitialInterval
		ease = math.Max(MinimumEaseFactor, ease-forgotEasePenalty)
	case models.OutcomeGood:
		interval = ceilDays(float64(interval) * ease)
	case models.OutcomeEasy:
		interval = ceilDays(float64(interval) * ease * easyBonus)
		ease += easyEaseIncrement
	}

	if cfg.MaximumInterval > 0 && interval > cfg.MaximumInterval {
		interval = cfg.MaximumInterval
	}

	item.Interval = interval
	item.EaseFactor = ease
	item.NextReviewDate = now.Add(time.Duration(interval) * day)
	return item
}

// ceilDays rounds up with plain float64 semantics: 100*2.45 gives 246.
func ceilDays(v float64) int {
	return int(math.Ceil(v))
}

// NewRecallItem returns a fresh card due immediately.
func NewRecallItem(id string, q models.Question, now time.Time) models.RecallItem {
	return models.RecallItem{
		ID:             id,
		Question:       q.Clone(),
		NextReviewDate: now,
		Interval:       InitialInterval,
		EaseFactor:     InitialEaseFactor,
		AddedAt:        now,
	}
}
