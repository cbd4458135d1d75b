// Package aggregator reshapes LogicNet validator snapshots into the tables
// and chart series shown on the dashboard. Every function here is pure: the
// snapshots passed in are never modified.
package aggregator

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/aitprotocol/logicnet-dashboard/internal/stats"
)

// DefaultBatchSize is the number of scores a validator keeps per miner per
// observation window. Mean scores are computed against it.
const DefaultBatchSize = 10

// ErrValidatorNotFound is returned when the selected validator is absent from
// the miner information snapshot.
var ErrValidatorNotFound = errors.New("validator not found")

// CategoryCounts maps a category label to the number of miners serving it.
// The empty label is a valid key.
type CategoryCounts map[string]int

// Total returns the sum of all counts.
func (c CategoryCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// MinerScore is one miner's mean score row.
type MinerScore struct {
	UID         string  `json:"uid"`
	Category    string  `json:"category"`
	MeanScore   float64 `json:"mean_score"`
	EpochVolume float64 `json:"epoch_volume"`
}

// Bar is one entry of a category's ranked bar chart.
type Bar struct {
	UID         string  `json:"uid"`
	MeanScore   float64 `json:"mean_score"`
	EpochVolume float64 `json:"epoch_volume"`
	HoverText   string  `json:"hover_text"`
}

// CategoryChart is the ranked bar chart of one category.
type CategoryChart struct {
	Category string `json:"category"`
	Bars     []Bar  `json:"bars"`
}

// TimelinePoint is one minute-granular accuracy sample.
type TimelinePoint struct {
	Minute       time.Time `json:"minute"`
	MeanAccuracy float64   `json:"mean_accuracy"`
}

// Aggregator holds the scoring parameters used to reshape snapshots.
type Aggregator struct {
	batchSize int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithBatchSize sets the mean-score divisor. Zero divides by the number of
// scores actually present instead.
func WithBatchSize(n int) Option {
	return func(a *Aggregator) {
		if n >= 0 {
			a.batchSize = n
		}
	}
}

// New returns an Aggregator dividing by DefaultBatchSize unless overridden.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GroupByCategory counts miners per category label.
func GroupByCategory(info *stats.MinerInformation) CategoryCounts {
	counts := make(CategoryCounts)
	info.Each(func(_ string, rec stats.MinerRecord) {
		counts[rec.Category]++
	})
	return counts
}

// categoryOrder lists categories in the order they are first seen.
func categoryOrder(info *stats.MinerInformation) []string {
	var order []string
	seen := make(map[string]bool)
	info.Each(func(_ string, rec stats.MinerRecord) {
		if !seen[rec.Category] {
			seen[rec.Category] = true
			order = append(order, rec.Category)
		}
	})
	return order
}

// MeanScore returns sum(scores) divided by the batch size, or by len(scores)
// when the aggregator was built with a zero batch size.
func (a *Aggregator) MeanScore(scores []float64) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	div := a.batchSize
	if div == 0 {
		div = len(scores)
	}
	if div == 0 {
		return 0
	}
	return sum / float64(div)
}

// MeanScorePerMiner returns one row per miner, in snapshot order.
func (a *Aggregator) MeanScorePerMiner(info *stats.MinerInformation) []MinerScore {
	rows := make([]MinerScore, 0, info.Len())
	info.Each(func(uid string, rec stats.MinerRecord) {
		rows = append(rows, MinerScore{
			UID:         uid,
			Category:    rec.Category,
			MeanScore:   a.MeanScore(rec.Scores),
			EpochVolume: rec.EpochVolume,
		})
	})
	return rows
}

// RankedCategoryBars filters rows to category and orders them by mean score,
// highest first; ties keep their input order. It returns nil when the
// category's mean scores sum to zero.
func RankedCategoryBars(rows []MinerScore, category string) []Bar {
	var filtered []MinerScore
	var sum float64
	for _, r := range rows {
		if r.Category == category {
			filtered = append(filtered, r)
			sum += r.MeanScore
		}
	}
	if sum == 0 {
		return nil
	}

	slices.SortStableFunc(filtered, func(x, y MinerScore) int {
		switch {
		case x.MeanScore > y.MeanScore:
			return -1
		case x.MeanScore < y.MeanScore:
			return 1
		default:
			return 0
		}
	})

	bars := make([]Bar, len(filtered))
	for i, r := range filtered {
		bars[i] = Bar{
			UID:         r.UID,
			MeanScore:   r.MeanScore,
			EpochVolume: r.EpochVolume,
			HoverText:   "Epoch volume: " + formatNumber(r.EpochVolume),
		}
	}
	return bars
}

// FlattenAccuracyHistory returns the correctness of each reward log in order,
// or an empty slice when the record has none.
func FlattenAccuracyHistory(rec stats.MinerRecord) []float64 {
	acc := make([]float64, 0, len(rec.RewardLogs))
	for _, l := range rec.RewardLogs {
		acc = append(acc, l.Correctness)
	}
	return acc
}

// NormalizeTimeline truncates every timestamp to the whole minute (UTC) and
// keeps the input order. Entries landing on the same minute are all kept.
func NormalizeTimeline(entries []stats.TimelineEntry) []TimelinePoint {
	points := make([]TimelinePoint, 0, len(entries))
	for _, e := range entries {
		points = append(points, TimelinePoint{
			Minute:       epochToMinute(e.UpdatedTime),
			MeanAccuracy: e.MeanAccuracy,
		})
	}
	return points
}

func epochToMinute(sec float64) time.Time {
	whole := int64(sec)
	if float64(whole) > sec { // floor for negative fractions
		whole--
	}
	return time.Unix(whole, 0).UTC().Truncate(time.Minute)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func notFound(validator string) error {
	return fmt.Errorf("%w: %q", ErrValidatorNotFound, validator)
}
