package aggregator

import (
	"encoding/json"
	"maps"

	"github.com/aitprotocol/logicnet-dashboard/internal/stats"
)

// DisplayRow is one line of the "Total Information" table. The reward logs
// of the source record are replaced by their correctness values.
type DisplayRow struct {
	UID         string                     `json:"uid"`
	Category    string                     `json:"category"`
	Scores      []float64                  `json:"scores"`
	MeanScore   float64                    `json:"mean_score"`
	EpochVolume float64                    `json:"epoch_volume"`
	RewardScale float64                    `json:"reward_scale"`
	RateLimit   float64                    `json:"rate_limit"`
	Accuracy    []float64                  `json:"accuracy"`
	Extra       map[string]json.RawMessage `json:"extra,omitempty"`
}

// View is everything rendered for one validator.
type View struct {
	Validator      string          `json:"validator"`
	MinerCount     int             `json:"miner_count"`
	Categories     []string        `json:"categories"`
	CategoryCounts CategoryCounts  `json:"category_counts"`
	Scores         []MinerScore    `json:"scores"`
	Charts         []CategoryChart `json:"charts"`
	Timeline       []TimelinePoint `json:"timeline,omitempty"`
	HasTimeline    bool            `json:"has_timeline"`
	Rows           []DisplayRow    `json:"rows"`
}

// DisplayRows builds the table rows for every miner in snapshot order.
func (a *Aggregator) DisplayRows(info *stats.MinerInformation) []DisplayRow {
	rows := make([]DisplayRow, 0, info.Len())
	info.Each(func(uid string, rec stats.MinerRecord) {
		rows = append(rows, DisplayRow{
			UID:         uid,
			Category:    rec.Category,
			Scores:      cloneScores(rec.Scores),
			MeanScore:   a.MeanScore(rec.Scores),
			EpochVolume: rec.EpochVolume,
			RewardScale: rec.RewardScale,
			RateLimit:   rec.RateLimit,
			Accuracy:    FlattenAccuracyHistory(rec),
			Extra:       maps.Clone(rec.Extra),
		})
	})
	return rows
}

// Charts builds one ranked bar chart per non-empty category in first-seen
// order, skipping categories whose mean scores sum to zero.
func (a *Aggregator) Charts(info *stats.MinerInformation, rows []MinerScore) []CategoryChart {
	charts := []CategoryChart{}
	for _, cat := range categoryOrder(info) {
		if cat == "" {
			continue
		}
		bars := RankedCategoryBars(rows, cat)
		if len(bars) == 0 {
			continue
		}
		charts = append(charts, CategoryChart{Category: cat, Bars: bars})
	}
	return charts
}

// Timeline returns the normalized accuracy series of validator, or false when
// the statistics snapshot has no entry for it.
func Timeline(snap stats.StatisticsSnapshot, validator string) ([]TimelinePoint, bool) {
	vs, ok := snap[validator]
	if !ok {
		return nil, false
	}
	return NormalizeTimeline(vs.AverageTopAccuracy), true
}

// MinerInformation looks validator up in the primary snapshot.
func MinerInformation(snap stats.InformationSnapshot, validator string) (*stats.MinerInformation, error) {
	vi, ok := snap[validator]
	if !ok {
		return nil, notFound(validator)
	}
	return &vi.MinerInformation, nil
}

// BuildView assembles the full dashboard view of validator. It fails with
// ErrValidatorNotFound when the validator is absent from info; a validator
// missing from statistics (or nil statistics) only drops the timeline.
func (a *Aggregator) BuildView(info stats.InformationSnapshot, statistics stats.StatisticsSnapshot, validator string) (*View, error) {
	mi, err := MinerInformation(info, validator)
	if err != nil {
		return nil, err
	}

	scores := a.MeanScorePerMiner(mi)
	v := &View{
		Validator:      validator,
		MinerCount:     mi.Len(),
		Categories:     categoryOrder(mi),
		CategoryCounts: GroupByCategory(mi),
		Scores:         scores,
		Charts:         a.Charts(mi, scores),
		Rows:           a.DisplayRows(mi),
	}
	if v.Categories == nil {
		v.Categories = []string{}
	}

	if tl, ok := Timeline(statistics, validator); ok {
		v.Timeline = tl
		v.HasTimeline = true
	}
	return v, nil
}

func cloneScores(s []float64) []float64 {
	if s == nil {
		return []float64{}
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}
