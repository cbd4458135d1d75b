// Package stats provides a typed client for the LogicNet validator proxy
// statistics endpoints.
package stats

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RewardLog is one historical evaluation entry of a miner.
type RewardLog struct {
	Correctness float64                    `json:"correctness"`
	Extra       map[string]json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps fields other than correctness in Extra.
func (r *RewardLog) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = RewardLog{}
	if v, ok := raw["correctness"]; ok {
		if err := decodeNumber(v, &r.Correctness); err != nil {
			return fmt.Errorf("correctness: %w", err)
		}
		delete(raw, "correctness")
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MinerRecord is the per-miner entry of a validator's miner information.
type MinerRecord struct {
	Category    string      `json:"category"`
	Scores      []float64   `json:"scores"`
	EpochVolume float64     `json:"epoch_volume"`
	RewardScale float64     `json:"reward_scale"`
	RateLimit   float64     `json:"rate_limit"`
	RewardLogs  []RewardLog `json:"reward_logs,omitempty"`

	// Extra holds upstream fields this package does not model.
	Extra map[string]json.RawMessage `json:"-"`
}

var knownRecordFields = []string{"category", "scores", "epoch_volume", "reward_scale", "rate_limit", "reward_logs"}

// UnmarshalJSON tolerates null categories and numbers and leaves RewardLogs
// nil when the key is absent.
func (m *MinerRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MinerRecord{}

	if v, ok := raw["category"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &m.Category); err != nil {
			return fmt.Errorf("category: %w", err)
		}
	}
	if v, ok := raw["scores"]; ok && !isNull(v) {
		if err := json.Unmarshal(v, &m.Scores); err != nil {
			return fmt.Errorf("scores: %w", err)
		}
	}
	if v, ok := raw["epoch_volume"]; ok {
		if err := decodeNumber(v, &m.EpochVolume); err != nil {
			return fmt.Errorf("epoch_volume: %w", err)
		}
	}
	if v, ok := raw["reward_scale"]; ok {
		if err := decodeNumber(v, &m.RewardScale); err != nil {
			return fmt.Errorf("reward_scale: %w", err)
		}
	}
	if v, ok := raw["rate_limit"]; ok {
		if err := decodeNumber(v, &m.RateLimit); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}
	if v, ok := raw["reward_logs"]; ok && !isNull(v) {
		logs := []RewardLog{}
		if err := json.Unmarshal(v, &logs); err != nil {
			return fmt.Errorf("reward_logs: %w", err)
		}
		m.RewardLogs = logs
	}

	for _, k := range knownRecordFields {
		delete(raw, k)
	}
	if len(raw) > 0 {
		m.Extra = raw
	}
	return nil
}

// HasRewardLogs reports whether the upstream record carried a reward_logs key.
func (m MinerRecord) HasRewardLogs() bool {
	return m.RewardLogs != nil
}

// MinerInformation maps miner uid to record. Order lists the uids in the
// order they appeared in the upstream document.
type MinerInformation struct {
	Order   []string
	Records map[string]MinerRecord
}

// NewMinerInformation returns an empty MinerInformation ready for Add.
func NewMinerInformation() *MinerInformation {
	return &MinerInformation{Records: make(map[string]MinerRecord)}
}

// Add appends a miner, replacing the record in place if the uid exists.
func (mi *MinerInformation) Add(uid string, rec MinerRecord) {
	if mi.Records == nil {
		mi.Records = make(map[string]MinerRecord)
	}
	if _, ok := mi.Records[uid]; !ok {
		mi.Order = append(mi.Order, uid)
	}
	mi.Records[uid] = rec
}

// Len returns the number of miners.
func (mi *MinerInformation) Len() int {
	if mi == nil {
		return 0
	}
	return len(mi.Order)
}

// Each calls fn for every miner in document order.
func (mi *MinerInformation) Each(fn func(uid string, rec MinerRecord)) {
	if mi == nil {
		return
	}
	for _, uid := range mi.Order {
		fn(uid, mi.Records[uid])
	}
}

// UnmarshalJSON decodes the uid -> record object, preserving key order.
func (mi *MinerInformation) UnmarshalJSON(data []byte) error {
	*mi = MinerInformation{Records: make(map[string]MinerRecord)}
	if isNull(data) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("miner_information: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		uid, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("miner_information: unexpected key %v", keyTok)
		}
		var rec MinerRecord
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("miner %s: %w", uid, err)
		}
		mi.Add(uid, rec)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON encodes the miners as an object in document order.
func (mi MinerInformation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, uid := range mi.Order {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(uid)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(mi.Records[uid])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ValidatorInformation is one validator's slice of the information snapshot.
type ValidatorInformation struct {
	MinerInformation MinerInformation `json:"miner_information"`
}

// InformationSnapshot is the response of get_miner_information, keyed by
// validator uid.
type InformationSnapshot map[string]ValidatorInformation

// Validators returns the validator ids present in the snapshot.
func (s InformationSnapshot) Validators() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// TimelineEntry is one timestamped accuracy summary.
type TimelineEntry struct {
	UpdatedTime  float64 `json:"updated_time"`
	MeanAccuracy float64 `json:"mean_accuracy"`
}

// ValidatorStatistics is one validator's slice of the statistics snapshot.
type ValidatorStatistics struct {
	AverageTopAccuracy []TimelineEntry `json:"average_top_accuracy"`
}

// StatisticsSnapshot is the response of get_miner_statistics, keyed by
// validator uid.
type StatisticsSnapshot map[string]ValidatorStatistics

// Snapshots pairs both upstream documents fetched for one session.
// Statistics may be nil when that fetch failed.
type Snapshots struct {
	Information InformationSnapshot
	Statistics  StatisticsSnapshot
}

func isNull(v json.RawMessage) bool {
	return len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null"
}

// decodeNumber accepts JSON numbers and null (as zero).
func decodeNumber(v json.RawMessage, out *float64) error {
	if isNull(v) {
		*out = 0
		return nil
	}
	return json.Unmarshal(v, out)
}
