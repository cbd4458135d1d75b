package stats

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinerRecord_Unmarshal(t *testing.T) {
	var rec MinerRecord
	require.NoError(t, json.Unmarshal([]byte(`{
		"category": null,
		"scores": [0.5, 1],
		"epoch_volume": 12,
		"reward_scale": null,
		"rate_limit": 30,
		"hotkey": "5Fabc",
		"reward_logs": [{"correctness": 1, "similarity": 0.2}]
	}`), &rec))

	assert.Equal(t, "", rec.Category)
	assert.Equal(t, []float64{0.5, 1}, rec.Scores)
	assert.Equal(t, 12.0, rec.EpochVolume)
	assert.Equal(t, 0.0, rec.RewardScale)
	assert.Equal(t, 30.0, rec.RateLimit)
	assert.True(t, rec.HasRewardLogs())
	require.Len(t, rec.RewardLogs, 1)
	assert.Equal(t, 1.0, rec.RewardLogs[0].Correctness)
	assert.JSONEq(t, `0.2`, string(rec.RewardLogs[0].Extra["similarity"]))
	assert.JSONEq(t, `"5Fabc"`, string(rec.Extra["hotkey"]))
	assert.NotContains(t, rec.Extra, "scores")
}

func TestMinerRecord_AbsentRewardLogs(t *testing.T) {
	var rec MinerRecord
	require.NoError(t, json.Unmarshal([]byte(`{"category":"a","scores":[]}`), &rec))
	assert.False(t, rec.HasRewardLogs())
	assert.Nil(t, rec.Extra)

	require.NoError(t, json.Unmarshal([]byte(`{"reward_logs":[]}`), &rec))
	assert.True(t, rec.HasRewardLogs(), "an empty list is still present")
}

func TestMinerRecord_BadScores(t *testing.T) {
	var rec MinerRecord
	err := json.Unmarshal([]byte(`{"scores":"high"}`), &rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scores")
}

func TestMinerInformation_RoundTripKeepsOrder(t *testing.T) {
	doc := `{"z":{"category":"a","scores":[1]},"a":{"category":"b","scores":[2]},"m":{"category":"a","scores":[3]}}`
	var mi MinerInformation
	require.NoError(t, json.Unmarshal([]byte(doc), &mi))
	assert.Equal(t, []string{"z", "a", "m"}, mi.Order)
	assert.Equal(t, 3, mi.Len())

	var seen []string
	mi.Each(func(uid string, _ MinerRecord) { seen = append(seen, uid) })
	assert.Equal(t, mi.Order, seen)

	out, err := json.Marshal(mi)
	require.NoError(t, err)
	var again MinerInformation
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, mi.Order, again.Order)
}

func TestMinerInformation_NullAndNil(t *testing.T) {
	var mi MinerInformation
	require.NoError(t, json.Unmarshal([]byte(`null`), &mi))
	assert.Equal(t, 0, mi.Len())

	var nilInfo *MinerInformation
	assert.Equal(t, 0, nilInfo.Len())
	nilInfo.Each(func(string, MinerRecord) { t.Fatal("unexpected call") })
}

func TestMinerInformation_AddReplacesInPlace(t *testing.T) {
	mi := NewMinerInformation()
	mi.Add("1", MinerRecord{Category: "a"})
	mi.Add("2", MinerRecord{Category: "b"})
	mi.Add("1", MinerRecord{Category: "c"})

	assert.Equal(t, []string{"1", "2"}, mi.Order)
	assert.Equal(t, "c", mi.Records["1"].Category)
}

func TestInformationSnapshot_Validators(t *testing.T) {
	var snap InformationSnapshot
	require.NoError(t, json.Unmarshal([]byte(`{"3":{"miner_information":{}},"12":{"miner_information":{}}}`), &snap))
	ids := snap.Validators()
	sort.Strings(ids)
	assert.Equal(t, []string{"12", "3"}, ids)
}
