package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTargetRecord_TimestampIsISO8601(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123_000_000, time.FixedZone("X", 3600))
	rec := NewTargetRecord("Movie", "https://vcloud.zip/file/x", at)

	assert.Equal(t, "Movie", rec.Title)
	assert.Equal(t, "https://vcloud.zip/file/x", rec.URL)
	assert.Equal(t, "2024-05-06T06:08:09.123Z", rec.Timestamp)

	parsed, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(at))
}

func TestNewSeedResult(t *testing.T) {
	t.Run("nil records become empty slice", func(t *testing.T) {
		r := NewSeedResult("https://vegamovies.gt/a", nil)
		assert.True(t, r.Success)
		assert.False(t, r.Emergency)
		assert.Equal(t, SeedOutcomeOK, r.Outcome)
		assert.NotNil(t, r.VcloudResults)
		assert.Equal(t, 0, r.TotalLinks)

		data, err := json.Marshal(r)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"vcloudResults":[]`)
	})

	t.Run("total links tracks records", func(t *testing.T) {
		recs := []TargetRecord{{Title: "a", URL: "u1"}, {Title: "a", URL: "u2"}}
		r := NewSeedResult("https://vegamovies.gt/a", recs)
		assert.Equal(t, len(r.VcloudResults), r.TotalLinks)
		assert.Equal(t, 2, r.TotalLinks)
	})
}

func TestNewEmergencyResult(t *testing.T) {
	r := NewEmergencyResult("https://vegamovies.gt/x", errors.New("boom"))

	assert.True(t, r.Success, "emergency results still count as completed")
	assert.True(t, r.Emergency)
	assert.Equal(t, SeedOutcomeEmergency, r.Outcome)
	assert.Equal(t, "boom", r.ErrorMessage)
	require.Len(t, r.VcloudResults, 1)
	assert.Equal(t, r.TotalLinks, len(r.VcloudResults))
	assert.Equal(t, "MANUAL_CHECK: https://vegamovies.gt/x", r.VcloudResults[0].Title)
	assert.Equal(t, "#ERROR:https://vegamovies.gt/x", r.VcloudResults[0].URL)
}

func TestBulkResult_Records(t *testing.T) {
	b := BulkResult{
		TotalVcloudLinks: 3,
		Results: []SeedResult{
			NewSeedResult("s1", []TargetRecord{{Title: "t1", URL: "a"}, {Title: "t1", URL: "b"}}),
			NewSeedResult("s2", nil),
			NewSeedResult("s3", []TargetRecord{{Title: "t3", URL: "c"}}),
		},
	}

	recs := b.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{recs[0].URL, recs[1].URL, recs[2].URL})
}

func TestSeedOutcome(t *testing.T) {
	assert.Equal(t, "unset", SeedOutcomeUnset.String())
	assert.Equal(t, "ok", SeedOutcomeOK.String())
	assert.True(t, SeedOutcomeOK.IsValid())
	assert.True(t, SeedOutcomeEmergency.IsValid())
	assert.False(t, SeedOutcomeUnset.IsValid())
	assert.False(t, SeedOutcome("bogus").IsValid())
}

func TestRunState(t *testing.T) {
	assert.Equal(t, "idle", RunState("").String())
	assert.Equal(t, "fetching_seed", RunStateFetchingSeed.String())
	assert.True(t, RunStateDone.IsTerminal())
	assert.False(t, RunStateBatching.IsTerminal())
}
