package period

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deptkpi/kpi/internal/repo"
)

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func rng(start, end string) Range {
	return Range{Start: day(start), End: day(end)}
}

func TestValidateRejectsOverlap(t *testing.T) {
	_, err := Validate([]Range{
		rng("2024-01-01", "2024-03-31"),
		rng("2024-02-01", "2024-04-30"),
	})
	assert.ErrorIs(t, err, repo.ErrValidation)
}

func TestValidateAcceptsDisjointQuarters(t *testing.T) {
	out, err := Validate([]Range{
		rng("2024-01-01", "2024-03-31"),
		rng("2024-04-01", "2024-06-30"),
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, day("2024-01-01"), out[0].Start)
}

func TestValidateRejectsTouchingRanges(t *testing.T) {
	_, err := Validate([]Range{
		rng("2024-01-01", "2024-03-31"),
		rng("2024-03-31", "2024-06-30"),
	})
	assert.ErrorIs(t, err, repo.ErrValidation)
}

func TestValidateRejectsEndNotAfterStart(t *testing.T) {
	cases := [][]Range{
		{rng("2024-01-01", "2024-01-01")},
		{rng("2024-02-01", "2024-01-01")},
		{rng("2024-01-01", "2024-01-31"), rng("2024-03-01", "2024-02-01")},
	}
	for _, c := range cases {
		_, err := Validate(c)
		assert.ErrorIs(t, err, repo.ErrValidation)
	}
}

func TestValidateRejectsEmptyAndZeroDates(t *testing.T) {
	_, err := Validate(nil)
	assert.ErrorIs(t, err, repo.ErrValidation)

	_, err = Validate([]Range{{End: day("2024-01-01")}})
	assert.ErrorIs(t, err, repo.ErrValidation)
}

func TestValidateSortsWithoutMutatingInput(t *testing.T) {
	in := []Range{
		rng("2024-07-01", "2024-09-30"),
		rng("2024-01-01", "2024-03-31"),
		rng("2024-04-01", "2024-06-30"),
	}
	out, err := Validate(in)
	require.NoError(t, err)

	assert.Equal(t, day("2024-07-01"), in[0].Start)
	for i := 0; i+1 < len(out); i++ {
		assert.True(t, out[i].End.Before(out[i+1].Start))
	}
}

// Randomised check of the contract: accepted sets are pairwise disjoint and sorted, and a
// set is rejected exactly when some pair overlaps.
func TestValidateMatchesPairwiseDefinition(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	base := day("2024-01-01")

	for iter := 0; iter < 500; iter++ {
		n := 1 + r.Intn(5)
		ranges := make([]Range, n)
		for i := range ranges {
			start := base.AddDate(0, 0, r.Intn(120))
			ranges[i] = Range{Start: start, End: start.AddDate(0, 0, 1+r.Intn(30))}
		}

		overlapping := false
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if Overlaps(ranges[i], ranges[j]) {
					overlapping = true
				}
			}
		}

		out, err := Validate(ranges)
		if overlapping {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Len(t, out, n)
		for i := 0; i+1 < len(out); i++ {
			assert.True(t, out[i].End.Before(out[i+1].Start))
		}
	}
}

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-03-31", "2024-03-31"},
		{"2024-03-31T00:00:00Z", "2024-03-31"},
		{"2024-03-31T23:00:00+07:00", "2024-03-31"},
		{"2024-03-31T10:20:30.123Z", "2024-03-31"},
		{" 2024-01-05 ", "2024-01-05"},
	}
	for _, tc := range tests {
		got, err := NormalizeDate(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, Format(got))
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, bad := range []string{"", "31/03/2024", "tomorrow"} {
		_, err := NormalizeDate(bad)
		assert.ErrorIs(t, err, repo.ErrValidation, bad)
	}
}

func TestDateJSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`"2024-04-01T08:30:00+07:00"`), &d))
	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `"2024-04-01"`, string(out))

	err = json.Unmarshal([]byte(`"01/04/2024"`), &d)
	assert.ErrorIs(t, err, repo.ErrValidation)
}
