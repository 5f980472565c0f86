package goals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday, March 2nd 2026.
var dueNow = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func TestParseDuePhrase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		phrase string
		want   time.Time
	}{
		{"today", time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC)},
		{"tonight", time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC)},
		{"tomorrow", time.Date(2026, 3, 3, 23, 59, 59, 0, time.UTC)},
		{"next week", time.Date(2026, 3, 9, 23, 59, 59, 0, time.UTC)},
		{"end of month", time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)},
		{"end of the month", time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC)},
		{"in 3 days", time.Date(2026, 3, 5, 23, 59, 59, 0, time.UTC)},
		{"in 2 weeks", time.Date(2026, 3, 16, 23, 59, 59, 0, time.UTC)},
		{"in 1 month", time.Date(2026, 4, 2, 23, 59, 59, 0, time.UTC)},
		{"friday", time.Date(2026, 3, 6, 23, 59, 59, 0, time.UTC)},
		{"next monday", time.Date(2026, 3, 9, 23, 59, 59, 0, time.UTC)},
		{"april 15", time.Date(2026, 4, 15, 23, 59, 59, 0, time.UTC)},
		{"April 15th", time.Date(2026, 4, 15, 23, 59, 59, 0, time.UTC)},
		// A month-day already past rolls to next year.
		{"january 10", time.Date(2027, 1, 10, 23, 59, 59, 0, time.UTC)},
	}

	for _, tc := range cases {
		got := parseDuePhrase(tc.phrase, dueNow)
		require.NotNil(t, got, "phrase %q should parse", tc.phrase)
		assert.Equal(t, tc.want, *got, "phrase %q", tc.phrase)
	}
}

func TestParseDuePhrase_Unrecognized(t *testing.T) {
	t.Parallel()

	for _, phrase := range []string{"", "whenever", "the heat death of the universe", "in zero days"} {
		assert.Nil(t, parseDuePhrase(phrase, dueNow), "phrase %q", phrase)
	}
}

func TestExtractDueDate(t *testing.T) {
	t.Parallel()

	desc, due := extractDueDate("finish the Q4 report by tomorrow", dueNow)
	require.NotNil(t, due)
	assert.Equal(t, "finish the Q4 report", desc)
	assert.Equal(t, time.Date(2026, 3, 3, 23, 59, 59, 0, time.UTC), *due)

	// An unparseable clause leaves the description alone.
	desc, due = extractDueDate("finish the report by hook or by crook", dueNow)
	assert.Nil(t, due)
	assert.Equal(t, "finish the report by hook or by crook", desc)

	// No clause at all.
	desc, due = extractDueDate("water the plants", dueNow)
	assert.Nil(t, due)
	assert.Equal(t, "water the plants", desc)
}
