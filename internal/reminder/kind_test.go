package reminder

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestPlan_DayAndHourInstants(t *testing.T) {
	loc := mustLoc(t, "Asia/Bangkok")
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, loc)

	got := Plan(start.UTC(), loc, []int{1, 2, 3}, 1)
	require.Len(t, got, 4)

	want := []Reminder{
		{Kind: Day(3), At: time.Date(2025, 3, 7, 0, 0, 0, 0, loc)},
		{Kind: Day(2), At: time.Date(2025, 3, 8, 0, 0, 0, 0, loc)},
		{Kind: Day(1), At: time.Date(2025, 3, 9, 0, 0, 0, 0, loc)},
		{Kind: Hour(1), At: time.Date(2025, 3, 10, 17, 0, 0, 0, loc)},
	}
	for i := range want {
		assert.Equal(t, want[i].Kind, got[i].Kind, "index %d", i)
		assert.True(t, want[i].At.Equal(got[i].At), "index %d: want %s, got %s", i, want[i].At, got[i].At)
	}
}

func TestPlan_MidnightUsesLocalDate(t *testing.T) {
	loc := mustLoc(t, "Asia/Bangkok")
	// 2025-03-01 01:00 in Bangkok is still 2025-02-28 in UTC.
	start := time.Date(2025, 3, 1, 1, 0, 0, 0, loc)

	got := Plan(start, loc, []int{1}, 0)
	require.Len(t, got, 1)
	assert.True(t, got[0].At.Equal(time.Date(2025, 2, 28, 0, 0, 0, 0, loc)))
}

func TestPlan_CrossesYearBoundary(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

	got := Plan(start, time.UTC, []int{3}, 0)
	require.Len(t, got, 1)
	assert.True(t, got[0].At.Equal(time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC)))
}

func TestPlan_SkipsDisabledOffsets(t *testing.T) {
	start := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)

	assert.Empty(t, Plan(start, time.UTC, nil, 0))

	got := Plan(start, time.UTC, []int{0, -1, 2}, 0)
	require.Len(t, got, 1)
	assert.Equal(t, Day(2), got[0].Kind)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "day-3", Day(3).String())
	assert.Equal(t, "hour", Hour(1).String())
	assert.Equal(t, "hour-2", Hour(2).String())
	assert.Equal(t, "abc#day-1", Key{UID: "abc", Kind: Day(1)}.String())
}

func TestKey_IsComparable(t *testing.T) {
	m := map[Key]bool{{UID: "a", Kind: Day(1)}: true}
	assert.True(t, m[Key{UID: "a", Kind: Day(1)}])
	assert.False(t, m[Key{UID: "a", Kind: Hour(1)}])
}
