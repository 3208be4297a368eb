package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"replyguard/internal/config"
)

func TestIsWithinWindow(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday before open", time.Date(2025, 3, 3, 8, 59, 59, 0, loc), false},
		{"monday at open", time.Date(2025, 3, 3, 9, 0, 0, 0, loc), true},
		{"monday late evening", time.Date(2025, 3, 3, 23, 59, 59, 0, loc), true},
		{"tuesday just after midnight", time.Date(2025, 3, 4, 0, 0, 0, 0, loc), false},
		{"saturday noon", time.Date(2025, 3, 8, 12, 0, 0, 0, loc), true},
		{"sunday afternoon", time.Date(2025, 3, 9, 17, 59, 0, 0, loc), true},
		{"sunday at close", time.Date(2025, 3, 9, 18, 0, 0, 0, loc), false},
		{"sunday night", time.Date(2025, 3, 9, 21, 0, 0, 0, loc), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsWithinWindow(tc.at, loc))
		})
	}
}

func TestIsWithinWindowConvertsZone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Taipei")
	require.NoError(t, err)
	// 02:00 UTC Monday is 10:00 Monday in Taipei
	at := time.Date(2025, 3, 3, 2, 0, 0, 0, time.UTC)
	require.True(t, IsWithinWindow(at, loc))
	require.False(t, IsWithinWindow(at, time.UTC))
}

func TestFromConfigOverridesDays(t *testing.T) {
	s, err := FromConfig(config.ScheduleConfig{
		Timezone: "UTC",
		Weekly: map[string]config.DayHours{
			"sun":    {Open: "00:00", Close: "00:00"},
			"Monday": {Open: "10:30", Close: "12:00"},
		},
	})
	require.NoError(t, err)
	require.False(t, s.IsOpen(time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)))
	require.False(t, s.IsOpen(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)))
	require.True(t, s.IsOpen(time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)))
	require.True(t, s.IsOpen(time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC)))
}

func TestFromConfigRejectsBadZone(t *testing.T) {
	_, err := FromConfig(config.ScheduleConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}
