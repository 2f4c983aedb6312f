package summary

import (
	"testing"
	"time"
)

func TestNextDaily(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		name string
		now  time.Time
		hour int
		min  int
		want time.Time
	}{
		{
			name: "before target same day",
			now:  time.Date(2026, 3, 1, 1, 30, 0, 0, loc),
			hour: 3, min: 0,
			want: time.Date(2026, 3, 1, 3, 0, 0, 0, loc),
		},
		{
			name: "after target rolls to next day",
			now:  time.Date(2026, 3, 1, 4, 0, 0, 0, loc),
			hour: 3, min: 0,
			want: time.Date(2026, 3, 2, 3, 0, 0, 0, loc),
		},
		{
			name: "exactly at target rolls to next day",
			now:  time.Date(2026, 3, 1, 3, 0, 0, 0, loc),
			hour: 3, min: 0,
			want: time.Date(2026, 3, 2, 3, 0, 0, 0, loc),
		},
		{
			name: "month boundary",
			now:  time.Date(2026, 2, 28, 23, 59, 0, 0, loc),
			hour: 3, min: 15,
			want: time.Date(2026, 3, 1, 3, 15, 0, 0, loc),
		},
	}
	for _, tc := range cases {
		got := nextDaily(tc.now, tc.hour, tc.min)
		if !got.Equal(tc.want) {
			t.Fatalf("%s: nextDaily = %v, want %v", tc.name, got, tc.want)
		}
	}
}
