package fine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestComputeFine(t *testing.T) {
	tests := []struct {
		name string
		due  *time.Time
		want int64
	}{
		{"no due date", nil, 0},
		{"due in the future", at(48 * time.Hour), 0},
		{"due exactly now", at(0), 0},
		{"one nanosecond late", at(-time.Nanosecond), 10},
		{"due yesterday", at(-24 * time.Hour), 10},
		{"just over a day", at(-24*time.Hour - time.Minute), 20},
		{"three days two hours", at(-(3*24 + 2) * time.Hour), 40},
		{"thirty days", at(-30 * 24 * time.Hour), 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeFine(tt.due, now))
		})
	}
}

func TestComputeFine_Properties(t *testing.T) {
	due := now
	for h := -200; h <= 200; h += 7 {
		eval := now.Add(time.Duration(h) * time.Hour)
		got := ComputeFine(&due, eval)

		assert.Equal(t, got, ComputeFine(&due, eval), "idempotent at %dh", h)
		if h <= 0 {
			assert.Zero(t, got, "not overdue at %dh", h)
			continue
		}
		days := (int64(h) + 23) / 24
		assert.Equal(t, days*DailyRate, got, "ceil days at %dh", h)
		assert.Positive(t, got)
	}
}

func TestDueDate(t *testing.T) {
	assert.Equal(t, now.Add(7*24*time.Hour), DueDate(now))
}
