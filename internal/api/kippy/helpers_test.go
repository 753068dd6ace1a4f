package kippy

import (
	"testing"
	"time"
)

func timeMustParse(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed
}

func TestWeeksParamSpansISOWeeks(t *testing.T) {
	// 2026-08-30 是周日（ISO 第 35 周），次日进入第 36 周
	start := timeMustParse(t, "2026-08-30T00:00:00Z")
	end := start.AddDate(0, 0, 1)

	got := weeksParam(start, end)
	want := `[{"year":"2026","number":"35"},{"year":"2026","number":"36"}]`
	if got != want {
		t.Errorf("weeksParam = %s, want %s", got, want)
	}
}

func TestWeeksParamDeduplicates(t *testing.T) {
	start := timeMustParse(t, "2026-08-25T00:00:00Z")
	end := start.AddDate(0, 0, 2)

	got := weeksParam(start, end)
	want := `[{"year":"2026","number":"35"}]`
	if got != want {
		t.Errorf("weeksParam = %s, want %s", got, want)
	}
}

func TestTzHours(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	if got := tzHours(time.Date(2026, 8, 30, 0, 0, 0, 0, loc)); got != 8 {
		t.Errorf("tzHours = %v, want 8", got)
	}
	if got := tzHours(time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)); got != 0 {
		t.Errorf("tzHours = %v, want 0", got)
	}
}

func TestParseReturnCode(t *testing.T) {
	cases := []struct {
		name    string
		data    map[string]any
		success bool
	}{
		{"numeric zero", map[string]any{"return": float64(0)}, true},
		{"numeric string", map[string]any{"return": "0"}, true},
		{"empty success code", map[string]any{"return": float64(113)}, true},
		{"bool true", map[string]any{"return": true}, true},
		{"bool false", map[string]any{"return": false}, false},
		{"result key", map[string]any{"Result": "0"}, true},
		{"invalid credentials", map[string]any{"return": float64(108)}, false},
		{"missing", map[string]any{}, false},
		{"garbage string", map[string]any{"return": "nope"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := parseReturnCode(tc.data).success(); got != tc.success {
				t.Errorf("success() = %v, want %v", got, tc.success)
			}
		})
	}
}
