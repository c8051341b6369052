package tools

import (
	"context"
	"time"
)

// CurrentTime is the payload of the current_time tool.
type CurrentTime struct {
	ISOTimestamp string `json:"iso_timestamp"`
	Date         string `json:"date"`
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	MonthName    string `json:"month_name"`
	Weekday      string `json:"weekday"`
	Timezone     string `json:"timezone"`
}

// NowUTC describes t in UTC.
func NowUTC(t time.Time) CurrentTime {
	t = t.UTC()
	return CurrentTime{
		ISOTimestamp: t.Format(time.RFC3339),
		Date:         t.Format(time.DateOnly),
		Year:         t.Year(),
		Month:        int(t.Month()),
		MonthName:    t.Month().String(),
		Weekday:      t.Weekday().String(),
		Timezone:     "UTC",
	}
}

// CurrentTimeTool returns the current_time tool. now is injectable for
// tests; nil means time.Now.
func CurrentTimeTool(now func() time.Time) *Tool {
	if now == nil {
		now = time.Now
	}
	return &Tool{
		Name: "current_time",
		Description: "Get the current UTC date and time. Call this before searching whenever the question " +
			"uses relative dates such as \"this week\", \"this January\", or \"recently\".",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return NowUTC(now()), nil
		},
	}
}
