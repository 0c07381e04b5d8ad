package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var timeParser *when.Parser

func init() {
	timeParser = when.New(nil)
	timeParser.Add(en.All...)
	timeParser.Add(common.All...)
}

// parseTimeFlag parses a time flag value. Accepts RFC3339, YYYY-MM-DD,
// and natural language ("yesterday", "last monday", "2 hours ago").
func parseTimeFlag(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	r, err := timeParser.Parse(value, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", value, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q (try RFC3339, YYYY-MM-DD, or phrases like \"yesterday\")", value)
	}
	return r.Time, nil
}

// parseDurationFlag parses a duration flag value. Accepts Go durations
// ("90s", "2h"), bare seconds ("300"), and natural language deadlines
// ("in 2 hours", "tomorrow") measured from now.
func parseDurationFlag(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration value")
	}
	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", value)
		}
		return d, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("duration %q must be positive", value)
		}
		return time.Duration(secs) * time.Second, nil
	}
	now := time.Now()
	r, err := timeParser.Parse(value, now)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", value, err)
	}
	if r == nil || !r.Time.After(now) {
		return 0, fmt.Errorf("unrecognized duration %q (try \"90s\", \"2h\", or \"in 2 hours\")", value)
	}
	return r.Time.Sub(now), nil
}
