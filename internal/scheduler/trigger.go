package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMarginSeconds   = 300
	defaultMarginMinutes   = 5
	defaultMinIntervalMins = 1
	defaultIntervalMinutes = 60
)

// parseDatetime parses an ISO-8601 datetime string, assuming UTC when no
// timezone is present. RFC3339/ISO is tried first, falling back to a bare
// "YYYY-MM-DD HH:MM:SS" layout.
func parseDatetime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime format %q", s)
}

// parseClockTime parses an "HH:MM" string, defaulting to 09:00 on any
// error.
func parseClockTime(s string) (hour, minute int) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 9, 0
	}
	h, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return 9, 0
	}
	return h, m
}

func isTimeMatch(now time.Time, hour, minute, marginMinutes int) bool {
	nowMinutes := now.Hour()*60 + now.Minute()
	targetMinutes := hour*60 + minute
	diff := nowMinutes - targetMinutes
	if diff < 0 {
		diff = -diff
	}
	return diff <= marginMinutes
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asInt(v any, def int) int {
	f, ok := asFloat(v)
	if !ok {
		return def
	}
	return int(f)
}

func asString(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// shouldTrigger evaluates t's trigger predicate against now.
func shouldTrigger(t Task, now time.Time) bool {
	if !t.Enabled {
		return false
	}
	cfg := t.TriggerConfig
	switch t.TriggerType {
	case TriggerOnce:
		dt := asString(cfg["datetime"], "")
		if dt == "" || dt == "now" {
			// "now" is rewritten to a concrete timestamp by fixNowDatetimes
			// before the tick loop ever evaluates a task; a bare "now" still
			// observed here is treated as immediately due.
			return dt == "now"
		}
		target, err := parseDatetime(dt)
		if err != nil {
			return false
		}
		margin := asInt(cfg["margin_seconds"], defaultMarginSeconds)
		diff := now.Sub(target).Seconds()
		return diff >= 0 && diff <= float64(margin)

	case TriggerDaily:
		hour, minute := parseClockTime(asString(cfg["time"], "09:00"))
		margin := asInt(cfg["margin_minutes"], defaultMarginMinutes)
		return isTimeMatch(now, hour, minute, margin)

	case TriggerWeekly:
		day := strings.ToLower(asString(cfg["day"], "monday"))
		hour, minute := parseClockTime(asString(cfg["time"], "10:00"))
		margin := asInt(cfg["margin_minutes"], defaultMarginMinutes)
		return strings.ToLower(now.Weekday().String()) == day && isTimeMatch(now, hour, minute, margin)

	case TriggerMonthly:
		day := asInt(cfg["day"], 1)
		hour, minute := parseClockTime(asString(cfg["time"], "10:00"))
		margin := asInt(cfg["margin_minutes"], defaultMarginMinutes)
		return now.Day() == day && isTimeMatch(now, hour, minute, margin)

	case TriggerInterval:
		if startRaw := asString(cfg["start_time"], ""); startRaw != "" && startRaw != "now" {
			start, err := parseDatetime(startRaw)
			if err == nil && now.Before(start) {
				return false
			}
		}
		intervalMinutes := asInt(cfg["interval_minutes"], defaultIntervalMinutes)
		if t.LastExecution.IsZero() {
			return true
		}
		return now.Sub(t.LastExecution).Minutes() >= float64(intervalMinutes)

	default:
		return false
	}
}

// wasRecentlyExecuted is the re-execution guard: it suppresses dispatch
// if now - LastExecution < min_interval_minutes, applied the same way
// across every trigger type.
func wasRecentlyExecuted(t Task, now time.Time) bool {
	if t.LastExecution.IsZero() {
		return false
	}
	minInterval := asInt(t.TriggerConfig["min_interval_minutes"], defaultMinIntervalMins)
	return now.Sub(t.LastExecution).Minutes() < float64(minInterval)
}
