package sqlite

import "time"

func nowMs() int64 { return time.Now().UnixMilli() }

func startOfTodayMs() int64 {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).UnixMilli()
}
