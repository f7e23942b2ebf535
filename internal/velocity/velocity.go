// Package velocity computes the rate and shape of recent token consumption
// from a window of usage logs. The field naming (burn rate, trend buckets,
// projection) follows the usage-prediction shape in
// other_examples/d974ddf5_jefflaplante-conduit's UsageForecast/BudgetForecast
// and go-claude-monitor's MetricsInfo/ProjectionInfo, though the formulas
// below are this proxy's own.
package velocity

import (
	"math"

	cruise "github.com/cruisehq/cruise/internal"
)

const trendBuckets = 12

// Compute derives VelocityStats from an ordered (oldest-first) window of
// usage logs spanning windowMinutes minutes. An empty window returns zero
// stats with PatternSteady.
func Compute(logs []cruise.UsageLog, windowMinutes float64) cruise.VelocityStats {
	if len(logs) == 0 {
		return cruise.VelocityStats{Pattern: cruise.PatternSteady}
	}

	windowStart := logs[0].TimestampMs
	windowEnd := logs[len(logs)-1].TimestampMs
	spanMs := windowEnd - windowStart

	var totalTokens int64
	for _, l := range logs {
		totalTokens += int64(l.InputTokens + l.OutputTokens)
	}

	var perMinute float64
	if windowMinutes > 0 {
		perMinute = float64(totalTokens) / windowMinutes
	}

	trend := bucketize(logs, windowStart, spanMs)
	accel := acceleration(trend)
	pattern := classify(trend, accel)

	return cruise.VelocityStats{
		TokensPerMinute: perMinute,
		TokensPerHour:   perMinute * 60,
		Trend:           trend,
		Acceleration:    accel,
		Pattern:         pattern,
	}
}

// bucketize splits the window into 12 equal time intervals and sums tokens
// per bucket. When the window has zero time span (all logs at the same
// timestamp, or a single log), every one of the 12 buckets is set to the
// mean tokens per log instead.
func bucketize(logs []cruise.UsageLog, windowStart, spanMs int64) [trendBuckets]float64 {
	var trend [trendBuckets]float64

	if spanMs <= 0 {
		var total float64
		for _, l := range logs {
			total += float64(l.InputTokens + l.OutputTokens)
		}
		mean := total / float64(len(logs))
		for i := range trend {
			trend[i] = mean
		}
		return trend
	}

	bucketMs := spanMs / trendBuckets
	if bucketMs == 0 {
		bucketMs = 1
	}
	for _, l := range logs {
		idx := int((l.TimestampMs - windowStart) / bucketMs)
		if idx >= trendBuckets {
			idx = trendBuckets - 1
		}
		if idx < 0 {
			idx = 0
		}
		trend[idx] += float64(l.InputTokens + l.OutputTokens)
	}
	return trend
}

// acceleration is the second difference of the last three trend buckets
// (indices 11, 10, 9), zero unless at least three buckets hold data.
func acceleration(trend [trendBuckets]float64) float64 {
	populated := 0
	for _, v := range trend {
		if v != 0 {
			populated++
		}
	}
	if populated < 3 {
		return 0
	}
	last, prev, prevPrev := trend[trendBuckets-1], trend[trendBuckets-2], trend[trendBuckets-3]
	return (last - prev) - (prev - prevPrev)
}

// classify derives a Pattern from the trend buckets' stddev-to-mean ratio
// and the acceleration's sign and magnitude, per spec: burst when the
// spread exceeds half the mean, declining when acceleration falls below
// -20% of the mean, steady otherwise.
func classify(trend [trendBuckets]float64, accel float64) cruise.Pattern {
	var sum float64
	for _, v := range trend {
		sum += v
	}
	mean := sum / trendBuckets
	if mean == 0 {
		return cruise.PatternSteady
	}

	var variance float64
	for _, v := range trend {
		d := v - mean
		variance += d * d
	}
	variance /= trendBuckets
	stddev := math.Sqrt(variance)

	switch {
	case stddev > mean*0.5:
		return cruise.PatternBurst
	case accel < -mean*0.2:
		return cruise.PatternDeclining
	default:
		return cruise.PatternSteady
	}
}

// ProjectMinutesAhead estimates total additional tokens over the next
// minutesAhead minutes, using a formula shaped by the detected pattern.
func ProjectMinutesAhead(stats cruise.VelocityStats, minutesAhead float64) float64 {
	switch stats.Pattern {
	case cruise.PatternDeclining:
		damp := 1 - 0.1*minutesAhead/60
		if damp < 0 {
			damp = 0
		}
		return stats.TokensPerMinute * minutesAhead * damp
	case cruise.PatternBurst:
		return stats.TokensPerMinute * minutesAhead * 1.2
	default:
		return (stats.TokensPerMinute + stats.Acceleration/2*minutesAhead/60) * minutesAhead
	}
}
