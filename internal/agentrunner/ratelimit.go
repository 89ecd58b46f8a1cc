package agentrunner

import (
	"regexp"
	"strconv"
	"time"
)

// RateLimitInfo describes a detected agent-provider rate limit.
type RateLimitInfo struct {
	DetectedAt  time.Time
	ResetAt     time.Time
	WaitSeconds int64
	RawMessage  string
}

// TimeUntilReset returns how long remains until ResetAt, or zero if unset.
func (r *RateLimitInfo) TimeUntilReset() time.Duration {
	if r.ResetAt.IsZero() {
		return 0
	}
	return time.Until(r.ResetAt)
}

var (
	unixTimestampPattern = regexp.MustCompile(`usage limit reached\|(\d+)`)
	retrySecondsPattern   = regexp.MustCompile(`retry (?:in|after)\s+(\d+)\s*(?:seconds?|s)`)
	rateLimitIndicator    = regexp.MustCompile(`(?i)(out of.*usage|rate.?limit|usage.?limit|429|too.?many.?requests)`)
)

// ParseRateLimitFromError inspects a subprocess error message for known
// rate-limit signatures and, if found, returns the parsed detail.
func ParseRateLimitFromError(message string) *RateLimitInfo {
	if message == "" || !rateLimitIndicator.MatchString(message) {
		return nil
	}
	info := &RateLimitInfo{DetectedAt: time.Now(), RawMessage: message}

	if m := unixTimestampPattern.FindStringSubmatch(message); len(m) > 1 {
		if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.ResetAt = time.Unix(ts, 0)
			info.WaitSeconds = info.ResetAt.Unix() - time.Now().Unix()
			return info
		}
	}
	if m := retrySecondsPattern.FindStringSubmatch(message); len(m) > 1 {
		if secs, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			info.WaitSeconds = secs
			info.ResetAt = time.Now().Add(time.Duration(secs) * time.Second)
			return info
		}
	}
	// Indicator matched but no parseable detail: default to a short backoff.
	info.WaitSeconds = 30
	info.ResetAt = time.Now().Add(30 * time.Second)
	return info
}
