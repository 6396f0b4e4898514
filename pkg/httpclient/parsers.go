package httpclient

import (
	"net/http"
	"strconv"
	"time"
)

// ParseStandardHeaders extracts rate limit info from standard and
// OpenAI-style response headers. Used by the model-provider clients.
func ParseStandardHeaders(headers http.Header) RateLimitInfo {
	info := RateLimitInfo{}

	if retryAfter := headers.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			info.RetryAfter = time.Duration(seconds) * time.Second
		} else if resetTime, err := http.ParseTime(retryAfter); err == nil {
			info.ResetTime = resetTime.Unix()
		}
	}

	if reset := headers.Get("x-ratelimit-reset-requests"); reset != "" {
		if d, err := time.ParseDuration(reset); err == nil {
			info.RetryAfter = d
		}
	}

	if remaining := headers.Get("x-ratelimit-remaining-requests"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			info.RequestsRemaining = n
		}
	}

	return info
}
