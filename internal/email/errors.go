package email

import "errors"

var (
	// ErrRateLimitExceeded is returned when the hourly limit for a recipient is used up
	ErrRateLimitExceeded = errors.New("email rate limit exceeded")
)
