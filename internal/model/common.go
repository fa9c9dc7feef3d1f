package model

// RetryConfig controls exponential backoff for outbound calls. Delays are
// in milliseconds; the n-th retry waits min(initial * multiplier^(n-1), max).
type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts" bson:"max_attempts"`
	InitialDelayMs int     `json:"initial_delay_ms" bson:"initial_delay_ms"`
	MaxDelayMs     int     `json:"max_delay_ms" bson:"max_delay_ms"`
	Multiplier     float64 `json:"multiplier" bson:"multiplier"`
}

// DefaultRetryConfig matches the invitation API's tolerance: three attempts
// starting at 800ms and capped at 5s.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:    3,
	InitialDelayMs: 800,
	MaxDelayMs:     5000,
	Multiplier:     2,
}

// WithDefaults returns a copy with zero fields taken from DefaultRetryConfig
func (rc RetryConfig) WithDefaults() RetryConfig {
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = DefaultRetryConfig.MaxAttempts
	}
	if rc.InitialDelayMs <= 0 {
		rc.InitialDelayMs = DefaultRetryConfig.InitialDelayMs
	}
	if rc.MaxDelayMs <= 0 {
		rc.MaxDelayMs = DefaultRetryConfig.MaxDelayMs
	}
	if rc.MaxDelayMs < rc.InitialDelayMs {
		rc.MaxDelayMs = rc.InitialDelayMs
	}
	if rc.Multiplier < 1 {
		rc.Multiplier = DefaultRetryConfig.Multiplier
	}
	return rc
}

// Page is one page of a listing
type Page[T any] struct {
	Total   int64 `json:"total"`
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Results []T   `json:"results"`
}
