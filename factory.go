package gatelimit

import (
	"fmt"
	"time"
)

// Kind selects the admission strategy of a limiter.
type Kind string

const (
	// KindFixedWindow counts requests in a fixed-size time bucket.
	KindFixedWindow Kind = "fixed_window"

	// KindSlidingWindow smooths the fixed-window edge effect
	// using sub-segments.
	KindSlidingWindow Kind = "sliding_window"

	// KindConcurrency bounds simultaneously in-flight requests.
	KindConcurrency Kind = "concurrency"

	// KindTokenBucket bounds burst size while allowing steady
	// replenishment.
	KindTokenBucket Kind = "token_bucket"
)

var defaultSegmentsPerWindow = uint64(20)

// Config holds the configuration for a limiter instance.
//
// Policies are fixed at creation: a limiter never re-reads its
// configuration while active.
type Config struct {

	// Kind is the admission strategy. Required.
	Kind Kind

	// Limit is the maximum amount of admitted requests per window
	// for the fixed and sliding window strategies, or the maximum
	// amount of simultaneously in-flight requests for the
	// concurrency strategy.
	Limit uint64

	// Window is the width of the time window for the fixed and
	// sliding window strategies.
	Window time.Duration

	// SegmentsPerWindow is the number of sub-segments the sliding
	// window is divided in.
	//
	// The more segments, the closer the accounting gets to a true
	// sliding log. However, too many segments will increase memory
	// and CPU overhead.
	//
	// Window should be exactly divisible by SegmentsPerWindow.
	//
	// When not specified, 1/20 of the Window is assumed.
	SegmentsPerWindow uint64

	// QueueLimit is the capacity of the bounded FIFO holding area
	// for requests awaiting a permit. With a QueueLimit of 0 the
	// limiter never queues and rejects immediately when over limit.
	QueueLimit uint64

	// Capacity is the maximum amount of tokens the token bucket
	// strategy can accumulate. It determines the allowed burst size.
	Capacity uint64

	// TokensPerPeriod is the amount of tokens credited to the bucket
	// every ReplenishmentPeriod.
	TokensPerPeriod uint64

	// ReplenishmentPeriod is the interval between token credits.
	ReplenishmentPeriod time.Duration

	// Time-related functions can be overridden to allow for easier
	// testing. You should usually not override these.
	TimeFunc  func() time.Time
	AfterFunc func(d time.Duration, f func()) *time.Timer

	// you can pass your custom logger if you'd like to
	// but it's not required
	Logger Logger
}

// effectiveConfig holds the validated and parsed configuration
// that was obtained from the user-provided configuration.
// All time arithmetic runs on millisecond integers.
type effectiveConfig struct {
	Limit      uint64
	QueueLimit uint64

	// window composition
	WindowSize        uint64
	WindowSegmentSize uint64
	NumSegments       uint64

	// token bucket replenishment
	Capacity        uint64
	TokensPerPeriod uint64
	PeriodSize      uint64
}

// New returns an instance of gatelimit.Limiter
// built with the specified configuration.
//
// A non-nil error is returned in case of invalid configuration.
// Configuration errors are the only fatal class: they should fail
// the process fast, before serving traffic.
func New(config *Config) (Limiter, error) {
	effectiveLogger := config.Logger
	if effectiveLogger == nil {
		effectiveLogger = &defaultLogger{}
	}

	parsedConfig, err := validateConfiguration(config)
	if err != nil {
		return nil, err
	}

	timeFunc := config.TimeFunc
	if timeFunc == nil {
		timeFunc = time.Now
	}
	afterFunc := config.AfterFunc
	if afterFunc == nil {
		afterFunc = time.AfterFunc
	}

	switch config.Kind {
	case KindFixedWindow:
		return &fixedWindowLimiter{
			Logger:    effectiveLogger,
			Config:    parsedConfig,
			TimeFunc:  timeFunc,
			AfterFunc: afterFunc,
			States:    make(map[string]*fixedWindowState),
		}, nil
	case KindSlidingWindow:
		return &slidingWindowLimiter{
			Logger:    effectiveLogger,
			Config:    parsedConfig,
			TimeFunc:  timeFunc,
			AfterFunc: afterFunc,
			States:    make(map[string]*slidingWindowState),
		}, nil
	case KindConcurrency:
		return &concurrencyLimiter{
			Logger:   effectiveLogger,
			Config:   parsedConfig,
			TimeFunc: timeFunc,
			States:   make(map[string]*concurrencyState),
		}, nil
	case KindTokenBucket:
		return &tokenBucketLimiter{
			Logger:    effectiveLogger,
			Config:    parsedConfig,
			TimeFunc:  timeFunc,
			AfterFunc: afterFunc,
			States:    make(map[string]*tokenBucketState),
		}, nil
	}

	return nil, fmt.Errorf("unknown limiter kind %q", config.Kind)
}

// validateConfiguration will parse the user-provided configuration
// to the required format for runtime while also validating it.
func validateConfiguration(config *Config) (*effectiveConfig, error) {
	out := effectiveConfig{
		QueueLimit: config.QueueLimit,
	}

	switch config.Kind {
	case KindFixedWindow:
		if err := validateWindow(config, &out); err != nil {
			return nil, err
		}

	case KindSlidingWindow:
		if err := validateWindow(config, &out); err != nil {
			return nil, err
		}
		if err := validateSegments(config, &out); err != nil {
			return nil, err
		}

	case KindConcurrency:
		if config.Limit <= 0 {
			return nil, fmt.Errorf("Limit should be greater than 0 (given: %v)", config.Limit)
		}
		out.Limit = config.Limit

	case KindTokenBucket:
		if config.Capacity <= 0 {
			return nil, fmt.Errorf("Capacity should be greater than 0 (given: %v)", config.Capacity)
		}
		if config.TokensPerPeriod <= 0 {
			return nil, fmt.Errorf("TokensPerPeriod should be greater than 0 (given: %v)", config.TokensPerPeriod)
		}
		periodMillis := config.ReplenishmentPeriod.Milliseconds()
		if periodMillis <= 0 {
			return nil, fmt.Errorf("ReplenishmentPeriod should be at least 1ms (given: %v)", config.ReplenishmentPeriod)
		}
		out.Capacity = config.Capacity
		out.TokensPerPeriod = config.TokensPerPeriod
		out.PeriodSize = uint64(periodMillis)

	default:
		return nil, fmt.Errorf("unknown limiter kind %q", config.Kind)
	}

	return &out, nil
}

func validateWindow(config *Config, out *effectiveConfig) error {
	if config.Limit <= 0 {
		return fmt.Errorf("Limit should be greater than 0 (given: %v)", config.Limit)
	}
	out.Limit = config.Limit

	windowSizeMillis := config.Window.Milliseconds()
	if windowSizeMillis <= 0 {
		return fmt.Errorf("Window should be at least 1ms (given: %v)", config.Window)
	}
	out.WindowSize = uint64(windowSizeMillis)

	return nil
}

func validateSegments(config *Config, out *effectiveConfig) error {
	numSegments := config.SegmentsPerWindow
	if numSegments == 0 {
		numSegments = defaultSegmentsPerWindow
	}

	if out.WindowSize%numSegments > 0 {
		return fmt.Errorf("Window should be exactly divisible by SegmentsPerWindow (given: %v over %v segments)", config.Window, numSegments)
	}

	segmentSize := out.WindowSize / numSegments
	if segmentSize < 1 {
		return fmt.Errorf("the given Window is too small to be divided in %v segments. "+
			"Please give a smaller SegmentsPerWindow or pick a larger Window", numSegments)
	}

	out.NumSegments = numSegments
	out.WindowSegmentSize = segmentSize
	return nil
}
