package history

import (
	"time"

	"github.com/thebtf/searchlog/internal/debounce"
)

const (
	// DefaultCapacity is the number of entries kept per user after a sweep.
	DefaultCapacity = 50

	// DefaultDedupWindow suppresses a repeated query from the same user.
	DefaultDedupWindow = time.Hour

	// DefaultBackendTimeout bounds every backend call.
	DefaultBackendTimeout = 5 * time.Second

	// DefaultSuggestionLimit is the maximum number of prefix suggestions.
	DefaultSuggestionLimit = 5

	// DefaultMinPrefixLength is the shortest prefix (in runes) that yields suggestions.
	DefaultMinPrefixLength = 2

	// DefaultRecentLimit is used when RecentHistory is called without a limit.
	DefaultRecentLimit = 10

	// DefaultPopularLimit is used when PopularQueries is called without a limit.
	DefaultPopularLimit = 10
)

// Clock is the time source for entry timestamps and the dedup window.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Options configures a Service. Zero fields take their defaults.
type Options struct {
	Clock           Clock
	Cache           PopularCache
	Capacity        int
	DedupWindow     time.Duration
	DebounceDelay   time.Duration
	BackendTimeout  time.Duration
	SuggestionLimit int
	MinPrefixLength int
	RecentLimit     int
	PopularLimit    int
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Clock:           SystemClock{},
		Capacity:        DefaultCapacity,
		DedupWindow:     DefaultDedupWindow,
		DebounceDelay:   debounce.DefaultDelay,
		BackendTimeout:  DefaultBackendTimeout,
		SuggestionLimit: DefaultSuggestionLimit,
		MinPrefixLength: DefaultMinPrefixLength,
		RecentLimit:     DefaultRecentLimit,
		PopularLimit:    DefaultPopularLimit,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Capacity <= 0 {
		o.Capacity = d.Capacity
	}
	if o.DedupWindow <= 0 {
		o.DedupWindow = d.DedupWindow
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = d.DebounceDelay
	}
	if o.BackendTimeout <= 0 {
		o.BackendTimeout = d.BackendTimeout
	}
	if o.SuggestionLimit <= 0 {
		o.SuggestionLimit = d.SuggestionLimit
	}
	if o.MinPrefixLength <= 0 {
		o.MinPrefixLength = d.MinPrefixLength
	}
	if o.RecentLimit <= 0 {
		o.RecentLimit = d.RecentLimit
	}
	if o.PopularLimit <= 0 {
		o.PopularLimit = d.PopularLimit
	}
	return o
}
