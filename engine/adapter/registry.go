package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/enjin-dev/enjin-ingest/pkg/config"
)

// ErrUnknownAdapter signals a lookup of an adapter name that was never
// registered. This is caller misuse, not a retryable condition.
var ErrUnknownAdapter = fmt.Errorf("unknown adapter")

// Factory builds an adapter from the service settings.
type Factory func(config.Settings) SourceAdapter

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an adapter factory available under name. Later
// registrations of the same name replace earlier ones.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New instantiates the named adapter with the given settings.
func New(name string, cfg config.Settings) (SourceAdapter, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, name)
	}
	return f(cfg), nil
}

// Names returns the registered adapter names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("rss", func(cfg config.Settings) SourceAdapter {
		return NewRSS(RSSConfig{FeedURLs: cfg.RSSFeedURLs})
	})
	Register("gdelt", func(cfg config.Settings) SourceAdapter {
		return NewGDELT(GDELTConfig{BaseURL: cfg.GDELTBaseURL, FocusCountries: cfg.GDELTFocusCountries})
	})
	Register("cvr", func(cfg config.Settings) SourceAdapter {
		return NewCVR(CVRConfig{APIURL: cfg.CVRAPIURL, APIKey: cfg.CVRAPIKey, SearchTerms: cfg.CVRSearchTerms})
	})
}
