package vm

import (
	"log/slog"
	"sync"

	"github.com/sarchlab/rvaot/memory"
)

// Option configures a Module or an Instance.
type Option func(*options)

type options struct {
	logger *slog.Logger
	store  *memory.PageStore
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPageStore backs an Instance with store instead of the process-wide
// default.
func WithPageStore(store *memory.PageStore) Option {
	return func(o *options) {
		o.store = store
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var (
	defaultStoreOnce sync.Once
	defaultStore     *memory.PageStore
	defaultStoreErr  error
)

// DefaultPageStore returns the process-wide page store, creating it with
// the given capacity on first use. Later calls must ask for the same
// capacity.
func DefaultPageStore(pages int) (*memory.PageStore, error) {
	defaultStoreOnce.Do(func() {
		defaultStore, defaultStoreErr = memory.NewPageStore(pages)
	})
	if defaultStoreErr != nil {
		return nil, defaultStoreErr
	}
	if c := defaultStore.Capacity(); c != pages {
		return nil, invalid("page_store_pages %d differs from the process page store's %d", pages, c)
	}
	return defaultStore, nil
}
