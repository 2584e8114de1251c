package lectern

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrServiceNotSupported indicates a Bible version names a provider
	// identifier no adapter is registered for.
	ErrServiceNotSupported = errors.New("service not supported")

	// ErrDoNotUnderstand indicates a provider response couldn't be
	// parsed into any passage.
	ErrDoNotUnderstand = errors.New("could not understand provider response")
)

// PassageTimeoutError indicates a provider passage lookup exceeded its
// timeout bound. It carries the requested range and version so the
// caller can render a specific message.
type PassageTimeoutError struct {
	Ref     VerseRange
	Version string
}

func (e PassageTimeoutError) Error() string {
	return fmt.Sprintf("timed out looking up %s (%s)", e.Ref.String(), e.Version)
}

// SearchTimeoutError indicates a provider search exceeded its timeout
// bound.
type SearchTimeoutError struct {
	Terms   string
	Version string
}

func (e SearchTimeoutError) Error() string {
	return fmt.Sprintf("timed out searching for %q (%s)", e.Terms, e.Version)
}

// TextProvider translates logical verse/search requests into one
// external text service's request/response shape. Implementations
// return passage text pre-normalized via normalizePassageText; the
// service manager stamps the version abbreviation afterwards.
type TextProvider interface {
	// Name returns the provider identifier adapters are registered
	// under.
	Name() string

	// GetPassage fetches and parses the text for a verse range.
	GetPassage(ctx context.Context, bible *BibleVersion, ref VerseRange) (
		*Passage,
		error,
	)

	// Search runs a full-text query, returning one page of results
	// plus the provider's reported total match count.
	Search(
		ctx context.Context,
		bible *BibleVersion,
		terms string,
		limit int,
		offset int,
	) (*SearchResults, error)
}

// ProviderConfig is the per-adapter configuration subsection. Each
// adapter receives only its own subsection.
type ProviderConfig struct {
	// APIKey authenticates requests for providers that require it.
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`

	// BaseURL overrides the provider's default endpoint. Primarily for
	// tests.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url"`
}

// ServiceManager routes verse lookups and searches to the provider
// adapter named by a version's Service field, and stamps the version
// abbreviation onto results. Adapters are constructed once at startup
// from the configuration section keyed by provider identifier, sharing
// one outbound HTTP client and rate limiter.
type ServiceManager struct {
	providers map[string]TextProvider
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// NewServiceManager builds the adapter registry. Every known adapter
// is constructed; adapters that require configuration they didn't get
// still register and fail per-request, so an admin misconfiguration
// surfaces as a lookup error rather than a startup crash.
func NewServiceManager(
	configs map[string]ProviderConfig,
	httpClient *http.Client,
	timeout time.Duration,
	maxRequestsPerSecond float64,
	logger *slog.Logger,
) *ServiceManager {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger = logger.With(loggerNameKey, "service_manager")

	m := &ServiceManager{
		providers: map[string]TextProvider{},
		limiter:   rate.NewLimiter(rate.Limit(maxRequestsPerSecond), 1),
		logger:    logger,
	}

	adapters := []TextProvider{
		newBibleGateway(configs[serviceBibleGateway], httpClient, timeout, logger),
		newAPIBible(configs[serviceAPIBible], httpClient, timeout, logger),
	}
	for _, p := range adapters {
		m.providers[p.Name()] = p
	}
	return m
}

// Provider returns the adapter registered for the given provider
// identifier.
func (m *ServiceManager) Provider(name string) (TextProvider, error) {
	p, ok := m.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrServiceNotSupported, name)
	}
	return p, nil
}

// GetPassage resolves the adapter for the version's provider,
// delegates the lookup, and stamps the version abbreviation onto the
// returned passage.
func (m *ServiceManager) GetPassage(
	ctx context.Context,
	bible *BibleVersion,
	ref VerseRange,
) (*Passage, error) {
	p, err := m.Provider(bible.Service)
	if err != nil {
		return nil, err
	}
	if err = m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	passage, err := p.GetPassage(ctx, bible, ref)
	if err != nil {
		if isTimeout(err) {
			return nil, PassageTimeoutError{Ref: ref, Version: bible.Name}
		}
		return nil, err
	}
	passage.Version = bible.Abbreviation
	return passage, nil
}

// Search resolves the adapter for the version's provider, delegates
// the query, and stamps the version abbreviation onto every returned
// passage.
func (m *ServiceManager) Search(
	ctx context.Context,
	bible *BibleVersion,
	terms string,
	limit int,
	offset int,
) (*SearchResults, error) {
	p, err := m.Provider(bible.Service)
	if err != nil {
		return nil, err
	}
	if err = m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	results, err := p.Search(ctx, bible, terms, limit, offset)
	if err != nil {
		if isTimeout(err) {
			return nil, SearchTimeoutError{Terms: terms, Version: bible.Name}
		}
		return nil, err
	}
	for i := range results.Passages {
		results.Passages[i].Version = bible.Abbreviation
	}
	return results, nil
}

// isTimeout reports whether an outbound call failed on its deadline.
// Timeouts translate to typed errors rather than retries.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
