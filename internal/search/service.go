package search

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/paginate"
)

var ErrNoProviders = errors.New("no place providers configured")

// Provider searches one external place source near a point.
type Provider interface {
	Name() string
	Info() domain.ProviderInfo
	Search(ctx context.Context, query domain.ProviderQuery) ([]domain.ProviderRecord, error)
}

type TileCache interface {
	CheckFreshness(ctx context.Context, lat, lng float64, radiusM int) (string, bool, error)
	MarkFetched(ctx context.Context, tileID string, radiusM int) error
}

type Ingester interface {
	Ingest(ctx context.Context, records []domain.ProviderRecord) (int, error)
}

type Paginator interface {
	Query(ctx context.Context, lat, lng float64, radiusM int, cursor *domain.Cursor, limit int) (paginate.Page, error)
}

type Service struct {
	providers []Provider
	tiles     TileCache
	ingester  Ingester
	paginator Paginator
	logger    *slog.Logger
	timeout   time.Duration
	retry     RetryConfig
	rps       float64
	now       func() time.Time

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	healthMu sync.Mutex
	health   map[string]*providerHealth
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithProviderTimeout bounds a single provider call, retries included.
func WithProviderTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

func WithRetryConfig(cfg RetryConfig) ServiceOption {
	return func(s *Service) {
		s.retry = cfg
	}
}

// WithProviderRateLimit caps calls per second to each provider. Zero disables limiting.
func WithProviderRateLimit(rps float64) ServiceOption {
	return func(s *Service) {
		s.rps = rps
	}
}

func withClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(providers []Provider, tiles TileCache, ingester Ingester, paginator Paginator, opts ...ServiceOption) *Service {
	registry := make([]Provider, 0, len(providers))
	seen := make(map[string]struct{}, len(providers))
	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := providerKey(provider.Name())
		if name == "" {
			continue
		}
		if _, exists := seen[name]; exists {
			continue
		}
		seen[name] = struct{}{}
		registry = append(registry, provider)
	}

	svc := &Service{
		providers: registry,
		tiles:     tiles,
		ingester:  ingester,
		paginator: paginator,
		logger:    slog.Default(),
		timeout:   10 * time.Second,
		retry:     DefaultRetryConfig(),
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
		health:    make(map[string]*providerHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

func (s *Service) Providers() []domain.ProviderInfo {
	items := make([]domain.ProviderInfo, 0, len(s.providers))
	for _, provider := range s.providers {
		info := provider.Info()
		info.Name = providerKey(provider.Name())
		if info.Label == "" {
			info.Label = info.Name
		}
		items = append(items, info)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Name < items[j].Name
	})
	return items
}

func providerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
