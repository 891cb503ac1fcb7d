// Package partners is the partner registry: an in-memory view of the
// partners table refreshed on an interval. API key lookups are served from
// the view; status checks by id read through to the store.
package partners

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AROSTA-MOSTER/datakomeza/libs/apikey"
	"github.com/AROSTA-MOSTER/datakomeza/services/idauth/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

var ErrUnknownKey = errors.New("unknown partner api key")

type Store interface {
	ListPartners(ctx context.Context) ([]storage.Partner, error)
	GetPartner(ctx context.Context, id string) (*storage.Partner, error)
	GetPartnerByKeyPrefix(ctx context.Context, prefix string) (*storage.Partner, error)
}

type RefreshMetrics interface {
	ObserveRefresh(duration time.Duration)
	SetCacheSize(size int)
	IncRefreshError()
}

type Cache struct {
	store       Store
	mu          sync.RWMutex
	byID        map[string]storage.Partner
	byPrefix    map[string]string
	lastRefresh time.Time
}

func NewCache(store Store) *Cache {
	return &Cache{
		store:    store,
		byID:     make(map[string]storage.Partner),
		byPrefix: make(map[string]string),
	}
}

func (c *Cache) Load(ctx context.Context) error {
	list, err := c.store.ListPartners(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]storage.Partner, len(list))
	byPrefix := make(map[string]string, len(list))
	for _, p := range list {
		byID[p.ID] = p
		if p.APIKeyPrefix != "" {
			byPrefix[p.APIKeyPrefix] = p.ID
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.byPrefix = byPrefix
	c.lastRefresh = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Cache) Refresh(ctx context.Context) error {
	return c.Load(ctx)
}

// GetPartner reads the partner row from the store so status changes apply
// immediately, and refreshes the cached copy with it. A partner gone from
// the store is evicted and reported as storage.ErrNotFound.
func (c *Cache) GetPartner(ctx context.Context, id string) (*storage.Partner, error) {
	fetched, err := c.store.GetPartner(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.evict(id)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	c.put(*fetched)
	return fetched, nil
}

// Authenticate resolves the partner owning key and checks the caller's
// address against its allow list. Status is left to the caller.
func (c *Cache) Authenticate(ctx context.Context, key, clientIP string) (*storage.Partner, error) {
	prefix, err := apikey.Prefix(key)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	id, ok := c.byPrefix[prefix]
	p := c.byID[id]
	c.mu.RUnlock()

	if !ok {
		fetched, err := c.store.GetPartnerByKeyPrefix(ctx, prefix)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrUnknownKey
			}
			return nil, err
		}
		c.put(*fetched)
		p = *fetched
	}

	if err := apikey.Verify(key, p.APIKeyHash, clientIP, p.AllowedIPs); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Cache) put(p storage.Partner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[p.ID] = p
	if p.APIKeyPrefix != "" {
		c.byPrefix[p.APIKeyPrefix] = p.ID
	}
}

func (c *Cache) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byID[id]; ok {
		delete(c.byPrefix, p.APIKeyPrefix)
		delete(c.byID, id)
	}
}

func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}

func (c *Cache) StartAutoRefresh(ctx context.Context, interval time.Duration, metrics RefreshMetrics, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		logger.Warn("partner cache refresh disabled")
		return
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				start := time.Now()
				err := c.Refresh(refreshCtx)
				cancel()
				if err != nil {
					logger.Error("partner cache refresh failed", "error", err)
					if metrics != nil {
						metrics.IncRefreshError()
					}
					continue
				}
				if metrics != nil {
					metrics.ObserveRefresh(time.Since(start))
					metrics.SetCacheSize(c.Size())
				}
				logger.Debug("partner cache refreshed", "partners", c.Size())
			}
		}
	}()
}

type Metrics struct {
	RefreshDuration prometheus.Histogram
	RefreshErrors   prometheus.Counter
	Size            prometheus.Gauge
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "partner_cache_refresh_duration_seconds",
			Help:    "Partner cache refresh duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		RefreshErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partner_cache_refresh_errors_total",
			Help: "Failed partner cache refreshes.",
		}),
		Size: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "partner_cache_size",
			Help: "Number of partners cached.",
		}),
	}
	registry.MustRegister(m.RefreshDuration, m.RefreshErrors, m.Size)
	return m
}

func (m *Metrics) ObserveRefresh(d time.Duration) { m.RefreshDuration.Observe(d.Seconds()) }
func (m *Metrics) SetCacheSize(size int)          { m.Size.Set(float64(size)) }
func (m *Metrics) IncRefreshError()               { m.RefreshErrors.Inc() }
