package main

import (
	"fmt"

	"github.com/pario-ai/agronomist/pkg/advisor"
	"github.com/pario-ai/agronomist/pkg/cache/memory"
	cachepkg "github.com/pario-ai/agronomist/pkg/cache/sqlite"
	"github.com/pario-ai/agronomist/pkg/config"
	"github.com/pario-ai/agronomist/pkg/models"
	"github.com/pario-ai/agronomist/pkg/tracker"
)

// advisoryCache is what the commands need from either cache backend.
type advisoryCache interface {
	advisor.Cache
	Stats() (models.CacheStats, error)
	Clear(expiredOnly bool) error
	Close() error
}

// stores holds the optional persistence wired from config. Nil fields are disabled.
type stores struct {
	cache   advisoryCache
	tracker *tracker.SQLiteTracker
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openCache(cfg *config.Config) (advisoryCache, error) {
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return memory.New(cfg.Cache.TTL), nil
	default:
		c, err := cachepkg.New(cfg.DBPath, cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("init cache: %w", err)
		}
		return c, nil
	}
}

func openStores(cfg *config.Config) (*stores, error) {
	s := &stores{}
	if cfg.Cache.Enabled {
		c, err := openCache(cfg)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	if cfg.Usage.Enabled {
		tr, err := tracker.New(cfg.DBPath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("init tracker: %w", err)
		}
		s.tracker = tr
	}
	return s, nil
}

// newAdvisor builds an advisor over whichever stores are enabled.
func (s *stores) newAdvisor(cfg *config.Config, opts ...advisor.Option) *advisor.Advisor {
	var cache advisor.Cache
	if s.cache != nil {
		cache = s.cache
	}
	if s.tracker != nil {
		opts = append(opts, advisor.WithUsageRecorder(s.tracker))
	}
	return advisor.New(cfg.Provider, cache, opts...)
}

func (s *stores) Close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.tracker != nil {
		_ = s.tracker.Close()
	}
}
