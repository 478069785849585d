package app

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/adapters"
	"compliance-gate/internal/core"
	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

type Service struct {
	Config       types.Config
	Store        ports.PropertyStore
	Repositories ports.RepositoryPort
	// Items is nil for stores that track storage metadata themselves.
	Items    ports.ItemIndexPort
	Remote   ports.CompliancePort
	Hostname string
	Clock    func() time.Time

	dates   core.DateTimeFormatter
	closers []func()
}

// NewService validates cfg and builds the adapters it selects.
func NewService(ctx context.Context, cfg types.Config) (Service, error) {
	cfg = cfg.WithDefaults()
	if err := core.ValidateConfig(ctx, cfg); err != nil {
		return Service{}, err
	}
	backend, err := buildStoreBackend(ctx, cfg)
	if err != nil {
		return Service{}, err
	}
	remote := adapters.NewComplianceHTTPAdapter(cfg.Remote.URL, cfg.Remote.Token, cfg.Remote.TimeoutSec, cfg.Remote.Retries, cfg.Remote.RetryDelayMs)
	service, err := NewServiceWithPorts(cfg, backend.Store, backend.Repositories, backend.Items, remote)
	if err != nil {
		backend.close()
		return Service{}, err
	}
	if backend.Close != nil {
		service.closers = append(service.closers, backend.Close)
	}
	log.Ctx(ctx).Debug().Str("backend", cfg.Store.Backend).Str("hostname", service.Hostname).Msg("service ready")
	return service, nil
}

// NewServiceWithPorts assembles a service around already-built ports.
func NewServiceWithPorts(cfg types.Config, store ports.PropertyStore, repos ports.RepositoryPort, items ports.ItemIndexPort, remote ports.CompliancePort) (Service, error) {
	cfg = cfg.WithDefaults()
	dates, err := core.NewDateTimeFormatter(cfg.DateTimePattern, cfg.DateTimeZone)
	if err != nil {
		return Service{}, err
	}
	return Service{
		Config:       cfg,
		Store:        store,
		Repositories: repos,
		Items:        items,
		Remote:       remote,
		Hostname:     localHostname(),
		Clock:        time.Now,
		dates:        dates,
	}, nil
}

// Close releases connections held by the store backend.
func (s Service) Close() {
	for _, closer := range s.closers {
		closer()
	}
}

func (s Service) facts() core.Facts {
	return core.NewFacts(s.Store, s.dates)
}

func (s Service) inspector() core.Inspector {
	return core.NewInspector(s.facts(), s.Repositories, s.Remote, s.Config.Inspection, s.Hostname, s.Clock)
}

func (s Service) reconciler() core.Reconciler {
	return core.NewReconciler(s.facts(), s.Remote, s.Hostname, s.Clock)
}

func (s Service) requireInspection() error {
	if s.Config.Inspection.Enabled {
		return nil
	}
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("inspection is disabled")
}

func localHostname() string {
	name, err := os.Hostname()
	if err != nil || strings.TrimSpace(name) == "" {
		return "localhost"
	}
	return name
}

type storeBackend struct {
	Store        ports.PropertyStore
	Repositories ports.RepositoryPort
	Items        ports.ItemIndexPort
	Close        func()
}

func (b storeBackend) close() {
	if b.Close != nil {
		b.Close()
	}
}

func buildStoreBackend(ctx context.Context, cfg types.Config) (storeBackend, error) {
	static := adapters.NewStaticRepositories(cfg.Repositories)
	switch cfg.Store.Backend {
	case types.StoreBackendMemory:
		store := adapters.NewMemoryPropertyStore()
		return storeBackend{Store: store, Repositories: static, Items: store}, nil
	case types.StoreBackendPostgres:
		store, err := adapters.NewPostgresPropertyStore(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return storeBackend{}, err
		}
		return storeBackend{Store: store, Repositories: static, Items: store, Close: store.Close}, nil
	case types.StoreBackendRedis:
		store, err := adapters.NewRedisPropertyStore(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err != nil {
			return storeBackend{}, err
		}
		return storeBackend{Store: store, Repositories: static, Items: store, Close: func() { _ = store.Close() }}, nil
	case types.StoreBackendArtifactory:
		store := adapters.NewArtifactoryPropertyStore(cfg.Store.ArtifactoryURL, cfg.Store.ArtifactoryToken, cfg.Remote.TimeoutSec, cfg.Remote.Retries, cfg.Remote.RetryDelayMs)
		return storeBackend{Store: store, Repositories: store}, nil
	default:
		return storeBackend{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unsupported store backend: " + cfg.Store.Backend)
	}
}
