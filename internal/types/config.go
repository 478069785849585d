package types

const DefaultDateTimePattern = "2006-01-02T15:04:05.000Z07:00"

const DefaultMaxRetryCount = 5

// Config is the full engine configuration as read from compliance-gate.yaml.
type Config struct {
	LogLevel        string               `yaml:"log_level"`
	DateTimePattern string               `yaml:"date_time_pattern"`
	DateTimeZone    string               `yaml:"date_time_zone"`
	Store           StoreConfig          `yaml:"store"`
	Repositories    map[string]string    `yaml:"repositories"`
	Remote          RemoteConfig         `yaml:"remote"`
	Scan            ScanConfig           `yaml:"scan"`
	Inspection      InspectionConfig     `yaml:"inspection"`
	Policy          PolicyConfig         `yaml:"policy"`
	ScanAsAService  ScanAsAServiceConfig `yaml:"scan_as_a_service"`
	Server          ServerConfig         `yaml:"server"`
}

type StoreConfig struct {
	Backend          string `yaml:"backend"`
	PostgresDSN      string `yaml:"postgres_dsn"`
	RedisAddr        string `yaml:"redis_addr"`
	RedisPassword    string `yaml:"redis_password"`
	RedisDB          int    `yaml:"redis_db"`
	ArtifactoryURL   string `yaml:"artifactory_url"`
	ArtifactoryToken string `yaml:"artifactory_token"`
}

const (
	StoreBackendMemory      = "memory"
	StoreBackendPostgres    = "postgres"
	StoreBackendRedis       = "redis"
	StoreBackendArtifactory = "artifactory"
)

type RemoteConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	TimeoutSec   int    `yaml:"timeout_sec"`
	Retries      int    `yaml:"retries"`
	RetryDelayMs int    `yaml:"retry_delay_ms"`
}

type ScanConfig struct {
	Enabled       bool     `yaml:"enabled"`
	MetadataBlock bool     `yaml:"metadata_block"`
	Repos         []string `yaml:"repos"`
	NamePatterns  []string `yaml:"name_patterns"`
}

type InspectionConfig struct {
	Enabled       bool                `yaml:"enabled"`
	MetadataBlock bool                `yaml:"metadata_block"`
	Repos         []string            `yaml:"repos"`
	RetryCount    int                 `yaml:"retry_count"`
	Patterns      map[string][]string `yaml:"patterns"`
}

// PatternsFor returns the file name patterns configured for a package type.
func (c InspectionConfig) PatternsFor(packageType PackageType) []string {
	return c.Patterns[string(packageType)]
}

type PolicyConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Repos         []string `yaml:"repos"`
	SeverityTypes []string `yaml:"severity_types"`
}

type ScanAsAServiceConfig struct {
	Enabled          bool     `yaml:"enabled"`
	BlockingStrategy string   `yaml:"blocking_strategy"`
	BlockingRepos    []string `yaml:"blocking_repos"`
	CutoffDate       string   `yaml:"cutoff_date"`
	AllowedPatterns  []string `yaml:"allowed_patterns"`
	ExcludedPatterns []string `yaml:"excluded_patterns"`
}

type ServerConfig struct {
	Addr                 string `yaml:"addr"`
	ReconcileIntervalSec int    `yaml:"reconcile_interval_sec"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:        "info",
		DateTimePattern: DefaultDateTimePattern,
		Store:           StoreConfig{Backend: StoreBackendMemory},
		Remote: RemoteConfig{
			TimeoutSec:   60,
			Retries:      3,
			RetryDelayMs: 200,
		},
		Inspection: InspectionConfig{RetryCount: DefaultMaxRetryCount},
		ScanAsAService: ScanAsAServiceConfig{
			BlockingStrategy: string(BlockingStrategyBlockAll),
		},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// WithDefaults fills zero values that have a sensible default.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
	if c.DateTimePattern == "" {
		c.DateTimePattern = defaults.DateTimePattern
	}
	if c.Store.Backend == "" {
		c.Store.Backend = defaults.Store.Backend
	}
	if c.Remote.TimeoutSec <= 0 {
		c.Remote.TimeoutSec = defaults.Remote.TimeoutSec
	}
	if c.Remote.Retries <= 0 {
		c.Remote.Retries = defaults.Remote.Retries
	}
	if c.Remote.RetryDelayMs <= 0 {
		c.Remote.RetryDelayMs = defaults.Remote.RetryDelayMs
	}
	if c.Inspection.RetryCount == 0 {
		c.Inspection.RetryCount = defaults.Inspection.RetryCount
	}
	if c.ScanAsAService.BlockingStrategy == "" {
		c.ScanAsAService.BlockingStrategy = defaults.ScanAsAService.BlockingStrategy
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	return c
}
