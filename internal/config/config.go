package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	NAIP        NAIPConfig        `yaml:"naip" mapstructure:"naip"`
	Planetary   PlanetaryConfig   `yaml:"planetary" mapstructure:"planetary"`
	FEMA        FEMAConfig        `yaml:"fema" mapstructure:"fema"`
	SentinelHub SentinelHubConfig `yaml:"sentinelhub" mapstructure:"sentinelhub"`
	Landsat     LandsatConfig     `yaml:"landsat" mapstructure:"landsat"`
	Planet      PlanetConfig      `yaml:"planet" mapstructure:"planet"`
	USPS        USPSConfig        `yaml:"usps" mapstructure:"usps"`
	Geocode     GeocodeConfig     `yaml:"geocode" mapstructure:"geocode"`
	Storage     StorageConfig     `yaml:"storage" mapstructure:"storage"`
	Scan        ScanConfig        `yaml:"scan" mapstructure:"scan"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Maps        MapsConfig        `yaml:"maps" mapstructure:"maps"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the shared Postgres instance.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// NAIPConfig configures the aerial imagery client.
type NAIPConfig struct {
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	CacheDir string `yaml:"cache_dir" mapstructure:"cache_dir"`
}

// PlanetaryConfig configures the historical aerial STAC client.
type PlanetaryConfig struct {
	STACURL string `yaml:"stac_url" mapstructure:"stac_url"`
	DataURL string `yaml:"data_url" mapstructure:"data_url"`
}

// FEMAConfig configures the flood hazard client.
type FEMAConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// SentinelHubConfig holds OAuth credentials and budget for the satellite
// NDVI statistics client.
type SentinelHubConfig struct {
	ClientID      string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret  string `yaml:"client_secret" mapstructure:"client_secret"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	TokenURL      string `yaml:"token_url" mapstructure:"token_url"`
	MonthlyBudget int    `yaml:"monthly_budget" mapstructure:"monthly_budget"`
	PerMinute     int    `yaml:"per_minute" mapstructure:"per_minute"`
}

// LandsatConfig configures the satellite NDVI fallback client.
type LandsatConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PlanetConfig holds the high-res imagery token and re-run guard window.
type PlanetConfig struct {
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	CooldownDays int    `yaml:"cooldown_days" mapstructure:"cooldown_days"`
}

// USPSConfig holds carrier-vacancy credentials. Accounts 2+ are addressed by
// numeric env suffix (SCANNER_USPS_CLIENT_ID_2 / SCANNER_USPS_CLIENT_SECRET_2, ...).
type USPSConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	TokenURL     string `yaml:"token_url" mapstructure:"token_url"`
	AddressURL   string `yaml:"address_url" mapstructure:"address_url"`
	TestEnv      bool   `yaml:"test_env" mapstructure:"test_env"`
	DelayMin     int    `yaml:"delay_min" mapstructure:"delay_min"`
	DelayMax     int    `yaml:"delay_max" mapstructure:"delay_max"`
}

// GeocodeConfig configures the Census geocoder used for city/ZIP resolution.
type GeocodeConfig struct {
	RPS float64 `yaml:"rps" mapstructure:"rps"`
}

// StorageConfig configures the artifact store.
type StorageConfig struct {
	Dir       string `yaml:"dir" mapstructure:"dir"`
	PublicURL string `yaml:"public_url" mapstructure:"public_url"`
}

// ScanConfig tunes the batch passes.
type ScanConfig struct {
	Workers          int     `yaml:"workers" mapstructure:"workers"`
	FlushEvery       int     `yaml:"flush_every" mapstructure:"flush_every"`
	MinComposite     float64 `yaml:"min_composite" mapstructure:"min_composite"`
	VacancyCacheDays int     `yaml:"vacancy_cache_days" mapstructure:"vacancy_cache_days"`
	SentinelMonths   int     `yaml:"sentinel_months" mapstructure:"sentinel_months"`
	SentinelRate     int     `yaml:"sentinel_rate" mapstructure:"sentinel_rate"`
}

// ServerConfig configures the query surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MapsConfig holds browser-only map keys served to the dashboard.
type MapsConfig struct {
	BrowserKey string `yaml:"browser_key" mapstructure:"browser_key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"store.database_url",
		"sentinelhub.client_id", "sentinelhub.client_secret",
		"planet.api_key", "planet.enabled",
		"usps.client_id", "usps.client_secret", "usps.test_env",
		"storage.public_url", "maps.browser_key",
	} {
		_ = v.BindEnv(key)
	}

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8001)
	v.SetDefault("naip.base_url", "https://imagery.nationalmap.gov/arcgis/rest/services/USGSNAIPPlus/ImageServer")
	v.SetDefault("naip.cache_dir", "data/cache/naip")
	v.SetDefault("planetary.stac_url", "https://planetarycomputer.microsoft.com/api/stac/v1/search")
	v.SetDefault("planetary.data_url", "https://planetarycomputer.microsoft.com/api/data/v1")
	v.SetDefault("fema.base_url", "https://hazards.fema.gov/arcgis/rest/services/public/NFHL/MapServer")
	v.SetDefault("sentinelhub.base_url", "https://sh.dataspace.copernicus.eu")
	v.SetDefault("sentinelhub.token_url", "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token")
	v.SetDefault("sentinelhub.monthly_budget", 10000)
	v.SetDefault("sentinelhub.per_minute", 300)
	v.SetDefault("landsat.base_url", "https://landsat2.arcgis.com/arcgis/rest/services/Landsat/MS/ImageServer")
	v.SetDefault("planet.cooldown_days", 60)
	v.SetDefault("usps.token_url", "https://apis.usps.com/oauth2/v3/token")
	v.SetDefault("usps.address_url", "https://apis.usps.com/addresses/v3/address")
	v.SetDefault("usps.delay_min", 30)
	v.SetDefault("usps.delay_max", 55)
	v.SetDefault("geocode.rps", 1)
	v.SetDefault("storage.dir", "data/artifacts")
	v.SetDefault("scan.workers", 10)
	v.SetDefault("scan.flush_every", 100)
	v.SetDefault("scan.min_composite", 7.5)
	v.SetDefault("scan.vacancy_cache_days", 60)
	v.SetDefault("scan.sentinel_months", 12)
	v.SetDefault("scan.sentinel_rate", 40)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Credentials returns the (client id, secret) pair for an account number.
// Account 1 uses the base config keys; accounts 2+ read the numeric-suffix
// environment variables.
func (c USPSConfig) Credentials(account int) (string, string) {
	if account <= 1 {
		return c.ClientID, c.ClientSecret
	}
	suffix := strconv.Itoa(account)
	return os.Getenv("SCANNER_USPS_CLIENT_ID_" + suffix),
		os.Getenv("SCANNER_USPS_CLIENT_SECRET_" + suffix)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
