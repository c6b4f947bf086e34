package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/paulmach/orb"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Orbee backend (live tier).
	BackendURL   string
	BackendToken string
	LiveTimeout  time.Duration

	// In-process NDVI cache tier.
	CacheSize int
	CacheTTL  time.Duration

	// SyntheticSeed makes fallback series reproducible when set.
	SyntheticSeed *uint64

	SearchDebounce time.Duration

	// HTTP surface.
	JWTSecret   string
	CORSOrigins []string

	// Map assets. Empty CriticalPointsPath uses the embedded feed.
	CriticalPointsPath string
	RasterMosaicPath   string
	RasterBounds       orb.Bound // zero when unset

	// Optional region registry stored in Postgres.
	RegionsDatabaseURL string
	RegionsAreaCode    string

	// Region monitor publishing readings to Kafka.
	MonitorEnabled     bool
	MonitorInterval    time.Duration
	KafkaBrokers       []string
	KafkaReadingsTopic string
	BatchSize          int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	liveTimeout, err := parsePositiveDuration("LIVE_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("NDVI_CACHE_TTL", "15m")
	if err != nil {
		return nil, err
	}
	debounce, err := parsePositiveDuration("AOI_SEARCH_DEBOUNCE", "300ms")
	if err != nil {
		return nil, err
	}
	monitorInterval, err := parsePositiveDuration("MONITOR_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	seed, err := parseSeed()
	if err != nil {
		return nil, err
	}

	rasterBounds, err := parseBounds(os.Getenv("RASTER_BOUNDS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		BackendURL:   strings.TrimRight(sharedcfg.EnvOrDefault("ORBEE_API_URL", "http://localhost:8000/api/v1"), "/"),
		BackendToken: os.Getenv("ORBEE_API_TOKEN"),
		LiveTimeout:  liveTimeout,

		CacheSize: parseCacheSize(),
		CacheTTL:  cacheTTL,

		SyntheticSeed:  seed,
		SearchDebounce: debounce,

		JWTSecret:   os.Getenv("JWT_SECRET"),
		CORSOrigins: splitList(sharedcfg.EnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")),

		CriticalPointsPath: os.Getenv("CRITICAL_POINTS_PATH"),
		RasterMosaicPath:   os.Getenv("RASTER_MOSAIC_PATH"),
		RasterBounds:       rasterBounds,

		RegionsDatabaseURL: os.Getenv("REGIONS_DATABASE_URL"),
		RegionsAreaCode:    sharedcfg.EnvOrDefault("REGIONS_AREA_CODE", "4316808"),

		MonitorEnabled:     os.Getenv("MONITOR_ENABLED") == "true",
		MonitorInterval:    monitorInterval,
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaReadingsTopic: sharedcfg.EnvOrDefault("KAFKA_READINGS_TOPIC", "ndvi-readings"),
		BatchSize:          batchSize,
	}

	if _, err := url.ParseRequestURI(cfg.BackendURL); err != nil {
		return nil, fmt.Errorf("invalid ORBEE_API_URL: %w", err)
	}
	if cfg.MonitorEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required when MONITOR_ENABLED is true")
		}
		if cfg.KafkaReadingsTopic == "" {
			return nil, errors.New("KAFKA_READINGS_TOPIC is required when MONITOR_ENABLED is true")
		}
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseCacheSize() int {
	if s := os.Getenv("NDVI_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}

func parseSeed() (*uint64, error) {
	s := os.Getenv("SYNTHETIC_SEED")
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SYNTHETIC_SEED: %w", err)
	}
	return &v, nil
}

// parseBounds reads "minLon,minLat,maxLon,maxLat". Empty yields a zero bound.
func parseBounds(v string) (orb.Bound, error) {
	if v == "" {
		return orb.Bound{}, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return orb.Bound{}, errors.New("invalid RASTER_BOUNDS: want minLon,minLat,maxLon,maxLat")
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("invalid RASTER_BOUNDS: %w", err)
		}
		vals[i] = f
	}
	if vals[0] >= vals[2] || vals[1] >= vals[3] {
		return orb.Bound{}, errors.New("invalid RASTER_BOUNDS: min must be below max")
	}
	return orb.Bound{Min: orb.Point{vals[0], vals[1]}, Max: orb.Point{vals[2], vals[3]}}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
