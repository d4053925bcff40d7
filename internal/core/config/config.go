package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	QLDService = "https://spatial-gis.information.qld.gov.au/arcgis/rest/services/Transportation/HeavyVehicleRoutesAndRestrictions/MapServer"
	SAService  = "https://maps.sa.gov.au/arcgis/rest/services/DPTIExtTransport/RAVNet_Dynamic_Routes3/MapServer"

	defaultSources = "qld=" + QLDService + "|18|512,sa=" + SAService + "|22|256"
)

// ArcGISSource is one tiled ArcGIS query layer.
type ArcGISSource struct {
	Name       string
	ServiceURL string
	Layer      int
	TileSize   int
}

type CartoCfg struct {
	Enabled bool
	Account string
	APIKey  string
}

type KafkaCfg struct {
	Brokers              string
	ViewportEnabled      bool
	ViewportTopic        string
	GroupID              string
	RefreshEventsEnabled bool
	RefreshTopic         string
}

type Config struct {
	Addr            string
	LogLevel        string
	LogConsole      bool
	LogSampleN      int
	RefreshDebounce time.Duration
	RefreshTimeout  time.Duration
	InitialZoom     float64
	Sources         []ArcGISSource
	Carto           CartoCfg
	HitTestLayers   []string
	FetchMaxWorkers int
	FetchMaxTiles   int

	CacheDriver     string
	RedisAddr       string
	CacheOpTimeout  time.Duration
	CacheTTLDefault time.Duration
	CacheTTLOvr     map[string]time.Duration
	CacheLRUSize    int

	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int
	RateLimitRPM       int

	Kafka KafkaCfg
}

func FromEnv() (Config, error) {
	sources, err := ParseSources(getenv("ARCGIS_SOURCES", defaultSources))
	if err != nil {
		return Config{}, err
	}

	maxTiles := getint("FETCH_MAX_TILES", 64)
	if maxTiles <= 0 {
		return Config{}, fmt.Errorf("FETCH_MAX_TILES must be positive, got %d", maxTiles)
	}

	return Config{
		Addr:            getenv("ADDR", ":8090"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		LogConsole:      getbool("LOG_CONSOLE", false),
		LogSampleN:      getint("LOG_SAMPLE_N", 0),
		RefreshDebounce: getduration("REFRESH_DEBOUNCE", 500*time.Millisecond),
		RefreshTimeout:  getduration("REFRESH_TIMEOUT", 30*time.Second),
		InitialZoom:     getfloat("INITIAL_ZOOM", 5),
		Sources:         sources,
		Carto: CartoCfg{
			Enabled: getbool("CARTO_ENABLED", false),
			Account: getenv("CARTO_ACCOUNT", "rms-apps"),
			APIKey:  getenv("CARTO_API_KEY", "default_public"),
		},
		HitTestLayers:   splitList(getenv("HITTEST_LAYERS", "qld,sa")),
		FetchMaxWorkers: getint("FETCH_MAX_WORKERS", 8),
		FetchMaxTiles:   maxTiles,

		CacheDriver:     strings.ToLower(getenv("CACHE_DRIVER", "memory")),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		CacheOpTimeout:  getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLDefault: getduration("CACHE_TTL_DEFAULT", 5*time.Minute),
		CacheTTLOvr:     parseDurationMap(getenv("CACHE_TTL_OVERRIDES", "")),
		CacheLRUSize:    getint("CACHE_LRU_SIZE", 4096),

		UpstreamTimeout:    getduration("UPSTREAM_TIMEOUT", 15*time.Second),
		UpstreamMaxRetries: getint("UPSTREAM_MAX_RETRIES", 2),
		RateLimitRPM:       getint("RATE_LIMIT_RPM", 600),

		Kafka: KafkaCfg{
			Brokers:              getenv("KAFKA_BROKERS", "localhost:9092"),
			ViewportEnabled:      getbool("VIEWPORT_EVENTS_ENABLED", false),
			ViewportTopic:        getenv("KAFKA_VIEWPORT_TOPIC", "map-viewport"),
			GroupID:              getenv("KAFKA_GROUP_ID", "viewport-sync"),
			RefreshEventsEnabled: getbool("REFRESH_EVENTS_ENABLED", false),
			RefreshTopic:         getenv("KAFKA_REFRESH_TOPIC", "layer-refresh"),
		},
	}, nil
}

// TTLFor returns the cache TTL for a layer, honouring overrides.
func (c Config) TTLFor(layer string) time.Duration {
	if d, ok := c.CacheTTLOvr[layer]; ok && d > 0 {
		return d
	}
	return c.CacheTTLDefault
}

// ParseSources reads "name=serviceURL|layer|tileSize,..." entries.
func ParseSources(s string) ([]ArcGISSource, error) {
	var out []ArcGISSource
	seen := map[string]bool{}
	for entry := range strings.SplitSeq(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("arcgis source %q: expected name=url|layer|tileSize", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("arcgis source %q: duplicate name", name)
		}
		parts := strings.Split(rest, "|")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("arcgis source %q: expected url|layer|tileSize", name)
		}
		layer, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || layer < 0 {
			return nil, fmt.Errorf("arcgis source %q: bad layer index %q", name, parts[1])
		}
		size := 256
		if len(parts) == 3 {
			size, err = strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil || size <= 0 || size&(size-1) != 0 {
				return nil, fmt.Errorf("arcgis source %q: tile size must be a power of two, got %q", name, parts[2])
			}
		}
		seen[name] = true
		out = append(out, ArcGISSource{
			Name:       name,
			ServiceURL: strings.TrimSpace(parts[0]),
			Layer:      layer,
			TileSize:   size,
		})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "layer=5m,other=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			out[k] = d
		}
	}
	return out
}
