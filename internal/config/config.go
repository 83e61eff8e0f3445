// Package config loads server configuration from a layered defaults/file/
// env stack built on github.com/knadh/koanf: struct defaults loaded
// first, an optional YAML file layered on top, then environment
// variables for the final override. A flat-scalar env-var-only scheme
// can express a handful of server settings but not an arbitrary number
// of MBTiles/PMTiles/COG/GeoJSON/Postgres sources with nested fields —
// koanf's file+env layering covers that, while bad input at any layer
// is logged and skipped rather than aborting startup.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every top-level concern the server wires at startup.
type Config struct {
	HTTP     HTTPConfig           `koanf:"http"`
	Postgres []PGSourceConfig     `koanf:"postgres"`
	MBTiles  []FileSourceConfig   `koanf:"mbtiles"`
	PMTiles  []FileSourceConfig   `koanf:"pmtiles"`
	COG      []FileSourceConfig   `koanf:"cog"`
	GeoJSON  []FileSourceConfig   `koanf:"geojson"`
	Fonts    FontConfig           `koanf:"fonts"`
	Cache    CacheConfig          `koanf:"cache"`
}

// HTTPConfig holds listen address, route prefix, and CORS configuration:
// the ambient HTTP-framework concerns, plus the route prefix the catalog
// merger needs for TileJSON URL templating.
type HTTPConfig struct {
	ListenAddr  string   `koanf:"listen_addr"`
	RoutePrefix string   `koanf:"route_prefix"`
	CORSOrigins []string `koanf:"cors_origins"`
}

// PGSourceConfig names one Postgres/PostGIS connection plus the table or
// function sources drawn from it.
type PGSourceConfig struct {
	DSN            string                   `koanf:"dsn"`
	MaxOpenConns   int                      `koanf:"max_open_conns"`
	MaxIdleConns   int                      `koanf:"max_idle_conns"`
	ConnectTimeout time.Duration            `koanf:"connect_timeout"`
	Tables         []PGTableSourceConfig    `koanf:"tables"`
	Functions      []PGFunctionSourceConfig `koanf:"functions"`
}

// PGTableSourceConfig is the generalized form of the single hard-coded
// "trails" table postgis_service.go queried.
type PGTableSourceConfig struct {
	ID         string   `koanf:"id"`
	Schema     string   `koanf:"schema"`
	Table      string   `koanf:"table"`
	GeomColumn string   `koanf:"geom_column"`
	SRID       int      `koanf:"srid"`
	IDColumn   string   `koanf:"id_column"`
	Properties []string `koanf:"properties"`
	Extent     int      `koanf:"extent"`
	Buffer     int      `koanf:"buffer"`
	ClipGeom   bool     `koanf:"clip_geom"`
}

// PGFunctionSourceConfig names a user-defined tile function source.
type PGFunctionSourceConfig struct {
	ID           string `koanf:"id"`
	Schema       string `koanf:"schema"`
	Function     string `koanf:"function"`
	AcceptsQuery bool   `koanf:"accepts_query"`
}

// FileSourceConfig names one file-backed source (MBTiles/PMTiles/COG/
// GeoJSON). Path may be a local filesystem path or, for PMTiles/COG, any
// gocloud.dev blob URL (s3://, gs://, azblob://) understood by the
// corresponding bucket scheme.
type FileSourceConfig struct {
	ID   string `koanf:"id"`
	Path string `koanf:"path"`
}

// FontConfig names the directory fontservice.Walk catalogs at startup.
type FontConfig struct {
	Directory string `koanf:"directory"`
}

// CacheConfig sizes the shared tile cache.
type CacheConfig struct {
	MaxCapacityBytes int64         `koanf:"max_capacity_bytes"`
	TTL              time.Duration `koanf:"ttl"`
	TTI              time.Duration `koanf:"tti"`
}

// ConfigPathEnvVar overrides where Load looks for the optional YAML
// source-list file, matching koanf.go's ConfigPathEnvVar convention.
const ConfigPathEnvVar = "TILESERV_CONFIG"

// defaultConfigPaths lists the paths searched in order when
// TILESERV_CONFIG is unset; the first one found is used.
var defaultConfigPaths = []string{
	"tileserv.yaml",
	"tileserv.yml",
	"/etc/tileserv/tileserv.yaml",
}

// defaults returns the scalar baseline every deployment starts from;
// source lists default to empty (a server with no configured sources is
// valid — it just serves nothing but /health).
func defaults() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr:  ":3000",
			RoutePrefix: "",
			CORSOrigins: []string{"*"},
		},
		Fonts: FontConfig{
			Directory: "./fonts",
		},
		Cache: CacheConfig{
			MaxCapacityBytes: 512 << 20,
			TTL:              0,
			TTI:              0,
		},
	}
}

// Load assembles configuration from, in increasing priority: built-in
// defaults, an optional YAML file (source lists normally live here), then
// environment variables for the scalar fields a deployment most often
// needs to override per-environment. A malformed file or env value is
// logged and skipped rather than aborting startup.
func Load() *Config {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		log.Printf("config: loading defaults: %v", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			log.Printf("config: reading %s: %v, continuing without it", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		log.Printf("config: reading environment: %v", err)
	}
	if err := splitCommaList(k, "http.cors_origins"); err != nil {
		log.Printf("config: %v", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		log.Printf("config: unmarshal failed: %v, using defaults only", err)
		return defaults()
	}
	return cfg
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		log.Printf("config: %s=%s not found, ignoring", ConfigPathEnvVar, p)
		return ""
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// splitCommaList turns a plain env-sourced string at path into a string
// slice, leaving an already-structured value (e.g. from the YAML layer)
// untouched.
func splitCommaList(k *koanf.Koanf, path string) error {
	val := k.Get(path)
	s, ok := val.(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return k.Set(path, out)
}

// envTransform maps the handful of top-level scalar env vars a deployment
// reaches for first onto their koanf path; everything else (in particular
// every source list) is file-only and falls through unmapped.
func envTransform(key string) string {
	switch key {
	case "LISTEN_ADDR":
		return "http.listen_addr"
	case "ROUTE_PREFIX":
		return "http.route_prefix"
	case "CORS_ORIGINS":
		return "http.cors_origins"
	case "FONTS_DIR":
		return "fonts.directory"
	case "TILE_CACHE_MAX_BYTES":
		return "cache.max_capacity_bytes"
	case "TILE_CACHE_TTL":
		return "cache.ttl"
	case "TILE_CACHE_TTI":
		return "cache.tti"
	default:
		return ""
	}
}

// Validate checks the configuration for internally-inconsistent values
// that would otherwise fail lazily deep inside an adapter's Open call.
func (c *Config) Validate() error {
	if c.HTTP.ListenAddr == "" {
		return &ErrInvalidConfig{Field: "HTTP.ListenAddr", Reason: "must not be empty"}
	}
	seen := make(map[string]bool)
	for _, list := range [][]FileSourceConfig{c.MBTiles, c.PMTiles, c.COG, c.GeoJSON} {
		for _, sc := range list {
			if sc.ID == "" {
				return &ErrInvalidConfig{Field: "source.id", Reason: "must not be empty"}
			}
			if seen[sc.ID] {
				return &ErrInvalidConfig{Field: fmt.Sprintf("source.id=%s", sc.ID), Reason: "duplicate source id"}
			}
			seen[sc.ID] = true
		}
	}
	return nil
}

// ErrInvalidConfig names the offending field and reason, matching the
// contextual-path/id convention other adapter errors use.
type ErrInvalidConfig struct {
	Field, Reason string
}

func (e *ErrInvalidConfig) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}
