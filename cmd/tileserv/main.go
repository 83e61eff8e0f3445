// Command tileserv is the main tile server binary: it loads
// configuration, opens every configured source adapter, wires the shared
// cache and HTTP router, and serves until signaled to shut down. One flat
// main with explicit setup steps in order, no framework bootstrap object.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"github.com/mmartin/tileserv/internal/cog"
	"github.com/mmartin/tileserv/internal/config"
	"github.com/mmartin/tileserv/internal/fontservice"
	"github.com/mmartin/tileserv/internal/httpserver"
	"github.com/mmartin/tileserv/internal/logging"
	"github.com/mmartin/tileserv/internal/mbtiles"
	"github.com/mmartin/tileserv/internal/pgsource"
	"github.com/mmartin/tileserv/internal/pmtdircache"
	"github.com/mmartin/tileserv/internal/pmtiles"
	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tilecache"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := logging.New(logging.ParseLevel(getEnvOr("LOG_LEVEL", "info")))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := source.NewRegistry()

	if err := loadMBTiles(registry, cfg.MBTiles, log); err != nil {
		log.Error("failed loading mbtiles sources", "err", err)
		os.Exit(1)
	}
	if err := loadPMTiles(ctx, registry, cfg.PMTiles, log); err != nil {
		log.Error("failed loading pmtiles sources", "err", err)
		os.Exit(1)
	}
	if err := loadCOG(ctx, registry, cfg.COG, log); err != nil {
		log.Error("failed loading cog sources", "err", err)
		os.Exit(1)
	}
	if err := loadGeoJSON(registry, cfg.GeoJSON, log); err != nil {
		log.Error("failed loading geojson sources", "err", err)
		os.Exit(1)
	}
	if err := loadPostgres(ctx, registry, cfg.Postgres, log); err != nil {
		log.Error("failed loading postgres sources", "err", err)
		os.Exit(1)
	}

	var fontCatalog *fontservice.Catalog
	if cfg.Fonts.Directory != "" {
		cat, warnings, err := fontservice.Walk(cfg.Fonts.Directory)
		if err != nil {
			log.Warn("font directory walk failed", "dir", cfg.Fonts.Directory, "err", err)
		} else {
			for _, w := range warnings {
				log.Warn("font catalog warning", "warning", w)
			}
			fontCatalog = cat
		}
	}

	cache := tilecache.New(tilecache.Options{
		MaxCapacityBytes: cfg.Cache.MaxCapacityBytes,
		TTL:              cfg.Cache.TTL,
		TTI:              cfg.Cache.TTI,
	})
	go runCacheSync(ctx, cache)

	srv := httpserver.New(registry, cache, fontCatalog, cfg.HTTP.RoutePrefix, logging.For(log, "httpserver"))

	e := echo.New()
	srv.Register(e)

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: e,
	}

	go func() {
		log.Info("tileserv listening", "addr", cfg.HTTP.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func runCacheSync(ctx context.Context, cache *tilecache.Cache) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cache.Sync()
		}
	}
}

func loadMBTiles(reg *source.Registry, sources []config.FileSourceConfig, log *slog.Logger) error {
	for _, sc := range sources {
		src, err := mbtiles.OpenSource(sc.ID, sc.Path)
		if err != nil {
			return fmt.Errorf("mbtiles %s: %w", sc.ID, err)
		}
		id := reg.Register(src)
		log.Info("registered mbtiles source", "id", id, "path", sc.Path)
	}
	return nil
}

func loadPMTiles(ctx context.Context, reg *source.Registry, sources []config.FileSourceConfig, log *slog.Logger) error {
	if len(sources) == 0 {
		return nil
	}
	dirCache := pmtdircache.New(64 << 20)
	for _, sc := range sources {
		bucket, key, err := openBucketAndKey(ctx, sc.Path)
		if err != nil {
			return fmt.Errorf("pmtiles %s: %w", sc.ID, err)
		}
		src, err := pmtiles.Open(ctx, sc.ID, bucket, key, dirCache)
		if err != nil {
			return fmt.Errorf("pmtiles %s: %w", sc.ID, err)
		}
		id := reg.Register(src)
		log.Info("registered pmtiles source", "id", id, "path", sc.Path)
	}
	return nil
}

func loadCOG(ctx context.Context, reg *source.Registry, sources []config.FileSourceConfig, log *slog.Logger) error {
	for _, sc := range sources {
		path := sc.Path
		opener := func(ctx context.Context) (io.ReadSeekCloser, error) {
			return os.Open(path)
		}
		src, err := cog.Open(ctx, sc.ID, opener)
		if err != nil {
			return fmt.Errorf("cog %s: %w", sc.ID, err)
		}
		id := reg.Register(src)
		log.Info("registered cog source", "id", id, "path", sc.Path)
	}
	return nil
}

func loadGeoJSON(reg *source.Registry, sources []config.FileSourceConfig, log *slog.Logger) error {
	for _, sc := range sources {
		src, err := source.OpenGeoJSON(sc.ID, sc.Path)
		if err != nil {
			return fmt.Errorf("geojson %s: %w", sc.ID, err)
		}
		id := reg.Register(src)
		log.Info("registered geojson source", "id", id, "path", sc.Path)
	}
	return nil
}

func loadPostgres(ctx context.Context, reg *source.Registry, sources []config.PGSourceConfig, log *slog.Logger) error {
	for _, sc := range sources {
		pool, err := pgsource.Open(ctx, pgsource.Config{
			ConnString:     sc.DSN,
			MaxOpenConns:   sc.MaxOpenConns,
			MaxIdleConns:   sc.MaxIdleConns,
			AcquireTimeout: sc.ConnectTimeout,
		})
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		for _, tc := range sc.Tables {
			src, err := pgsource.NewTableSource(pool, pgsource.TableSourceConfig{
				ID:         tc.ID,
				Schema:     tc.Schema,
				Table:      tc.Table,
				GeomColumn: tc.GeomColumn,
				SRID:       tc.SRID,
				IDColumn:   tc.IDColumn,
				Properties: tc.Properties,
				Extent:     tc.Extent,
				Buffer:     tc.Buffer,
				ClipGeom:   tc.ClipGeom,
			})
			if err != nil {
				return fmt.Errorf("postgres table source %s: %w", tc.ID, err)
			}
			id := reg.Register(src)
			log.Info("registered postgres table source", "id", id, "table", tc.Table)
		}
		for _, fc := range sc.Functions {
			src, err := pgsource.NewFunctionSource(pool, pgsource.FunctionSourceConfig{
				ID:           fc.ID,
				Schema:       fc.Schema,
				Function:     fc.Function,
				AcceptsQuery: fc.AcceptsQuery,
			})
			if err != nil {
				return fmt.Errorf("postgres function source %s: %w", fc.ID, err)
			}
			id := reg.Register(src)
			log.Info("registered postgres function source", "id", id, "function", fc.Function)
		}
	}
	return nil
}

// openBucketAndKey resolves a configured path into a gocloud.dev bucket
// plus object key. Remote schemes (s3://bucket/key, gs://bucket/key,
// azblob://bucket/key) follow gocloud's own URL convention of host=bucket,
// path=key; a bare filesystem path falls back to fileblob rooted at the
// file's containing directory, with the filename as the key.
func openBucketAndKey(ctx context.Context, path string) (*blob.Bucket, string, error) {
	u, err := url.Parse(path)
	if err == nil && u.Scheme != "" && u.Host != "" {
		bucketURL := u.Scheme + "://" + u.Host
		if u.RawQuery != "" {
			bucketURL += "?" + u.RawQuery
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, "", err
		}
		return bucket, strings.TrimPrefix(u.Path, "/"), nil
	}

	dir := parentDir(path)
	bucket, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, "", err
	}
	return bucket, baseName(path), nil
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
