// Package httpserver wires the tile registry, catalog, cache, and font
// service onto an HTTP router. Each route follows the same shape: parse
// path params, validate, call a service, write a typed response, on top
// of github.com/labstack/echo/v5.
package httpserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/mmartin/tileserv/internal/catalog"
	"github.com/mmartin/tileserv/internal/codec"
	"github.com/mmartin/tileserv/internal/composite"
	"github.com/mmartin/tileserv/internal/fontservice"
	"github.com/mmartin/tileserv/internal/logging"
	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tilecache"
	"github.com/mmartin/tileserv/internal/tileid"
)

// Server holds the dependencies every route handler needs.
type Server struct {
	registry    *source.Registry
	cache       *tilecache.Cache
	fonts       *fontservice.Catalog
	routePrefix string
	log         *slog.Logger
}

// New constructs a Server. fonts may be nil when no font directory was
// configured. log defaults to logging.For(slog.Default(), "httpserver")
// when nil.
func New(reg *source.Registry, cache *tilecache.Cache, fonts *fontservice.Catalog, routePrefix string, log *slog.Logger) *Server {
	if log == nil {
		log = logging.For(slog.Default(), "httpserver")
	}
	return &Server{registry: reg, cache: cache, fonts: fonts, routePrefix: routePrefix, log: log}
}

// Register attaches every route onto e, under the server's configured
// route prefix (empty prefix means routes are mounted at root).
func (s *Server) Register(e *echo.Echo) {
	g := e.Group(s.routePrefix)

	g.GET("/health", s.handleHealth)
	g.GET("/catalog", s.handleCatalog)
	g.GET("/font/{ids}/{range}", s.handleFontRange)
	g.GET("/{ids}", s.handleTileJSON)
	g.GET("/{ids}/{z}/{x}/{y}", s.handleTile)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleCatalog(c echo.Context) error {
	var fontIDs []string
	if s.fonts != nil {
		fontIDs = s.fonts.IDs()
	}
	doc := catalog.Build(s.registry, fontIDs)
	return c.JSON(http.StatusOK, doc)
}

func (s *Server) handleTileJSON(c echo.Context) error {
	idList := c.PathParam("ids")
	u := catalog.URLContext{
		Scheme:      schemeOf(c),
		Host:        c.Request().Host,
		RoutePrefix: s.routePrefix,
		RewriteURL:  c.Request().Header.Get("X-Rewrite-Url"),
	}
	tj, err := catalog.TileJSON(s.registry, idList, u)
	if err != nil {
		return mapError(c, err)
	}
	return c.JSON(http.StatusOK, tj)
}

func (s *Server) handleTile(c echo.Context) error {
	idList := c.PathParam("ids")

	z, errZ := strconv.Atoi(c.PathParam("z"))
	x, errX := strconv.Atoi(c.PathParam("x"))
	yRaw := c.PathParam("y")
	ext := ""
	if dot := strings.LastIndex(yRaw, "."); dot >= 0 {
		ext = yRaw[dot+1:]
		yRaw = yRaw[:dot]
	}
	y, errY := strconv.Atoi(yRaw)
	if errZ != nil || errX != nil || errY != nil || z < 0 || x < 0 || y < 0 || z > 30 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tile coordinate")
	}
	coord := tileid.Coord{Z: uint8(z), X: uint32(x), Y: uint32(y)}
	if err := coord.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	_ = ext // the extension is informational only; format is source-derived

	acceptEncoding := c.Request().Header.Get("Accept-Encoding")
	query := c.Request().URL.RawQuery

	key := tilecache.Key{SourceID: idList, Coord: coord}
	if cacheableQuery(s.registry, idList) {
		key.Query = query
	}

	tile, err := s.cache.GetOrInsert(key, func() (tilecache.Tile, error) {
		res, err := composite.Serve(c.Request().Context(), s.registry, idList, coord, query, acceptEncoding)
		if err != nil {
			return tilecache.Tile{}, err
		}
		if res.Empty {
			return tilecache.Tile{ETag: res.ETag}, nil
		}
		return tilecache.Tile{
			Data: res.Body,
			Info: tileid.Info{Encoding: encodingFromHeader(res.ContentEncoding)},
			ETag: res.ETag,
		}, nil
	})
	if err != nil {
		logging.WithTile(s.log, idList, uint32(z), uint32(x), uint32(y)).Error("serve tile failed", "err", err)
		return mapError(c, err)
	}
	c.Response().Header().Set("ETag", tile.ETag)
	if len(tile.Data) == 0 {
		return c.NoContent(http.StatusNoContent)
	}

	if tile.Info.Encoding != tileid.EncodingUncompressed && tile.Info.Encoding != tileid.EncodingInternal {
		c.Response().Header().Set("Content-Encoding", tile.Info.Encoding.String())
	}
	return c.Blob(http.StatusOK, contentTypeForList(s.registry, idList), tile.Data)
}

func (s *Server) handleFontRange(c echo.Context) error {
	if s.fonts == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no font service configured")
	}
	ids := c.PathParam("ids")
	rangeParam := c.PathParam("range")
	parts := strings.SplitN(rangeParam, "-", 2)
	if len(parts) != 2 {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed font range")
	}
	start, errStart := strconv.Atoi(parts[0])
	end, errEnd := strconv.Atoi(parts[1])
	if errStart != nil || errEnd != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed font range")
	}

	data, err := fontservice.GetFontRange(s.fonts, ids, start, end)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Blob(http.StatusOK, "application/x-protobuf", data)
}

// cacheableQuery reports whether idList resolves to at least one
// query-sensitive source, per spec's SupportsURLQuery contract.
func cacheableQuery(reg *source.Registry, idList string) bool {
	sources, err := reg.GetMany(idList)
	if err != nil {
		return false
	}
	for _, src := range sources {
		if src.SupportsURLQuery() {
			return true
		}
	}
	return false
}

func contentTypeForList(reg *source.Registry, idList string) string {
	sources, err := reg.GetMany(idList)
	if err != nil || len(sources) == 0 {
		return "application/octet-stream"
	}
	return sources[0].TileInfo().Format.ContentType()
}

func encodingFromHeader(h string) tileid.Encoding {
	switch h {
	case "gzip":
		return tileid.EncodingGzip
	case "br":
		return tileid.EncodingBrotli
	case "zstd":
		return tileid.EncodingZstd
	case "deflate":
		return tileid.EncodingZlib
	default:
		return tileid.EncodingUncompressed
	}
}

func schemeOf(c echo.Context) string {
	if c.Request().TLS != nil {
		return "https"
	}
	if proto := c.Request().Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}

// mapError maps the error taxonomy onto HTTP status codes: not-found ->
// 404, client-invalid -> 400, no acceptable encoding -> 406, everything
// else (backend-transient/permanent) -> 500. Data-integrity errors never
// reach this layer — they fail validation at open time or inside CLI
// tooling, not on the HTTP serving path.
func mapError(c echo.Context, err error) error {
	var notFound *source.NotFoundError
	if errors.As(err, &notFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	var mixed composite.ErrMixedFormats
	if errors.As(err, &mixed) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, codec.ErrNotAcceptable) {
		return echo.NewHTTPError(http.StatusNotAcceptable, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
