package pgsource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmartin/tileserv/internal/source"
	"github.com/mmartin/tileserv/internal/tileid"
	"github.com/mmartin/tileserv/pkg/tilejson"
)

// FunctionSourceConfig names a user-defined SQL function of signature
// fn(z, x, y[, query_json]) returning bytea.
type FunctionSourceConfig struct {
	ID            string
	Schema        string
	Function      string
	AcceptsQuery  bool // true if fn takes a trailing query_json argument
}

// FunctionSource calls a user-defined tile function each request. Rather
// than generating SQL over a table like TableSource, it defers entirely
// to the function body. Whether the function takes a trailing query_json
// argument comes from FunctionSourceConfig.AcceptsQuery; the function's
// signature is not introspected.
type FunctionSource struct {
	pool *Pool
	cfg  FunctionSourceConfig
	tj   tilejson.TileJSON
}

// NewFunctionSource validates cfg and builds the TileJSON projection.
func NewFunctionSource(pool *Pool, cfg FunctionSourceConfig) (*FunctionSource, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Function == "" {
		return nil, fmt.Errorf("pgsource: function source %s: function name is required", cfg.ID)
	}
	tj := tilejson.New()
	tj.Name = cfg.ID
	return &FunctionSource{pool: pool, cfg: cfg, tj: tj}, nil
}

func (f *FunctionSource) ID() string                  { return f.cfg.ID }
func (f *FunctionSource) TileJSON() tilejson.TileJSON { return f.tj }
func (f *FunctionSource) SupportsURLQuery() bool      { return f.cfg.AcceptsQuery }
func (f *FunctionSource) ConcurrentFriendly() bool    { return true }

func (f *FunctionSource) TileInfo() tileid.Info {
	return tileid.Info{Format: tileid.FormatMvt, Encoding: tileid.EncodingUncompressed}
}

// GetTile calls the configured function, passing query as a JSON argument
// only when AcceptsQuery is set; the query string itself is passed through
// verbatim as a JSON string value, matching how martin's functions.rs
// forwards the raw query map to query_json-accepting functions.
func (f *FunctionSource) GetTile(ctx context.Context, coord tileid.Coord, query string) ([]byte, error) {
	var mvt []byte
	var err error

	if f.cfg.AcceptsQuery {
		queryJSON, marshalErr := json.Marshal(query)
		if marshalErr != nil {
			return nil, fmt.Errorf("pgsource: function %s: marshal query: %w", f.cfg.ID, marshalErr)
		}
		sqlText := fmt.Sprintf(`SELECT %s.%s($1, $2, $3, $4::json)`, f.cfg.Schema, f.cfg.Function)
		err = f.pool.db.QueryRowContext(ctx, sqlText, coord.Z, coord.X, coord.Y, string(queryJSON)).Scan(&mvt)
	} else {
		sqlText := fmt.Sprintf(`SELECT %s.%s($1, $2, $3)`, f.cfg.Schema, f.cfg.Function)
		err = f.pool.db.QueryRowContext(ctx, sqlText, coord.Z, coord.X, coord.Y).Scan(&mvt)
	}
	if err != nil {
		return nil, fmt.Errorf("pgsource: function %s.%s: call (%d,%d,%d): %w",
			f.cfg.Schema, f.cfg.Function, coord.Z, coord.X, coord.Y, err)
	}
	return mvt, nil
}

// CloneHandle returns an owned reference; FunctionSource holds no
// per-request state beyond the shared pool.
func (f *FunctionSource) CloneHandle() source.Source {
	return f
}
