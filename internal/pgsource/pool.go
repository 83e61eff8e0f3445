// Package pgsource implements the Postgres/PostGIS adapter: a pooled
// connection over a PostGIS cluster serving table sources and function
// sources as Source tiles. It opens *sql.DB via github.com/lib/pq, bounds
// idle/open connections, and templates ST_AsMVTGeom/ST_AsMVT queries
// driven by per-source configuration rather than a single hard-coded
// table.
package pgsource

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Capabilities records what the connected cluster supports, gating SQL
// generation choices (e.g. the ST_TileEnvelope margin parameter).
type Capabilities struct {
	ServerVersion     string
	PostGISVersion    string
	SupportsMargin31  bool // PostGIS >= 3.1.0: ST_TileEnvelope(... margin => ...)
}

// Pool wraps a bounded *sql.DB plus the capability probe results recorded
// at construction time, mirroring NewPostGISService's connect-then-bound-
// then-ping sequence.
type Pool struct {
	db   *sql.DB
	caps Capabilities
}

// Config configures pool construction; AcquireTimeout bounds the initial
// ping only (default 5s). Tile queries run under the caller's context and
// get no deadline from the pool.
type Config struct {
	ConnString     string
	MaxOpenConns   int
	MaxIdleConns   int
	AcquireTimeout time.Duration
}

// Open connects, bounds the pool per cfg, and rejects clusters below the
// supported minimum versions (Postgres < 11.0.0, PostGIS < 3.0.0).
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	db, err := sql.Open("postgres", cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pgsource: open: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 30
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)

	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgsource: ping: %w", err)
	}

	caps, err := probeCapabilities(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Pool{db: db, caps: caps}, nil
}

func probeCapabilities(ctx context.Context, db *sql.DB) (Capabilities, error) {
	var caps Capabilities
	if err := db.QueryRowContext(ctx, `SHOW server_version`).Scan(&caps.ServerVersion); err != nil {
		return caps, fmt.Errorf("pgsource: server_version: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT PostGIS_Lib_Version()`).Scan(&caps.PostGISVersion); err != nil {
		return caps, fmt.Errorf("pgsource: PostGIS_Lib_Version: %w", err)
	}

	if cmpVersion(caps.ServerVersion, "11.0.0") < 0 {
		return caps, fmt.Errorf("pgsource: server version %s is below the required 11.0.0", caps.ServerVersion)
	}
	if cmpVersion(caps.PostGISVersion, "3.0.0") < 0 {
		return caps, fmt.Errorf("pgsource: PostGIS version %s is below the required 3.0.0", caps.PostGISVersion)
	}
	caps.SupportsMargin31 = cmpVersion(caps.PostGISVersion, "3.1.0") >= 0
	return caps, nil
}

// cmpVersion compares two dotted-numeric version strings (major.minor.patch,
// trailing components optional), returning -1/0/1 like strings.Compare.
func cmpVersion(a, b string) int {
	pa, pb := splitVersion(a), splitVersion(b)
	for i := 0; i < 3; i++ {
		var va, vb int
		if i < len(pa) {
			va = pa[i]
		}
		if i < len(pb) {
			vb = pb[i]
		}
		if va != vb {
			if va < vb {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	var out []int
	cur := 0
	started := false
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			cur = cur*10 + int(r-'0')
			started = true
		case r == '.':
			out = append(out, cur)
			cur, started = 0, false
		default:
			if started {
				out = append(out, cur)
			}
			return out
		}
	}
	if started {
		out = append(out, cur)
	}
	return out
}

// Close releases the underlying connection pool.
func (p *Pool) Close() error { return p.db.Close() }

// Capabilities exposes the probed cluster capabilities.
func (p *Pool) Capabilities() Capabilities { return p.caps }
