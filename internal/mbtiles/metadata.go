package mbtiles

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mmartin/tileserv/pkg/tilejson"
)

// GetMetadataValue reads one metadata key, returning an error if absent.
func GetMetadataValue(db *sql.DB, key string) (string, error) {
	v, ok := GetMetadataValueOK(db, key)
	if !ok {
		return "", fmt.Errorf("mbtiles: metadata key %q not found", key)
	}
	return v, nil
}

// GetMetadataValueOK reads one metadata key without erroring on absence.
func GetMetadataValueOK(db *sql.DB, key string) (string, bool) {
	var v string
	err := db.QueryRow(`SELECT value FROM metadata WHERE name = ?`, key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

// SetMetadataValue upserts a key, or deletes it when value is nil.
func SetMetadataValue(db *sql.DB, key string, value *string) error {
	if value == nil {
		_, err := db.Exec(`DELETE FROM metadata WHERE name = ?`, key)
		return err
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO metadata (name, value) VALUES (?, ?)`, key, *value)
	return err
}

// GetMetadata assembles a TileJSON by projecting recognized keys from the
// metadata table, attempting to parse structured values and attaching
// warnings (not failures) for malformed ones. Unknown keys are preserved
// under Other. vector_layers is extracted from the json metadata blob.
func GetMetadata(db *sql.DB) (tilejson.TileJSON, []string, error) {
	rows, err := db.Query(`SELECT name, value FROM metadata WHERE value IS NOT ''`)
	if err != nil {
		return tilejson.TileJSON{}, nil, fmt.Errorf("mbtiles: read metadata: %w", err)
	}
	defer rows.Close()

	tj := tilejson.New()
	tj.Other = make(map[string]string)
	var warnings []string
	var rawJSON string
	haveJSON := false

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return tilejson.TileJSON{}, nil, err
		}
		switch name {
		case "name":
			tj.Name = value
		case "version":
			tj.Other["version"] = value
		case "description":
			tj.Description = value
		case "attribution":
			tj.Attribution = value
		case "legend":
			tj.Legend = value
		case "template":
			tj.Template = value
		case "format", "generator":
			tj.Other[name] = value
		case "minzoom":
			if n, err := strconv.Atoi(value); err == nil {
				tj.MinZoom = n
			} else {
				warnings = append(warnings, fmt.Sprintf("minzoom: %v", err))
			}
		case "maxzoom":
			if n, err := strconv.Atoi(value); err == nil {
				tj.MaxZoom = n
			} else {
				warnings = append(warnings, fmt.Sprintf("maxzoom: %v", err))
			}
		case "bounds":
			if b, err := parseBounds(value); err == nil {
				tj.Bounds = b
			} else {
				warnings = append(warnings, fmt.Sprintf("bounds: %v", err))
			}
		case "center":
			if c, err := parseCenter(value); err == nil {
				tj.Center = c
			} else {
				warnings = append(warnings, fmt.Sprintf("center: %v", err))
			}
		case "type":
			tj.Other["type"] = value
		case "json":
			rawJSON = value
			haveJSON = true
		default:
			slog.Info("mbtiles: unrecognized metadata key", "key", name)
			tj.Other[name] = value
		}
	}
	if err := rows.Err(); err != nil {
		return tilejson.TileJSON{}, nil, err
	}

	if haveJSON {
		var blob map[string]json.RawMessage
		if err := json.Unmarshal([]byte(rawJSON), &blob); err != nil {
			warnings = append(warnings, fmt.Sprintf("json metadata: %v", err))
		} else if raw, ok := blob["vector_layers"]; ok {
			var layers []tilejson.VectorLayer
			if err := json.Unmarshal(raw, &layers); err != nil {
				warnings = append(warnings, fmt.Sprintf("vector_layers: %v", err))
			} else {
				tj.VectorLayers = layers
			}
		}
	}

	return tj, warnings, nil
}

func parseBounds(s string) ([4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return [4]float64{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}
	var out [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [4]float64{}, err
		}
		out[i] = v
	}
	return out, nil
}

func parseCenter(s string) ([3]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("expected 3 comma-separated values, got %d", len(parts))
	}
	var out [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [3]float64{}, err
		}
		out[i] = v
	}
	return out, nil
}
