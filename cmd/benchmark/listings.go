package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal/catalog"
)

const (
	fieldCity int64 = iota + 1
	fieldLayout
	fieldRent
	fieldSize
	fieldFloor
	fieldPets
	fieldBuilt
	fieldFeatures
	fieldStation
	fieldWalk
)

const listingSchema = `{
  "title": "listing",
  "type": "object",
  "x-entity-id": 1,
  "properties": {
    "city":     {"type": "string", "x-field-id": 1},
    "layout":   {"type": "string", "enum": ["1R", "1K", "1LDK", "2LDK", "3LDK"], "x-field-id": 2},
    "rent":     {"type": "integer", "minimum": 0, "x-field-id": 3},
    "size":     {"type": "number", "x-field-id": 4},
    "floor":    {"type": "integer", "x-field-id": 5},
    "pets":     {"type": "boolean", "x-field-id": 6},
    "built":    {"type": "string", "format": "date", "x-field-id": 7},
    "features": {"type": "array", "items": {"type": "string"}, "x-field-id": 8},
    "station":  {"type": "string", "x-field-id": 9},
    "walk":     {"type": "integer", "x-field-id": 10}
  },
  "required": ["city", "layout", "rent"]
}`

var (
	cities   = []string{"Shibuya", "Shinjuku", "Meguro", "Setagaya", "Minato", "Nakano"}
	layouts  = []string{"1R", "1K", "1LDK", "2LDK", "3LDK"}
	stations = []string{"Ebisu", "Nakameguro", "Sangenjaya", "Koenji", "Gotanda"}
	features = []string{"autolock", "bath-dryer", "delivery-box", "balcony", "floor-heating"}
)

// generateListings builds count listings through the catalog so they pass the
// same validation as user documents.
func generateListings(cat *catalog.Catalog, r *rand.Rand, count int) ([]strata.Entity, error) {
	out := make([]strata.Entity, 0, count)
	for i := 0; i < count; i++ {
		built := time.Date(1980+r.Intn(45), time.Month(r.Intn(12)+1), r.Intn(28)+1, 0, 0, 0, 0, time.UTC)
		data := map[string]any{
			"city":     randomChoice(r, cities),
			"layout":   randomChoice(r, layouts),
			"rent":     int64(r.Intn(300_000-60_000) + 60_000),
			"size":     math.Round((r.Float64()*60+15)*10) / 10,
			"floor":    int64(r.Intn(30) + 1),
			"pets":     r.Intn(2) == 0,
			"built":    built.Format("2006-01-02"),
			"features": toAnySlice(uniqueSample(r, features, r.Intn(len(features)))),
			"station":  randomChoice(r, stations),
			"walk":     int64(r.Intn(20) + 1),
		}
		doc, err := asDocument(data)
		if err != nil {
			return nil, err
		}
		rec, err := cat.Decode(doc)
		if err != nil {
			return nil, fmt.Errorf("listing %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func randomChoice(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}

func uniqueSample(r *rand.Rand, values []string, count int) []string {
	if count > len(values) {
		count = len(values)
	}
	perm := r.Perm(len(values))
	out := make([]string, 0, count)
	for _, idx := range perm[:count] {
		out = append(out, values[idx])
	}
	return out
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// asDocument round-trips data through JSON so numbers arrive as json.Number, the
// same as in parsed documents.
func asDocument(data map[string]any) (*catalog.Document, error) {
	raw, err := json.Marshal(map[string]any{"entity": "listing", "data": data})
	if err != nil {
		return nil, fmt.Errorf("marshal listing: %w", err)
	}
	return catalog.ParseDocument(bytes.TrimSpace(raw))
}
