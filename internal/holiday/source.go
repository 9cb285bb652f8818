// Package holiday fetches national holidays per calendar year and keeps the
// read-only overlay merged into calendar cells.
package holiday

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"agenda/internal/model"
)

// DefaultURL is the BrasilAPI national holiday endpoint.
const DefaultURL = "https://brasilapi.com.br/api/feriados/v1/{year}"

// Source returns the holidays of one calendar year.
type Source interface {
	Fetch(ctx context.Context, year int) ([]model.Holiday, error)
}

type SourceFunc func(ctx context.Context, year int) ([]model.Holiday, error)

func (f SourceFunc) Fetch(ctx context.Context, year int) ([]model.Holiday, error) {
	return f(ctx, year)
}

// decode parses a JSON array of {date, name, type} and keeps only entries
// of the requested year, sorted by date.
func decode(body []byte, year int) ([]model.Holiday, error) {
	var hs []model.Holiday
	if err := json.Unmarshal(body, &hs); err != nil {
		return nil, fmt.Errorf("holiday: decode: %w", err)
	}
	out := hs[:0]
	for _, h := range hs {
		if h.Date.Year() == year {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}
