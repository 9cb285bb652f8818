package holiday

import (
	"context"
	"sync"
	"time"

	"agenda/internal/datetime"
	"agenda/internal/log"
	"agenda/internal/model"
)

// Overlay holds the holidays of the displayed year. Only Brazilian
// Portuguese locales show holidays; every other locale clears the overlay.
type Overlay struct {
	src Source

	mu      sync.RWMutex
	seq     uint64
	year    int
	current []model.Holiday
	years   map[int][]model.Holiday
}

func NewOverlay(src Source) *Overlay {
	return &Overlay{src: src, years: make(map[int][]model.Holiday)}
}

// Refresh makes year the displayed year and returns its holidays. A year
// that was fetched successfully is not fetched again. Fetch failures
// degrade to an empty list. When a later Refresh starts before this one's
// fetch returns, the older result is discarded and does not replace the
// current overlay.
func (o *Overlay) Refresh(ctx context.Context, year int, locale string) []model.Holiday {
	o.mu.Lock()
	o.seq++
	seq := o.seq
	if !datetime.IsBrazilian(locale) {
		o.year, o.current = 0, nil
		o.mu.Unlock()
		return []model.Holiday{}
	}
	if hs, ok := o.years[year]; ok {
		o.year, o.current = year, hs
		o.mu.Unlock()
		return clone(hs)
	}
	o.mu.Unlock()

	hs, err := o.src.Fetch(ctx, year)
	failed := err != nil
	if failed {
		log.Warn("holiday fetch failed", "year", year, "err", err)
		hs = nil
	}
	if hs == nil {
		hs = []model.Holiday{}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !failed {
		o.years[year] = hs
	}
	if seq != o.seq {
		log.Debug("holiday response discarded", "year", year, "seq", seq, "latest", o.seq)
		return clone(hs)
	}
	o.year, o.current = year, hs
	return clone(hs)
}

// Current returns the displayed year and its holidays.
func (o *Overlay) Current() (int, []model.Holiday) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.year, clone(o.current)
}

// ForDay returns the holidays of the displayed year that fall on day.
func (o *Overlay) ForDay(day time.Time) []model.Holiday {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []model.Holiday
	for _, h := range o.current {
		if h.On(day) {
			out = append(out, h)
		}
	}
	return out
}

func clone(hs []model.Holiday) []model.Holiday {
	return append([]model.Holiday{}, hs...)
}
