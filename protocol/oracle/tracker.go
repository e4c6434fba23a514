package oracle

import (
	"errors"
	"sync"
	"time"
)

// DefaultStaleAfter is how long a quote stays usable without a refresh.
const DefaultStaleAfter = 5 * time.Minute

var (
	// ErrNoQuote means no rate has ever been accepted.
	ErrNoQuote = errors.New("oracle: no exchange rate yet")
	// ErrStaleQuote means the newest accepted rate is too old to act on.
	ErrStaleQuote = errors.New("oracle: exchange rate is stale")
	// ErrZeroRate rejects a quote with a zero rate.
	ErrZeroRate = errors.New("oracle: zero exchange rate")
)

// Tracker keeps the newest accepted quote. Quotes never move backwards:
// an update stamped before the held quote is dropped so a lagging fetch
// cannot shadow a fresher one.
type Tracker struct {
	mu         sync.Mutex
	quote      Quote
	set        bool
	staleAfter time.Duration
}

// NewTracker returns a Tracker using staleAfter as the usability window.
// A zero staleAfter selects DefaultStaleAfter.
func NewTracker(staleAfter time.Duration) *Tracker {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Tracker{staleAfter: staleAfter}
}

// Update offers a quote. Zero rates are rejected; older timestamps are
// ignored without error.
func (t *Tracker) Update(q Quote) error {
	if q.Rate == 0 {
		return ErrZeroRate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set && !q.Timestamp.After(t.quote.Timestamp) {
		return nil
	}
	t.quote = q
	t.set = true
	return nil
}

// Current returns the held quote if it is still usable at now.
func (t *Tracker) Current(now time.Time) (Quote, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		return Quote{}, ErrNoQuote
	}
	if now.Sub(t.quote.Timestamp) > t.staleAfter {
		return Quote{}, ErrStaleQuote
	}
	return t.quote, nil
}

// Latest returns the held quote regardless of age.
func (t *Tracker) Latest() (Quote, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.quote, t.set
}
