package protocol

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/eventlog"
	"rumiprotocol/protocol/ledger"
	"rumiprotocol/protocol/numeric"
	"rumiprotocol/protocol/oracle"
)

// Engine orchestrates every state transition of the protocol. All folded
// state lives behind the event log: an operation validates, performs any
// pull from the caller, then commits an event which both persists and
// applies the change. Outbound payouts ride the pending-transfer queue.
type Engine struct {
	mu  sync.Mutex
	log *eventlog.Log
	st  *state

	icp   ledger.Client
	icusd ledger.Client
	rates *oracle.Tracker

	guards *guardSet
	clock  func() time.Time
	logger *slog.Logger

	// Cached collateral ledger fee, corrected on BadFee rejections.
	icpFee uint64

	// Monotonic memo for pre-commit ledger calls. Pending transfers use
	// their replay-stable id instead.
	memo uint64

	// Derived mode state, refreshed on price updates.
	mode      Mode
	exitArmed bool

	// Fatal-invariant latch. Once set, every mutating call is refused.
	halted       bool
	haltedReason string
}

// NewEngine returns an engine over the given log. Ledger clients, the
// rate tracker and the clock are wired with setters before Bootstrap.
func NewEngine(log *eventlog.Log) *Engine {
	return &Engine{
		log:    log,
		st:     newState(),
		guards: newGuardSet(),
		clock:  time.Now,
		logger: slog.Default(),
	}
}

// SetLedgers wires the collateral and synthetic ledger clients.
func (e *Engine) SetLedgers(icp, icusd ledger.Client) {
	e.icp = icp
	e.icusd = icusd
}

// SetRateTracker wires the oracle price tracker.
func (e *Engine) SetRateTracker(t *oracle.Tracker) { e.rates = t }

// SetClock overrides the time source, used by tests.
func (e *Engine) SetClock(clock func() time.Time) {
	if clock != nil {
		e.clock = clock
	}
}

// SetLogger wires the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Bootstrap folds the whole event log into memory. It must run before
// any operation is accepted.
func (e *Engine) Bootstrap() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := newState()
	if err := e.log.Replay(func(rec event.Record) error {
		ev, err := event.Decode(rec)
		if err != nil {
			return err
		}
		return st.apply(rec.Seq, rec.Timestamp, ev)
	}); err != nil {
		return fmt.Errorf("vault engine: replay: %w", err)
	}
	e.st = st
	e.icpFee = st.cfg.FeeE8s
	if st.hasOverride {
		e.mode = st.override
	}
	return nil
}

// Init records the protocol configuration as the first event. It fails
// if the log already holds one.
func (e *Engine) Init(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.st.initialized {
		return fmt.Errorf("vault engine: already initialised")
	}
	ev := event.Init{
		FeeE8s:      cfg.FeeE8s,
		IcpLedger:   cfg.IcpLedger,
		IcusdLedger: cfg.IcusdLedger,
		Oracle:      cfg.Oracle,
		Developer:   cfg.Developer.Raw(),
	}
	if err := e.commit(ev); err != nil {
		return err
	}
	e.icpFee = cfg.FeeE8s
	return nil
}

// Upgrade records an operator upgrade. A pinned mode overrides the
// derived one until a later upgrade pins GeneralAvailability.
func (e *Engine) Upgrade(mode *Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureInitialized(); err != nil {
		return err
	}
	ev := event.Upgrade{}
	if mode != nil {
		ev.HasMode = true
		ev.Mode = uint8(*mode)
	}
	if err := e.commit(ev); err != nil {
		return err
	}
	if e.st.hasOverride {
		e.mode = e.st.override
	}
	return nil
}

// commit appends ev and folds it into the live state under e.mu. Append
// and apply succeed or fail together; an apply failure after a durable
// append latches the engine because log and memory have diverged.
func (e *Engine) commit(ev event.Event) error {
	now := uint64(e.clock().UnixNano())
	seq, err := e.log.Append(now, ev)
	if err != nil {
		return err
	}
	if err := e.st.apply(seq, now, ev); err != nil {
		e.halt(fmt.Sprintf("apply diverged from log at seq %d: %v", seq, err))
		return err
	}
	if err := e.checkInvariants(); err != nil {
		e.halt(err.Error())
		return err
	}
	e.logger.Info("event committed", "seq", seq, "kind", ev.Kind())
	return nil
}

// checkInvariants enforces the fatal solvency conditions after every
// commit. Runs under e.mu.
func (e *Engine) checkInvariants() error {
	for _, v := range e.st.vaults.vaults {
		if v.Debt > 0 && v.Collateral == 0 {
			return fmt.Errorf("vault engine: vault %d carries debt with no collateral", v.ID)
		}
	}
	return nil
}

// halt latches the engine read-only. Runs under e.mu.
func (e *Engine) halt(reason string) {
	if e.halted {
		return
	}
	e.halted = true
	e.haltedReason = reason
	e.logger.Error("engine halted", "reason", reason)
}

func (e *Engine) ensureInitialized() error {
	if !e.st.initialized {
		return errNotInitialized
	}
	return nil
}

// now returns the engine clock reading.
func (e *Engine) now() time.Time { return e.clock() }

// nextMemo returns a fresh dedup memo for a pre-commit ledger call.
func (e *Engine) nextMemo() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo++
	return e.memo
}

// price returns a usable exchange rate or the staleness error of the
// taxonomy.
func (e *Engine) price() (numeric.UsdIcp, error) {
	if e.rates == nil {
		return 0, errStalePrice
	}
	quote, err := e.rates.Current(e.now())
	if err != nil {
		return 0, errStalePrice
	}
	return quote.Rate, nil
}

// Mode returns the current operating mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentMode()
}

// currentMode resolves the override, the halt latch and the derived
// regime. Runs under e.mu.
func (e *Engine) currentMode() Mode {
	if e.halted {
		return ModeReadOnly
	}
	if e.st.hasOverride {
		return e.st.override
	}
	return e.mode
}

// UpdatePrice offers a fresh quote to the rate tracker and re-derives
// the operating mode from whatever quote the tracker now holds. The
// daemon's refresh loop calls it on every fetch.
func (e *Engine) UpdatePrice(quote oracle.Quote) error {
	if e.rates == nil {
		return errStalePrice
	}
	if err := e.rates.Update(quote); err != nil {
		return err
	}
	// The tracker drops quotes stamped before the held one, so derive
	// from its view rather than the raw sample.
	if latest, ok := e.rates.Latest(); ok {
		e.OnPriceUpdate(latest)
	}
	return nil
}

// OnPriceUpdate re-derives the mode after the tracker accepted a quote.
// Leaving Recovery needs two consecutive healthy readings so a ratio
// hovering at the boundary does not flap the regime.
func (e *Engine) OnPriceUpdate(quote oracle.Quote) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if quote.Rate < floorRate {
		e.logger.Error("exchange rate below circuit breaker", "rate", quote.Rate.String())
		e.mode = ModeReadOnly
		e.exitArmed = false
		return
	}
	tcr := e.st.vaults.totalRatio(quote.Rate)
	derived := modeForRatio(tcr)
	switch {
	case derived != ModeGeneralAvailability:
		e.mode = derived
		e.exitArmed = false
	case e.mode == ModeRecovery && !e.exitArmed:
		// First healthy reading arms the exit; the next one completes it.
		e.exitArmed = true
	default:
		e.mode = ModeGeneralAvailability
		e.exitArmed = false
	}
}

// mutableMode rejects ReadOnly with the taxonomy error. Runs under e.mu.
func (e *Engine) mutableMode() (Mode, error) {
	mode := e.currentMode()
	if mode == ModeReadOnly {
		reason := "protocol is read-only"
		if e.halted {
			reason = e.haltedReason
		}
		return mode, &UnavailableError{Reason: reason}
	}
	return mode, nil
}
