// Package scoring implements the global khata score for customers.
//
// The score has 4 components derived from the customer's full ledger
// history across shops:
//   - Payment Timeliness (PTS): how fast each debt was settled
//   - Consistency (CS): share of debts that settled slowly
//   - Outstanding Risk (ORS): live unpaid balance vs. historical peak
//   - Recency (RS): how recently the customer last paid anything
//
// Overall = 0.40×PTS + 0.25×CS + 0.20×ORS + 0.15×RS, mapped onto the
// 300–900 band and smoothed so one recomputation can move the stored
// score by at most ±100.
//
// Settlement matching is FIFO: the oldest unpaid debit consumes the
// oldest available credit first, splitting a credit across debits when
// it is larger than the debit's remaining unmatched amount.
package scoring

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/kiranalink/khata/internal/domain"
	"github.com/kiranalink/khata/internal/infra/observability"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// Component weights (sum to 1.0).
	WeightTimeliness  = 0.40
	WeightConsistency = 0.25
	WeightOutstanding = 0.20
	WeightRecency     = 0.15

	// MaxDelta caps how far the stored score may move per recomputation.
	MaxDelta = 100

	// LateThresholdUnits is how many time units a settlement may take
	// before it counts against consistency.
	LateThresholdUnits = 15.0

	// MinHistoryForEvaluation is how many ledger entries a customer needs
	// before the components are evaluated at all; below this the score is
	// pinned to the default so a lone entry cannot whipsaw a new customer.
	MinHistoryForEvaluation = 2
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Components holds the 4 individual score components, each in [0, 1].
type Components struct {
	Timeliness  float64 `json:"pts"`
	Consistency float64 `json:"cs"`
	Outstanding float64 `json:"ors"`
	Recency     float64 `json:"rs"`
}

// Composite returns the weighted sum of the components.
func (c Components) Composite() float64 {
	return WeightTimeliness*c.Timeliness +
		WeightConsistency*c.Consistency +
		WeightOutstanding*c.Outstanding +
		WeightRecency*c.Recency
}

// Result is the outcome of one score evaluation.
type Result struct {
	Score      int        `json:"score"`       // smoothed, in [300, 900]
	RawScore   int        `json:"raw_score"`   // before smoothing
	Limit      int64      `json:"khata_limit"` // step function of Score
	Components Components `json:"components"`
}

// settlement pairs a debit with the moment it was fully repaid.
type settlement struct {
	debit   domain.LedgerEntry
	settled *time.Time // nil while any part of the debit is unmatched
}

// ─── Credit Limit ───────────────────────────────────────────────────────────

// CreditLimit maps a score to the recommended global khata limit.
// Non-decreasing in score by construction.
func CreditLimit(score int) int64 {
	switch {
	case score >= 800:
		return 10000
	case score >= 700:
		return 6000
	case score >= 600:
		return 3000
	case score >= 550:
		return 1500
	case score >= 500:
		return 1000
	default:
		return 0
	}
}

// ─── FIFO Settlement ────────────────────────────────────────────────────────

// settleFIFO matches debits against credits oldest-first. A credit larger
// than the current debit's remainder is split across subsequent debits;
// a debit is settled at the timestamp of the credit that fully covers it.
func settleFIFO(debits, credits []domain.LedgerEntry) []settlement {
	out := make([]settlement, len(debits))
	for i, d := range debits {
		out[i] = settlement{debit: d}
	}

	creditIdx := 0
	var creditLeft int64
	var creditDate time.Time
	if len(credits) > 0 {
		creditLeft = credits[0].Amount
		creditDate = credits[0].Timestamp
	}

	advance := func() {
		creditIdx++
		if creditIdx < len(credits) {
			creditLeft = credits[creditIdx].Amount
			creditDate = credits[creditIdx].Timestamp
		}
	}

	for i := range out {
		remaining := out[i].debit.Amount
		for remaining > 0 && creditIdx < len(credits) {
			if creditLeft >= remaining {
				creditLeft -= remaining
				settled := creditDate
				out[i].settled = &settled
				remaining = 0
				if creditLeft == 0 {
					advance()
				}
			} else {
				remaining -= creditLeft
				advance()
			}
		}
	}
	return out
}

// ─── Evaluation ─────────────────────────────────────────────────────────────

// Evaluate computes the score from a customer's full ledger history.
// Pure: identical inputs always produce identical outputs. Entries must
// be in ascending timestamp order. unit is the length of one scoring
// time unit (a day in production, shorter under an accelerated demo).
func Evaluate(entries []domain.LedgerEntry, prevScore int, now time.Time, unit time.Duration) Result {
	if prevScore == 0 {
		prevScore = domain.ScoreDefault
	}

	if len(entries) < MinHistoryForEvaluation {
		score := smooth(prevScore, domain.ScoreDefault)
		return Result{Score: score, RawScore: domain.ScoreDefault, Limit: CreditLimit(score)}
	}

	var debits, credits []domain.LedgerEntry
	for _, e := range entries {
		switch e.Kind {
		case domain.EntryDebit:
			debits = append(debits, e)
		case domain.EntryCredit:
			credits = append(credits, e)
		}
	}

	settlements := settleFIFO(debits, credits)

	comps := Components{
		Timeliness:  timelinessScore(settlements, unit),
		Consistency: consistencyScore(settlements, unit),
		Outstanding: outstandingScore(entries),
		Recency:     recencyScore(credits, now, unit),
	}

	raw := int(math.Round(clamp(300+comps.Composite()*600, domain.ScoreMin, domain.ScoreMax)))
	score := smooth(prevScore, raw)

	return Result{
		Score:      score,
		RawScore:   raw,
		Limit:      CreditLimit(score),
		Components: comps,
	}
}

// timelinessScore (PTS): mean settlement-speed score over all debits.
// ≤7 units → 1.0, ≤15 → 0.8, ≤30 → 0.5, slower → 0.2, unsettled → 0.0.
func timelinessScore(settlements []settlement, unit time.Duration) float64 {
	if len(settlements) == 0 {
		return 1.0
	}
	var sum float64
	for _, s := range settlements {
		if s.settled == nil {
			continue // unsettled contributes 0
		}
		elapsed := s.settled.Sub(s.debit.Timestamp).Seconds() / unit.Seconds()
		switch {
		case elapsed <= 7:
			sum += 1.0
		case elapsed <= 15:
			sum += 0.8
		case elapsed <= 30:
			sum += 0.5
		default:
			sum += 0.2
		}
	}
	return sum / float64(len(settlements))
}

// consistencyScore (CS): 1 − lateSettles/totalDebits, where late means
// settled in more than 15 units. Debits that never settled do NOT count
// as late here — only slow-but-settled ones do. The asymmetry is
// deliberate: unsettled debt is already punished by PTS and ORS.
func consistencyScore(settlements []settlement, unit time.Duration) float64 {
	if len(settlements) == 0 {
		return 1.0
	}
	late := 0
	for _, s := range settlements {
		if s.settled == nil {
			continue
		}
		elapsed := s.settled.Sub(s.debit.Timestamp).Seconds() / unit.Seconds()
		if elapsed > LateThresholdUnits {
			late++
		}
	}
	return 1.0 - float64(late)/float64(len(settlements))
}

// outstandingScore (ORS): 1 − currentUnpaid/maxHistorical, clamped to
// [0, 1]. Both terms have a floor of 1 to avoid division by zero; the
// historical peak comes from replaying the ledger chronologically.
func outstandingScore(entries []domain.LedgerEntry) float64 {
	var running, maxHistorical, current int64 = 0, 1, 0
	for _, e := range entries {
		if e.Kind == domain.EntryDebit {
			running += e.Amount
		} else {
			running -= e.Amount
		}
		if running > maxHistorical {
			maxHistorical = running
		}
	}
	current = running
	if current < 1 {
		current = 1
	}
	return clamp(1.0-float64(current)/float64(maxHistorical), 0, 1)
}

// recencyScore (RS): based on units since the most recent credit.
// ≤15 → 1.0, ≤30 → 0.7, older → 0.4, no payment ever → 0.0.
func recencyScore(credits []domain.LedgerEntry, now time.Time, unit time.Duration) float64 {
	if len(credits) == 0 {
		return 0.0
	}
	last := credits[len(credits)-1].Timestamp
	elapsed := now.Sub(last).Seconds() / unit.Seconds()
	switch {
	case elapsed <= 15:
		return 1.0
	case elapsed <= 30:
		return 0.7
	default:
		return 0.4
	}
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Config configures the scoring engine.
type Config struct {
	// Unit is the length of one scoring time unit. Production: 24h.
	Unit time.Duration

	// Now is an injectable clock for testing.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Unit: 24 * time.Hour,
		Now:  time.Now,
	}
}

// Engine recomputes customer scores from ledger history and writes the
// result back to the profile store.
type Engine struct {
	cfg      Config
	ledger   domain.LedgerStore
	profiles domain.ProfileStore
}

// NewEngine creates a scoring engine.
func NewEngine(cfg Config, ledger domain.LedgerStore, profiles domain.ProfileStore) *Engine {
	if cfg.Unit <= 0 {
		cfg.Unit = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{cfg: cfg, ledger: ledger, profiles: profiles}
}

// Recompute reevaluates a customer's score and persists it. Idempotent
// given identical ledger input. A missing customer is a no-op, reported
// as domain.ErrCustomerNotFound so the caller can log and move on.
func (e *Engine) Recompute(ctx context.Context, customerID string) (Result, error) {
	profile, err := e.profiles.GetCustomer(ctx, customerID)
	if err != nil {
		return Result{}, fmt.Errorf("load customer %s: %w", customerID, err)
	}

	entries, err := e.ledger.EntriesByCustomer(ctx, customerID)
	if err != nil {
		return Result{}, fmt.Errorf("load ledger for %s: %w", customerID, err)
	}

	now := e.cfg.Now()
	res := Evaluate(entries, profile.Score, now, e.cfg.Unit)

	if err := e.profiles.UpdateScore(ctx, customerID, res.Score, res.Limit, now); err != nil {
		return Result{}, fmt.Errorf("store score for %s: %w", customerID, err)
	}

	observability.ScoreRecomputations.Inc()
	observability.ScoreDistribution.Observe(float64(res.Score))
	log.Printf("[scoring] customer %s: PTS=%.2f CS=%.2f ORS=%.2f RS=%.2f raw=%d score=%d limit=%d",
		customerID, res.Components.Timeliness, res.Components.Consistency,
		res.Components.Outstanding, res.Components.Recency, res.RawScore, res.Score, res.Limit)

	return res, nil
}

// ─── Pure Helper Functions ──────────────────────────────────────────────────

// smooth clamps the move from prev toward raw to ±MaxDelta and keeps the
// result inside the score band.
func smooth(prev, raw int) int {
	delta := raw - prev
	if delta > MaxDelta {
		delta = MaxDelta
	}
	if delta < -MaxDelta {
		delta = -MaxDelta
	}
	return int(clamp(float64(prev+delta), domain.ScoreMin, domain.ScoreMax))
}

// clamp restricts a value to [min, max].
func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
