// Package scoring coordinates submission handling: rate limiting,
// answer verification, the atomic solve/first-blood decision, point
// computation and audit. The engine itself is stateless; all
// cross-worker coordination happens inside the ledger's conditional
// writes.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"casefile/internal/answer"
	"casefile/internal/audit"
	"casefile/internal/config"
	"casefile/internal/crypto"
	"casefile/internal/flagtoken"
	"casefile/internal/ratelimit"
	"casefile/internal/store"
)

// Outcome classifies a processed submission.
type Outcome string

const (
	OutcomeCorrect       Outcome = "correct"
	OutcomeIncorrect     Outcome = "incorrect"
	OutcomeFormatError   Outcome = "format_error"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeAlreadySolved Outcome = "already_solved"
)

// ErrValidation marks a malformed request, rejected before rate
// limiting.
var ErrValidation = errors.New("invalid submission")

// Submission is one answer attempt by an authenticated principal.
type Submission struct {
	UserID      uuid.UUID
	ChallengeID uuid.UUID
	Answer      string
	SourceAddr  string
	Now         time.Time
}

// Result is what the caller gets back. Flag is only set on
// Correct/AlreadySolved; RetryAfter only on RateLimited.
type Result struct {
	Outcome       Outcome
	PointsAwarded int
	Flag          string
	RetryAfter    time.Duration
}

type Engine struct {
	cfg     *config.Config
	truth   store.TruthStore
	ledger  store.SolveLedger
	deriver *flagtoken.Deriver
	limiter *ratelimit.Limiter
	sink    audit.Sink
}

func NewEngine(cfg *config.Config, truth store.TruthStore, ledger store.SolveLedger,
	deriver *flagtoken.Deriver, limiter *ratelimit.Limiter, sink audit.Sink) *Engine {
	return &Engine{
		cfg:     cfg,
		truth:   truth,
		ledger:  ledger,
		deriver: deriver,
		limiter: limiter,
		sink:    sink,
	}
}

// Submit processes one answer attempt. Repeat correct submissions are
// idempotent: the recorded points and the same flag come back without
// touching first blood again. Store failures surface as
// store.ErrStoreUnavailable and are safe to retry.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*Result, error) {
	if err := e.validate(&sub); err != nil {
		return nil, err
	}

	// Rate limiting comes before any truth lookup, keyed by user and
	// by source address independently, so malformed input cannot be
	// used to probe for free.
	if result := e.checkRateLimit(sub); result != nil {
		return result, nil
	}

	challenge, err := e.truth.GetChallenge(ctx, sub.ChallengeID)
	if err != nil {
		if errors.Is(err, store.ErrChallengeNotFound) {
			// Fail closed: an unknown challenge gets the same generic
			// rejection as a wrong answer.
			e.audit(sub, OutcomeIncorrect)
			return &Result{Outcome: OutcomeIncorrect}, nil
		}
		return nil, err
	}
	if !challenge.IsActive || sub.Now.Before(challenge.ActivatedAt) {
		e.audit(sub, OutcomeIncorrect)
		return &Result{Outcome: OutcomeIncorrect}, nil
	}

	opts := answer.Options{
		CaseSensitive:      challenge.CaseSensitive,
		CollapseWhitespace: challenge.CollapseWhitespace,
		RequireSuffix:      challenge.RequiresSuffix,
		SuffixLength:       e.cfg.SuffixLength,
		MaxLength:          e.cfg.MaxAnswerLength,
	}

	normalized, err := answer.Normalize(sub.Answer, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	switch answer.Verify(normalized, challenge.TruthHash, opts) {
	case answer.FormatError:
		e.audit(sub, OutcomeFormatError)
		return &Result{Outcome: OutcomeFormatError}, nil
	case answer.Incorrect:
		e.audit(sub, OutcomeIncorrect)
		return &Result{Outcome: OutcomeIncorrect}, nil
	}

	quote := store.PointsQuote{
		Base:            challenge.Points,
		FirstBloodBonus: e.cfg.FirstBloodBonus,
		DecayBonus:      e.decayBonus(challenge, sub.Now),
	}

	record, created, err := e.ledger.RecordSolve(ctx, sub.UserID, sub.ChallengeID, sub.Now, quote)
	if err != nil {
		return nil, err
	}

	outcome := OutcomeCorrect
	if !created {
		outcome = OutcomeAlreadySolved
	}
	e.audit(sub, outcome)

	return &Result{
		Outcome:       outcome,
		PointsAwarded: record.PointsAwarded,
		Flag:          e.deriver.Token(sub.UserID, sub.ChallengeID, challenge.CaseSalt, challenge.TruthHash),
	}, nil
}

// FlagForSolve re-derives the current-epoch flag for a challenge the
// user has already solved. Returns nil when no solve exists.
func (e *Engine) FlagForSolve(ctx context.Context, userID, challengeID uuid.UUID) (*Result, error) {
	record, err := e.ledger.GetSolve(ctx, userID, challengeID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	challenge, err := e.truth.GetChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Outcome:       OutcomeAlreadySolved,
		PointsAwarded: record.PointsAwarded,
		Flag:          e.deriver.Token(userID, challengeID, challenge.CaseSalt, challenge.TruthHash),
	}, nil
}

func (e *Engine) validate(sub *Submission) error {
	if sub.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing user id", ErrValidation)
	}
	if sub.ChallengeID == uuid.Nil {
		return fmt.Errorf("%w: missing challenge id", ErrValidation)
	}
	if sub.Answer == "" {
		return fmt.Errorf("%w: empty answer", ErrValidation)
	}
	if e.cfg.MaxAnswerLength > 0 && len(sub.Answer) > e.cfg.MaxAnswerLength {
		return fmt.Errorf("%w: answer too long", ErrValidation)
	}
	if sub.Now.IsZero() {
		sub.Now = time.Now().UTC()
	}
	return nil
}

func (e *Engine) checkRateLimit(sub Submission) *Result {
	ok, retryAfter := e.limiter.Allow("user:"+sub.UserID.String(), sub.Now)
	if ok && sub.SourceAddr != "" {
		ok, retryAfter = e.limiter.Allow("addr:"+sub.SourceAddr, sub.Now)
	}
	if ok {
		return nil
	}

	e.audit(sub, OutcomeRateLimited)
	return &Result{Outcome: OutcomeRateLimited, RetryAfter: retryAfter}
}

// decayBonus decreases linearly from DecayMaxBonus to zero over the
// decay window. The window anchor is configurable: challenge
// activation, or the latest case-salt rotation.
func (e *Engine) decayBonus(challenge *store.Challenge, now time.Time) int {
	max := e.cfg.DecayMaxBonus
	window := time.Duration(e.cfg.DecayWindowMins) * time.Minute
	if max <= 0 || window <= 0 {
		return 0
	}

	anchor := challenge.ActivatedAt
	if e.cfg.DecayAnchor == "salt" && !challenge.SaltRotatedAt.IsZero() {
		anchor = challenge.SaltRotatedAt
	}

	elapsed := now.Sub(anchor)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := window - elapsed
	if remaining <= 0 {
		return 0
	}

	return int(int64(max) * int64(remaining) / int64(window))
}

func (e *Engine) audit(sub Submission, outcome Outcome) {
	e.sink.Record(store.AuditEntry{
		UserID:      sub.UserID,
		ChallengeID: sub.ChallengeID,
		InputHash:   crypto.HashHex(sub.Answer),
		Outcome:     string(outcome),
		SourceAddr:  sub.SourceAddr,
		CreatedAt:   sub.Now,
	})
}
