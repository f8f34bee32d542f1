package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrChallengeNotFound covers absent challenges. Callers fail
	// closed: an unknown challenge is never eligible for a correct
	// verdict.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrStoreUnavailable marks retryable storage failures. A store
	// failure never defaults to a correct verdict.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Challenge is the read-only truth record for one investigation
// question. TruthHash is the SHA-256 of the normalized correct answer;
// the answer itself is never stored.
type Challenge struct {
	ID                 uuid.UUID
	CaseID             uuid.UUID
	Title              string
	Question           string
	TruthHash          string
	CaseSalt           string
	SaltRotatedAt      time.Time
	Points             int
	ActivatedAt        time.Time
	RequiresSuffix     bool
	CaseSensitive      bool
	CollapseWhitespace bool
	IsActive           bool
}

// SolveRecord is created exactly once per (user, challenge) pair and
// never mutated afterward.
type SolveRecord struct {
	UserID        uuid.UUID
	ChallengeID   uuid.UUID
	SolvedAt      time.Time
	PointsAwarded int
	IsFirstBlood  bool
}

// PointsQuote carries the point components computed before the atomic
// insert. The ledger applies the first-blood bonus only if this solve
// wins the per-challenge check-and-set, so points are always written
// in the same atomic step that decides them.
type PointsQuote struct {
	Base            int
	FirstBloodBonus int
	DecayBonus      int
}

// Awarded returns the points for a solve given the first-blood
// outcome.
func (q PointsQuote) Awarded(firstBlood bool) int {
	points := q.Base + q.DecayBonus
	if firstBlood {
		points += q.FirstBloodBonus
	}
	return points
}

// AuditEntry is an append-only attempt record. InputHash is the
// SHA-256 of the raw input; plaintext submissions are never stored.
type AuditEntry struct {
	UserID      uuid.UUID
	ChallengeID uuid.UUID
	InputHash   string
	Outcome     string
	SourceAddr  string
	CreatedAt   time.Time
}

// LeaderboardEntry aggregates a user's solves.
type LeaderboardEntry struct {
	Rank        int
	UserID      uuid.UUID
	Points      int
	Solves      int
	LastSolveAt time.Time
}

// TruthStore is the read-only challenge lookup consumed by the scoring
// engine.
type TruthStore interface {
	GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error)
}

// SolveLedger owns the solve records and the two atomic decisions:
// per-user solve uniqueness and per-challenge first blood.
type SolveLedger interface {
	// RecordSolve atomically inserts the solve record for
	// (userID, challengeID). If one already exists it is returned
	// unchanged with created=false. On insert, first blood is decided
	// by a per-challenge check-and-set in the same transaction and
	// the awarded points are persisted before the record becomes
	// visible. Never implemented as a read-then-write pair.
	RecordSolve(ctx context.Context, userID, challengeID uuid.UUID, solvedAt time.Time, quote PointsQuote) (*SolveRecord, bool, error)

	GetSolve(ctx context.Context, userID, challengeID uuid.UUID) (*SolveRecord, error)
	SolvesByUser(ctx context.Context, userID uuid.UUID) ([]SolveRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// AuditLog is the append-only attempt store behind the audit sink.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AttemptCount(ctx context.Context, userID, challengeID uuid.UUID) (int, error)
}
