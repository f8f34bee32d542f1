package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type solveKey struct {
	userID      uuid.UUID
	challengeID uuid.UUID
}

// Memory is an in-process store with the same conditional-write
// semantics as the Postgres store, used for local development and
// tests. A single mutex stands in for the transaction: the solve
// insert, the first-blood check-and-set and the points write are one
// critical section.
type Memory struct {
	mu          sync.Mutex
	challenges  map[uuid.UUID]Challenge
	solves      map[solveKey]SolveRecord
	firstBloods map[uuid.UUID]uuid.UUID
	auditLog    []AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		challenges:  map[uuid.UUID]Challenge{},
		solves:      map[solveKey]SolveRecord{},
		firstBloods: map[uuid.UUID]uuid.UUID{},
	}
}

func (m *Memory) GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	challenge, ok := m.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	copied := challenge
	return &copied, nil
}

func (m *Memory) CreateChallenge(ctx context.Context, challenge *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.challenges[challenge.ID] = *challenge
	return nil
}

func (m *Memory) RotateCaseSalt(ctx context.Context, caseID uuid.UUID, newSalt string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, challenge := range m.challenges {
		if challenge.CaseID == caseID {
			challenge.CaseSalt = newSalt
			challenge.SaltRotatedAt = now
			m.challenges[id] = challenge
		}
	}
	return nil
}

func (m *Memory) RecordSolve(ctx context.Context, userID, challengeID uuid.UUID, solvedAt time.Time, quote PointsQuote) (*SolveRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := solveKey{userID: userID, challengeID: challengeID}
	if existing, ok := m.solves[key]; ok {
		copied := existing
		return &copied, false, nil
	}

	_, taken := m.firstBloods[challengeID]
	isFirstBlood := !taken
	if isFirstBlood {
		m.firstBloods[challengeID] = userID
	}

	record := SolveRecord{
		UserID:        userID,
		ChallengeID:   challengeID,
		SolvedAt:      solvedAt,
		PointsAwarded: quote.Awarded(isFirstBlood),
		IsFirstBlood:  isFirstBlood,
	}
	m.solves[key] = record

	copied := record
	return &copied, true, nil
}

func (m *Memory) GetSolve(ctx context.Context, userID, challengeID uuid.UUID) (*SolveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.solves[solveKey{userID: userID, challengeID: challengeID}]
	if !ok {
		return nil, nil
	}
	copied := record
	return &copied, nil
}

func (m *Memory) SolvesByUser(ctx context.Context, userID uuid.UUID) ([]SolveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []SolveRecord
	for key, record := range m.solves {
		if key.userID == userID {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SolvedAt.After(records[j].SolvedAt)
	})
	return records, nil
}

func (m *Memory) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	totals := map[uuid.UUID]*LeaderboardEntry{}
	for key, record := range m.solves {
		entry, ok := totals[key.userID]
		if !ok {
			entry = &LeaderboardEntry{UserID: key.userID}
			totals[key.userID] = entry
		}
		entry.Points += record.PointsAwarded
		entry.Solves++
		if record.SolvedAt.After(entry.LastSolveAt) {
			entry.LastSolveAt = record.SolvedAt
		}
	}

	entries := make([]LeaderboardEntry, 0, len(totals))
	for _, entry := range totals {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Points != entries[j].Points {
			return entries[i].Points > entries[j].Points
		}
		if entries[i].Solves != entries[j].Solves {
			return entries[i].Solves > entries[j].Solves
		}
		return entries[i].LastSolveAt.Before(entries[j].LastSolveAt)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (m *Memory) AppendAudit(ctx context.Context, entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.auditLog = append(m.auditLog, entry)
	return nil
}

func (m *Memory) AttemptCount(ctx context.Context, userID, challengeID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, entry := range m.auditLog {
		if entry.UserID == userID && entry.ChallengeID == challengeID {
			count++
		}
	}
	return count, nil
}

// AuditEntries returns a snapshot of the audit log, newest last.
func (m *Memory) AuditEntries() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]AuditEntry(nil), m.auditLog...)
}
