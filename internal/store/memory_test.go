package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSolveCreatesOnce(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	userID := uuid.New()
	challengeID := uuid.New()
	solvedAt := time.Now().UTC()
	quote := PointsQuote{Base: 100, FirstBloodBonus: 50, DecayBonus: 10}

	record, created, err := mem.RecordSolve(ctx, userID, challengeID, solvedAt, quote)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, record.IsFirstBlood)
	assert.Equal(t, 160, record.PointsAwarded)

	// Replay returns the existing record unchanged, even with a
	// different quote.
	replay, created, err := mem.RecordSolve(ctx, userID, challengeID, solvedAt.Add(time.Hour), PointsQuote{Base: 1})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, record, replay)
}

func TestRecordSolveSecondUserNoFirstBlood(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	challengeID := uuid.New()
	quote := PointsQuote{Base: 100, FirstBloodBonus: 50}

	first, _, err := mem.RecordSolve(ctx, uuid.New(), challengeID, time.Now(), quote)
	require.NoError(t, err)
	assert.True(t, first.IsFirstBlood)
	assert.Equal(t, 150, first.PointsAwarded)

	second, created, err := mem.RecordSolve(ctx, uuid.New(), challengeID, time.Now(), quote)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, second.IsFirstBlood)
	assert.Equal(t, 100, second.PointsAwarded)
}

func TestRecordSolveConcurrentFirstBloodRace(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	challengeID := uuid.New()
	quote := PointsQuote{Base: 100, FirstBloodBonus: 50}

	const racers = 32
	users := make([]uuid.UUID, racers)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	records := make([]*SolveRecord, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			record, created, err := mem.RecordSolve(ctx, users[i], challengeID, time.Now(), quote)
			if err == nil && created {
				records[i] = record
			}
		}(i)
	}
	wg.Wait()

	firstBloods := 0
	for _, record := range records {
		require.NotNil(t, record)
		if record.IsFirstBlood {
			firstBloods++
			assert.Equal(t, 150, record.PointsAwarded)
		} else {
			assert.Equal(t, 100, record.PointsAwarded)
		}
	}
	assert.Equal(t, 1, firstBloods)

	// Every racer has a record.
	for _, user := range users {
		solve, err := mem.GetSolve(ctx, user, challengeID)
		require.NoError(t, err)
		require.NotNil(t, solve)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	userA := uuid.New()
	userB := uuid.New()
	base := time.Now().UTC()

	chal1, chal2 := uuid.New(), uuid.New()
	_, _, err := mem.RecordSolve(ctx, userA, chal1, base, PointsQuote{Base: 100, FirstBloodBonus: 50})
	require.NoError(t, err)
	_, _, err = mem.RecordSolve(ctx, userB, chal1, base.Add(time.Minute), PointsQuote{Base: 100, FirstBloodBonus: 50})
	require.NoError(t, err)
	_, _, err = mem.RecordSolve(ctx, userB, chal2, base.Add(2*time.Minute), PointsQuote{Base: 200})
	require.NoError(t, err)

	entries, err := mem.Leaderboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, userB, entries[0].UserID)
	assert.Equal(t, 300, entries[0].Points)
	assert.Equal(t, 2, entries[0].Solves)
	assert.Equal(t, 1, entries[0].Rank)

	assert.Equal(t, userA, entries[1].UserID)
	assert.Equal(t, 150, entries[1].Points)
	assert.Equal(t, 2, entries[1].Rank)
}

func TestRotateCaseSaltLeavesSolvesUntouched(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	caseID := uuid.New()
	challenge := &Challenge{
		ID:       uuid.New(),
		CaseID:   caseID,
		CaseSalt: "epoch-1",
		IsActive: true,
	}
	require.NoError(t, mem.CreateChallenge(ctx, challenge))

	userID := uuid.New()
	record, _, err := mem.RecordSolve(ctx, userID, challenge.ID, time.Now(), PointsQuote{Base: 100})
	require.NoError(t, err)

	require.NoError(t, mem.RotateCaseSalt(ctx, caseID, "epoch-2", time.Now()))

	rotated, err := mem.GetChallenge(ctx, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, "epoch-2", rotated.CaseSalt)

	after, err := mem.GetSolve(ctx, userID, challenge.ID)
	require.NoError(t, err)
	assert.Equal(t, record.PointsAwarded, after.PointsAwarded)
}

func TestAuditLogAppendAndCount(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory()
	userID := uuid.New()
	challengeID := uuid.New()

	for i := 0; i < 3; i++ {
		err := mem.AppendAudit(ctx, AuditEntry{
			UserID:      userID,
			ChallengeID: challengeID,
			Outcome:     "incorrect",
			CreatedAt:   time.Now(),
		})
		require.NoError(t, err)
	}
	err := mem.AppendAudit(ctx, AuditEntry{UserID: uuid.New(), ChallengeID: challengeID})
	require.NoError(t, err)

	count, err := mem.AttemptCount(ctx, userID, challengeID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetChallengeNotFound(t *testing.T) {
	mem := NewMemory()
	_, err := mem.GetChallenge(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}
