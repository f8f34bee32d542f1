package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"casefile/internal/config"
)

// DB is the Postgres-backed store. The solve/first-blood invariants
// live in the schema: a primary key on (user_id, challenge_id) and a
// primary key on first_bloods.challenge_id.
type DB struct {
	conn *sql.DB
	cfg  *config.Config
}

func NewDB(cfg *config.Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{
		conn: conn,
		cfg:  cfg,
	}

	if err := db.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS challenges (
			id UUID PRIMARY KEY,
			case_id UUID NOT NULL,
			title VARCHAR(255) NOT NULL,
			question TEXT NOT NULL,
			truth_hash CHAR(64) NOT NULL,
			case_salt VARCHAR(64) NOT NULL,
			salt_rotated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			points INTEGER NOT NULL DEFAULT 100,
			activated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			requires_suffix BOOLEAN NOT NULL DEFAULT FALSE,
			case_sensitive BOOLEAN NOT NULL DEFAULT FALSE,
			collapse_whitespace BOOLEAN NOT NULL DEFAULT TRUE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS solves (
			user_id UUID NOT NULL,
			challenge_id UUID NOT NULL,
			solved_at TIMESTAMP WITH TIME ZONE NOT NULL,
			points_awarded INTEGER NOT NULL DEFAULT 0,
			is_first_blood BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (user_id, challenge_id)
		)`,
		`CREATE TABLE IF NOT EXISTS first_bloods (
			challenge_id UUID PRIMARY KEY,
			user_id UUID NOT NULL,
			solved_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY,
			user_id UUID NOT NULL,
			challenge_id UUID NOT NULL,
			input_hash CHAR(64) NOT NULL,
			outcome VARCHAR(16) NOT NULL,
			source_addr VARCHAR(45) NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_challenges_case_id ON challenges(case_id)`,
		`CREATE INDEX IF NOT EXISTS idx_solves_challenge_id ON solves(challenge_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_user_challenge ON audit_log(user_id, challenge_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	return nil
}

func (db *DB) GetChallenge(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	query := `SELECT id, case_id, title, question, truth_hash, case_salt, salt_rotated_at,
			  points, activated_at, requires_suffix, case_sensitive, collapse_whitespace, is_active
			  FROM challenges WHERE id = $1`

	challenge := &Challenge{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&challenge.ID, &challenge.CaseID, &challenge.Title, &challenge.Question,
		&challenge.TruthHash, &challenge.CaseSalt, &challenge.SaltRotatedAt,
		&challenge.Points, &challenge.ActivatedAt, &challenge.RequiresSuffix,
		&challenge.CaseSensitive, &challenge.CollapseWhitespace, &challenge.IsActive,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return challenge, nil
}

func (db *DB) CreateChallenge(ctx context.Context, challenge *Challenge) error {
	query := `INSERT INTO challenges (id, case_id, title, question, truth_hash, case_salt,
			  salt_rotated_at, points, activated_at, requires_suffix, case_sensitive,
			  collapse_whitespace, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := db.conn.ExecContext(ctx, query, challenge.ID, challenge.CaseID,
		challenge.Title, challenge.Question, challenge.TruthHash, challenge.CaseSalt,
		challenge.SaltRotatedAt, challenge.Points, challenge.ActivatedAt,
		challenge.RequiresSuffix, challenge.CaseSensitive, challenge.CollapseWhitespace,
		challenge.IsActive)

	return err
}

// RotateCaseSalt replaces the salt for every challenge in a case,
// invalidating all previously issued flags for it. Solve records are
// untouched.
func (db *DB) RotateCaseSalt(ctx context.Context, caseID uuid.UUID, newSalt string, now time.Time) error {
	query := `UPDATE challenges SET case_salt = $1, salt_rotated_at = $2 WHERE case_id = $3`
	_, err := db.conn.ExecContext(ctx, query, newSalt, now, caseID)
	return err
}

func (db *DB) RecordSolve(ctx context.Context, userID, challengeID uuid.UUID, solvedAt time.Time, quote PointsQuote) (*SolveRecord, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// Conditional insert guarded by the primary key. A concurrent
	// duplicate blocks here until the winner commits, then hits the
	// conflict and falls through to the existing row.
	insert := `INSERT INTO solves (user_id, challenge_id, solved_at, points_awarded, is_first_blood)
			   VALUES ($1, $2, $3, 0, FALSE)
			   ON CONFLICT (user_id, challenge_id) DO NOTHING`

	result, err := tx.ExecContext(ctx, insert, userID, challengeID, solvedAt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if inserted == 0 {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		existing, err := db.GetSolve(ctx, userID, challengeID)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("%w: solve vanished after conflict", ErrStoreUnavailable)
		}
		return existing, false, nil
	}

	// Per-challenge first-blood check-and-set. Exactly one racer can
	// insert this row; everyone else reads zero rows affected.
	firstBlood := `INSERT INTO first_bloods (challenge_id, user_id, solved_at)
				   VALUES ($1, $2, $3)
				   ON CONFLICT (challenge_id) DO NOTHING`

	result, err = tx.ExecContext(ctx, firstBlood, challengeID, userID, solvedAt)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	won, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	isFirstBlood := won == 1
	points := quote.Awarded(isFirstBlood)

	update := `UPDATE solves SET points_awarded = $1, is_first_blood = $2
			   WHERE user_id = $3 AND challenge_id = $4`
	if _, err := tx.ExecContext(ctx, update, points, isFirstBlood, userID, challengeID); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &SolveRecord{
		UserID:        userID,
		ChallengeID:   challengeID,
		SolvedAt:      solvedAt,
		PointsAwarded: points,
		IsFirstBlood:  isFirstBlood,
	}, true, nil
}

func (db *DB) GetSolve(ctx context.Context, userID, challengeID uuid.UUID) (*SolveRecord, error) {
	query := `SELECT user_id, challenge_id, solved_at, points_awarded, is_first_blood
			  FROM solves WHERE user_id = $1 AND challenge_id = $2`

	record := &SolveRecord{}
	err := db.conn.QueryRowContext(ctx, query, userID, challengeID).Scan(
		&record.UserID, &record.ChallengeID, &record.SolvedAt,
		&record.PointsAwarded, &record.IsFirstBlood,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return record, nil
}

func (db *DB) SolvesByUser(ctx context.Context, userID uuid.UUID) ([]SolveRecord, error) {
	query := `SELECT user_id, challenge_id, solved_at, points_awarded, is_first_blood
			  FROM solves WHERE user_id = $1 ORDER BY solved_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []SolveRecord
	for rows.Next() {
		var record SolveRecord
		if err := rows.Scan(&record.UserID, &record.ChallengeID, &record.SolvedAt,
			&record.PointsAwarded, &record.IsFirstBlood); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

func (db *DB) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `SELECT user_id, SUM(points_awarded), COUNT(*), MAX(solved_at)
			  FROM solves GROUP BY user_id
			  ORDER BY SUM(points_awarded) DESC, COUNT(*) DESC, MAX(solved_at) ASC
			  LIMIT $1`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var entry LeaderboardEntry
		if err := rows.Scan(&entry.UserID, &entry.Points, &entry.Solves, &entry.LastSolveAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		entry.Rank = len(entries) + 1
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (db *DB) AppendAudit(ctx context.Context, entry AuditEntry) error {
	query := `INSERT INTO audit_log (user_id, challenge_id, input_hash, outcome, source_addr, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.conn.ExecContext(ctx, query, entry.UserID, entry.ChallengeID,
		entry.InputHash, entry.Outcome, entry.SourceAddr, entry.CreatedAt)

	return err
}

func (db *DB) AttemptCount(ctx context.Context, userID, challengeID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM audit_log WHERE user_id = $1 AND challenge_id = $2`

	var count int
	err := db.conn.QueryRowContext(ctx, query, userID, challengeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return count, nil
}
