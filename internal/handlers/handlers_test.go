package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefile/internal/audit"
	"casefile/internal/config"
	"casefile/internal/crypto"
	"casefile/internal/flagtoken"
	"casefile/internal/ratelimit"
	"casefile/internal/scoring"
	"casefile/internal/store"
)

type fixture struct {
	mem    *store.Memory
	router *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := &config.Config{
		SuffixLength:    8,
		MaxAnswerLength: 512,
		FirstBloodBonus: 50,
		DecayWindowMins: 1440,
		DecayAnchor:     "activation",
	}

	secret, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	deriver, err := flagtoken.NewDeriver(secret, 32)
	require.NoError(t, err)

	mem := store.NewMemory()
	sink := audit.NewStoreSink(mem, 16)
	t.Cleanup(sink.Close)

	engine := scoring.NewEngine(cfg, mem, mem, deriver, ratelimit.New(100, time.Minute), sink)
	handler := NewHandler(cfg, engine, mem, ratelimit.New(5, time.Minute))

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/submit", handler.SubmitHandler).Methods("POST")
	api.HandleFunc("/challenges/{id}/flag", handler.FlagHandler).Methods("GET")
	api.HandleFunc("/leaderboard", handler.LeaderboardHandler).Methods("GET")
	api.HandleFunc("/users/{id}/solves", handler.SolvesHandler).Methods("GET")
	api.HandleFunc("/health", handler.HealthHandler).Methods("GET")

	return &fixture{mem: mem, router: router}
}

func (f *fixture) addChallenge(t *testing.T, truthAnswer string) *store.Challenge {
	t.Helper()
	challenge := &store.Challenge{
		ID:            uuid.New(),
		CaseID:        uuid.New(),
		Title:         "test",
		Question:      "who did it",
		TruthHash:     crypto.HashHex(truthAnswer),
		CaseSalt:      "epoch-1",
		SaltRotatedAt: time.Now().UTC().Add(-time.Hour),
		Points:        100,
		ActivatedAt:   time.Now().UTC().Add(-time.Hour),
		IsActive:      true,
	}
	require.NoError(t, f.mem.CreateChallenge(context.Background(), challenge))
	return challenge
}

func (f *fixture) submit(t *testing.T, userID uuid.UUID, challengeID uuid.UUID, answer string) (*httptest.ResponseRecorder, SubmitResponse) {
	t.Helper()

	body, err := json.Marshal(SubmitRequest{
		UserID:      userID.String(),
		ChallengeID: challengeID.String(),
		Answer:      answer,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.9:40000"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var response SubmitResponse
	if rec.Code == http.StatusOK || rec.Code == http.StatusTooManyRequests {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	}
	return rec, response
}

func TestSubmitEndpointCorrect(t *testing.T) {
	f := newFixture(t)
	challenge := f.addChallenge(t, "alpha")

	rec, response := f.submit(t, uuid.New(), challenge.ID, " Alpha ")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "correct", response.Outcome)
	assert.Equal(t, 150, response.PointsAwarded)
	assert.Contains(t, response.Flag, flagtoken.Prefix)
}

func TestSubmitEndpointIncorrectIsGeneric(t *testing.T) {
	f := newFixture(t)
	challenge := f.addChallenge(t, "alpha")

	rec, response := f.submit(t, uuid.New(), challenge.ID, "beta")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "incorrect", response.Outcome)
	assert.Equal(t, rejectionMessage, response.Message)
	assert.Empty(t, response.Flag)
	assert.Zero(t, response.PointsAwarded)
}

func TestSubmitEndpointBadRequest(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/submit", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.submit(t, uuid.Nil, uuid.New(), "alpha")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlagEndpoint(t *testing.T) {
	f := newFixture(t)
	challenge := f.addChallenge(t, "alpha")
	userID := uuid.New()

	// No solve yet: nothing to re-display.
	url := fmt.Sprintf("/api/v1/challenges/%s/flag?userId=%s", challenge.ID, userID)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, submitted := f.submit(t, userID, challenge.ID, "alpha")

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var response SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, submitted.Flag, response.Flag)
	assert.Equal(t, submitted.PointsAwarded, response.PointsAwarded)
}

func TestFlagEndpointRateLimited(t *testing.T) {
	f := newFixture(t)
	challenge := f.addChallenge(t, "alpha")
	userID := uuid.New()
	f.submit(t, userID, challenge.ID, "alpha")

	url := fmt.Sprintf("/api/v1/challenges/%s/flag?userId=%s", challenge.ID, userID)
	var last int
	for i := 0; i < 6; i++ {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestLeaderboardAndSolvesEndpoints(t *testing.T) {
	f := newFixture(t)
	challenge := f.addChallenge(t, "alpha")
	userID := uuid.New()
	f.submit(t, userID, challenge.ID, "alpha")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/leaderboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var leaderboard struct {
		Entries []LeaderboardEntryResponse `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leaderboard))
	require.Len(t, leaderboard.Entries, 1)
	assert.Equal(t, userID.String(), leaderboard.Entries[0].UserID)
	assert.Equal(t, 150, leaderboard.Entries[0].Points)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/users/"+userID.String()+"/solves", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var solves struct {
		Solves []SolveResponse `json:"solves"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &solves))
	require.Len(t, solves.Solves, 1)
	assert.True(t, solves.Solves[0].IsFirstBlood)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
