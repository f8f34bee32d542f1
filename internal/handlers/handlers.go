package handlers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"casefile/internal/config"
	"casefile/internal/ratelimit"
	"casefile/internal/scoring"
	"casefile/internal/store"
)

type Handler struct {
	cfg         *config.Config
	engine      *scoring.Engine
	ledger      store.SolveLedger
	authLimiter *ratelimit.Limiter
}

func NewHandler(cfg *config.Config, engine *scoring.Engine, ledger store.SolveLedger, authLimiter *ratelimit.Limiter) *Handler {
	return &Handler{
		cfg:         cfg,
		engine:      engine,
		ledger:      ledger,
		authLimiter: authLimiter,
	}
}

type SubmitRequest struct {
	UserID      string `json:"userId"`
	ChallengeID string `json:"challengeId"`
	Answer      string `json:"answer"`
}

type SubmitResponse struct {
	Outcome       string `json:"outcome"`
	Message       string `json:"message"`
	PointsAwarded int    `json:"pointsAwarded"`
	Flag          string `json:"flag,omitempty"`
	RetryAfter    int    `json:"retryAfterSeconds,omitempty"`
}

// rejectionMessage is the single generic message for every failed
// verification, so responses leak nothing about how close a guess was.
const rejectionMessage = "Incorrect. Continue your investigation."

func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}
	challengeID, err := uuid.Parse(req.ChallengeID)
	if err != nil {
		http.Error(w, "Invalid challenge id", http.StatusBadRequest)
		return
	}

	result, err := h.engine.Submit(r.Context(), scoring.Submission{
		UserID:      userID,
		ChallengeID: challengeID,
		Answer:      req.Answer,
		SourceAddr:  h.getClientIP(r),
		Now:         time.Now().UTC(),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	response := SubmitResponse{
		Outcome:       string(result.Outcome),
		PointsAwarded: result.PointsAwarded,
		Flag:          result.Flag,
	}

	switch result.Outcome {
	case scoring.OutcomeCorrect:
		response.Message = "Correct! Here is your unique flag."
	case scoring.OutcomeAlreadySolved:
		response.Message = "Correct! You've already solved this challenge."
	case scoring.OutcomeRateLimited:
		response.Message = "Too many attempts. Slow down."
		response.RetryAfter = int(result.RetryAfter.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(response.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, response)
		return
	default:
		// FormatError keeps its outcome code for the client but the
		// same generic message as a wrong answer.
		response.Message = rejectionMessage
	}

	writeJSON(w, http.StatusOK, response)
}

// FlagHandler re-derives the flag for an already-solved challenge.
// Guarded by the tighter auth-adjacent limiter.
func (h *Handler) FlagHandler(w http.ResponseWriter, r *http.Request) {
	challengeID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid challenge id", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	if ok, retryAfter := h.authLimiter.Allow("user:"+userID.String(), time.Now().UTC()); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	result, err := h.engine.FlagForSolve(r.Context(), userID, challengeID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if result == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, SubmitResponse{
		Outcome:       string(result.Outcome),
		Message:       "Here is your unique flag.",
		PointsAwarded: result.PointsAwarded,
		Flag:          result.Flag,
	})
}

type LeaderboardEntryResponse struct {
	Rank        int       `json:"rank"`
	UserID      string    `json:"userId"`
	Points      int       `json:"points"`
	Solves      int       `json:"solves"`
	LastSolveAt time.Time `json:"lastSolveAt"`
}

func (h *Handler) LeaderboardHandler(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	entries, err := h.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	response := make([]LeaderboardEntryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, LeaderboardEntryResponse{
			Rank:        entry.Rank,
			UserID:      entry.UserID.String(),
			Points:      entry.Points,
			Solves:      entry.Solves,
			LastSolveAt: entry.LastSolveAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": response})
}

type SolveResponse struct {
	ChallengeID   string    `json:"challengeId"`
	SolvedAt      time.Time `json:"solvedAt"`
	PointsAwarded int       `json:"pointsAwarded"`
	IsFirstBlood  bool      `json:"isFirstBlood"`
}

func (h *Handler) SolvesHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid user id", http.StatusBadRequest)
		return
	}

	records, err := h.ledger.SolvesByUser(r.Context(), userID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	response := make([]SolveResponse, 0, len(records))
	for _, record := range records {
		response = append(response, SolveResponse{
			ChallengeID:   record.ChallengeID.String(),
			SolvedAt:      record.SolvedAt,
			PointsAwarded: record.PointsAwarded,
			IsFirstBlood:  record.IsFirstBlood,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"solves": response})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "casefile",
	})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scoring.ErrValidation):
		http.Error(w, "Invalid submission", http.StatusBadRequest)
	case errors.Is(err, store.ErrStoreUnavailable):
		http.Error(w, "Temporarily unavailable, retry shortly", http.StatusServiceUnavailable)
	case errors.Is(err, store.ErrChallengeNotFound):
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) getClientIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			ip := strings.TrimSpace(ips[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	realIP := r.Header.Get("X-Real-IP")
	if realIP != "" {
		if net.ParseIP(realIP) != nil {
			return realIP
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}
