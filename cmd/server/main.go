package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"casefile/internal/audit"
	"casefile/internal/config"
	"casefile/internal/crypto"
	"casefile/internal/flagtoken"
	"casefile/internal/handlers"
	"casefile/internal/ratelimit"
	"casefile/internal/scoring"
	"casefile/internal/store"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

// backingStore is the union of the store interfaces the engine and
// handlers consume, satisfied by both the Postgres and memory stores.
type backingStore interface {
	store.TruthStore
	store.SolveLedger
	store.AuditLog
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var db backingStore
	var closeStore func() error
	switch cfg.StoreDriver {
	case "memory":
		log.Println("WARNING: Using in-memory store. Set STORE_DRIVER=postgres for production!")
		db = store.NewMemory()
		closeStore = func() error { return nil }
	default:
		pg, err := store.NewDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		db = pg
		closeStore = pg.Close
	}
	defer closeStore()

	var masterSecret []byte
	if cfg.FlagSecretKey != "" {
		masterSecret, err = crypto.DecodeBase64(cfg.FlagSecretKey)
		if err != nil {
			log.Fatalf("Failed to decode configured flag secret key: %v", err)
		}
		if len(masterSecret) < 32 {
			log.Fatalf("Flag secret key must be at least 32 bytes, got %d bytes", len(masterSecret))
		}
		log.Println("Using configured flag secret key")
	} else {
		masterSecret, err = crypto.GenerateSecretKey()
		if err != nil {
			log.Fatalf("Failed to generate flag secret key: %v", err)
		}
		log.Println("WARNING: Using random flag secret key. Set FLAG_SECRET_KEY in config.env for production!")
	}

	deriver, err := flagtoken.NewDeriver(masterSecret, cfg.FlagDisplayLength)
	if err != nil {
		log.Fatalf("Failed to initialize flag deriver: %v", err)
	}

	submitLimiter := ratelimit.New(cfg.SubmitRateLimit, time.Duration(cfg.SubmitRateWindowSecs)*time.Second)
	authLimiter := ratelimit.New(cfg.AuthRateLimit, time.Duration(cfg.AuthRateWindowSecs)*time.Second)

	sink := audit.NewStoreSink(db, 256)
	defer sink.Close()

	engine := scoring.NewEngine(cfg, db, db, deriver, submitLimiter, sink)
	handler := handlers.NewHandler(cfg, engine, db, authLimiter)

	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/submit", handler.SubmitHandler).Methods("POST")
	api.HandleFunc("/challenges/{id}/flag", handler.FlagHandler).Methods("GET")
	api.HandleFunc("/leaderboard", handler.LeaderboardHandler).Methods("GET")
	api.HandleFunc("/users/{id}/solves", handler.SolvesHandler).Methods("GET")
	api.HandleFunc("/health", handler.HealthHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.APICORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	rateLimiter := rate.NewLimiter(
		rate.Every(time.Duration(cfg.APIRateLimitWindowMins)*time.Minute/time.Duration(cfg.APIRateLimitRequests)),
		cfg.APIRateLimitRequests,
	)

	finalHandler := rateLimitMiddleware(rateLimiter)(c.Handler(router))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      finalHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go startSweepRoutine(cfg, submitLimiter, authLimiter)

	log.Printf("Casefile server starting on %s:%s", cfg.ServerHost, cfg.ServerPort)
	log.Printf("Store: %s", cfg.StoreDriver)
	log.Printf("Scoring: first_blood_bonus=%d, decay_max=%d, decay_window=%dm, anchor=%s",
		cfg.FirstBloodBonus, cfg.DecayMaxBonus, cfg.DecayWindowMins, cfg.DecayAnchor)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func rateLimitMiddleware(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func startSweepRoutine(cfg *config.Config, limiters ...*ratelimit.Limiter) {
	ticker := time.NewTicker(time.Duration(cfg.RateSweepIntervalMins) * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now().UTC()
		dropped := 0
		for _, limiter := range limiters {
			dropped += limiter.Sweep(now)
		}
		if dropped > 0 {
			log.Printf("Rate limiter sweep dropped %d idle keys", dropped)
		}
	}
}
