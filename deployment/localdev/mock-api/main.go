// Command mock-api serves an in-memory prediction API with the same JSON
// contract as the real service, for local development of the gateway.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guregu/null/v5"

	"github.com/miradorstack/mirador-forecast/internal/models"
	"github.com/miradorstack/mirador-forecast/internal/scoring"
	"github.com/miradorstack/mirador-forecast/internal/utils"
)

type store struct {
	mu          sync.Mutex
	predictions map[int64]models.Prediction
	nextID      int64
}

func newStore() *store {
	s := &store{predictions: make(map[int64]models.Prediction), nextID: 1}
	now := time.Now().UTC()
	s.add(models.PredictionCreate{Statement: "It will rain in Lisbon on Saturday", Category: "Weather", Confidence: 0.65, DueAt: models.NewTimestamp(now.Add(-48 * time.Hour))}, now.Add(-96*time.Hour))
	s.add(models.PredictionCreate{Statement: "The release ships before Friday", Category: "Work", Confidence: 0.8, DueAt: models.NewTimestamp(now.Add(72 * time.Hour))}, now.Add(-24*time.Hour))
	s.add(models.PredictionCreate{Statement: "Home team wins the derby", Category: "Sports", Confidence: 0.4, DueAt: models.NewTimestamp(now.Add(-24 * time.Hour))}, now.Add(-72*time.Hour))
	_, _ = s.resolve(3, scoring.OutcomeMissed, now.Add(-12*time.Hour))
	return s
}

func (s *store) add(in models.PredictionCreate, at time.Time) models.Prediction {
	p := models.Prediction{
		ID:         s.nextID,
		Statement:  in.Statement,
		Category:   in.Category,
		Confidence: in.Confidence,
		DueAt:      in.DueAt,
		Status:     models.StatusOpen,
		CreatedAt:  models.NewTimestamp(at),
		UpdatedAt:  models.NewTimestamp(at),
	}
	s.predictions[p.ID] = p
	s.nextID++
	return p
}

var (
	errNotFound        = errors.New("prediction not found")
	errAlreadyResolved = errors.New("prediction already resolved")
)

func (s *store) resolve(id int64, outcome int, at time.Time) (models.Prediction, error) {
	p, ok := s.predictions[id]
	if !ok {
		return models.Prediction{}, errNotFound
	}
	if p.Status == models.StatusResolved {
		return models.Prediction{}, errAlreadyResolved
	}
	score, err := scoring.Score(p.Confidence, outcome)
	if err != nil {
		return models.Prediction{}, err
	}
	p.Status = models.StatusResolved
	p.Outcome = null.IntFrom(int64(outcome))
	p.BrierScore = null.FloatFrom(score)
	p.UpdatedAt = models.NewTimestamp(at)
	s.predictions[id] = p
	return p, nil
}

func (s *store) list(status models.Status, category string) []models.Prediction {
	out := make([]models.Prediction, 0, len(s.predictions))
	for _, p := range s.predictions {
		if status != "" && p.Status != status {
			continue
		}
		if category != "" && p.Category != category {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt.Time) })
	return out
}

func (s *store) leaderboard() models.LeaderboardStats {
	stats := models.LeaderboardStats{Categories: make(map[string]int)}
	var resolutions []scoring.Resolution
	for _, p := range s.predictions {
		stats.TotalPredictions++
		stats.Categories[p.Category]++
		if p.Resolved() {
			resolutions = append(resolutions, scoring.Resolution{Confidence: p.Confidence, Outcome: int(p.Outcome.Int64)})
		}
	}
	stats.ResolvedPredictions = len(resolutions)
	if summary, ok := scoring.Summarize(resolutions); ok {
		stats.AverageBrierScore = null.FloatFrom(summary.MeanBrier)
		stats.AccuracyRate = null.FloatFrom(summary.Accuracy)
	}
	return stats
}

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	flag.Parse()

	logger := utils.NewLogger(os.Getenv("LOG_LEVEL"), false).With(slog.String("component", "mock-api"))

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, newMux(newStore())),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func newMux(s *store) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Prediction App API is running"})
	})

	mux.HandleFunc("GET /predictions", func(w http.ResponseWriter, r *http.Request) {
		status, err := models.ParseStatus(r.URL.Query().Get("status"))
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.mu.Lock()
		out := s.list(status, r.URL.Query().Get("category"))
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST /predictions", func(w http.ResponseWriter, r *http.Request) {
		var in models.PredictionCreate
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if strings.TrimSpace(in.Statement) == "" || strings.TrimSpace(in.Category) == "" {
			writeDetail(w, http.StatusUnprocessableEntity, "statement and category are required")
			return
		}
		if err := scoring.ValidateConfidence(in.Confidence); err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.mu.Lock()
		p := s.add(in, time.Now().UTC())
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, p)
	})

	mux.HandleFunc("POST /predictions/{id}/resolve", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeDetail(w, http.StatusUnprocessableEntity, "prediction id must be an integer")
			return
		}
		var body struct {
			Outcome *int `json:"outcome"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Outcome == nil {
			writeDetail(w, http.StatusUnprocessableEntity, "outcome is required")
			return
		}
		s.mu.Lock()
		p, err := s.resolve(id, *body.Outcome, time.Now().UTC())
		s.mu.Unlock()
		switch {
		case errors.Is(err, errNotFound):
			writeDetail(w, http.StatusNotFound, "Prediction not found")
		case errors.Is(err, errAlreadyResolved):
			writeDetail(w, http.StatusUnprocessableEntity, "Prediction already resolved")
		case err != nil:
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		default:
			writeJSON(w, http.StatusOK, p)
		}
	})

	mux.HandleFunc("GET /stats/leaderboard", func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		stats := s.leaderboard()
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, stats)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode error", slog.Any("error", err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("latency", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
