package repo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miradorstack/mirador-forecast/internal/models"
)

func newPredictionClientForTest(rt roundTripFunc, cfg ClientConfig) *PredictionClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://predictions.example.com"
	}
	client := NewPredictionClient(cfg, newStubCache(), nil)
	client.httpClient = newTestClient(rt)
	return client
}

func samplePrediction(id int64, status string) map[string]any {
	p := map[string]any{
		"id":          id,
		"statement":   "It will rain tomorrow",
		"category":    "Weather",
		"confidence":  0.7,
		"due_at":      "2025-06-02T09:00:00",
		"status":      status,
		"outcome":     nil,
		"created_at":  "2025-06-01T09:00:00.000001",
		"updated_at":  "2025-06-01T09:00:00.000001",
		"brier_score": nil,
	}
	if status == "resolved" {
		p["outcome"] = 1
		p["brier_score"] = 0.09
	}
	return p
}

func TestListPredictionsSendsFiltersAndCaches(t *testing.T) {
	hits := 0
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.Method == http.MethodGet && req.URL.Path == "/predictions":
			hits++
			if got := req.URL.Query().Get("status"); got != "open" {
				t.Fatalf("unexpected status filter %q", got)
			}
			if got := req.URL.Query().Get("category"); got != "Weather & Climate" {
				t.Fatalf("unexpected category filter %q", got)
			}
			return jsonResponse(t, http.StatusOK, []any{samplePrediction(1, "open")}), nil
		case req.Method == http.MethodPost && req.URL.Path == "/predictions":
			return jsonResponse(t, http.StatusOK, samplePrediction(2, "open")), nil
		}
		t.Fatalf("unexpected request %s %s", req.Method, req.URL)
		return nil, nil
	}, ClientConfig{ListTTL: time.Minute})

	ctx := context.Background()
	filter := models.ListFilter{Status: models.StatusOpen, Category: "Weather & Climate"}

	preds, err := client.ListPredictions(ctx, filter)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(preds) != 1 || preds[0].ID != 1 || preds[0].Outcome.Valid {
		t.Fatalf("unexpected predictions: %+v", preds)
	}
	if want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC); !preds[0].DueAt.Equal(want) {
		t.Fatalf("unexpected due date %v", preds[0].DueAt)
	}

	if _, err := client.ListPredictions(ctx, filter); err != nil {
		t.Fatalf("unexpected cached error: %v", err)
	}
	if hits != 1 {
		t.Fatalf("cache miss triggered network call; hits=%d", hits)
	}

	if _, err := client.CreatePrediction(ctx, models.PredictionCreate{Statement: "s", Category: "c", Confidence: 0.5, DueAt: models.NewTimestamp(time.Now())}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := client.ListPredictions(ctx, filter); err != nil {
		t.Fatalf("list after create: %v", err)
	}
	if hits != 2 {
		t.Fatalf("create must invalidate cached listings; hits=%d", hits)
	}
}

func TestCreatePredictionPayload(t *testing.T) {
	due := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("missing JSON content type")
		}
		var body map[string]any
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["statement"] != "Ship v2" || body["category"] != "Work" || body["confidence"] != 0.8 {
			t.Fatalf("unexpected body: %v", body)
		}
		if body["due_at"] != "2025-07-01T12:00:00Z" {
			t.Fatalf("unexpected due_at: %v", body["due_at"])
		}
		return jsonResponse(t, http.StatusOK, samplePrediction(9, "open")), nil
	}, ClientConfig{})

	p, err := client.CreatePrediction(context.Background(), models.PredictionCreate{
		Statement: "Ship v2", Category: "Work", Confidence: 0.8, DueAt: models.NewTimestamp(due),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != 9 || p.Status != models.StatusOpen {
		t.Fatalf("unexpected prediction: %+v", p)
	}
}

func TestResolvePredictionNotFound(t *testing.T) {
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/predictions/999/resolve" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusNotFound, map[string]any{"detail": "Prediction not found"}), nil
	}, ClientConfig{MaxRetries: 3})

	_, err := client.ResolvePrediction(context.Background(), 999, 1)
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "Prediction not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestValidationDetailList(t *testing.T) {
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusUnprocessableEntity, map[string]any{
			"detail": []map[string]any{
				{"loc": []string{"body", "confidence"}, "msg": "ensure this value is less than or equal to 0.99"},
				{"loc": []string{"body", "category"}, "msg": "field required"},
			},
		}), nil
	}, ClientConfig{})

	_, err := client.CreatePrediction(context.Background(), models.PredictionCreate{Statement: "s", Confidence: 1.5})
	if !IsUnprocessable(err) {
		t.Fatalf("expected 422, got %v", err)
	}
	var apiErr *APIError
	errors.As(err, &apiErr)
	if apiErr.Detail != "ensure this value is less than or equal to 0.99; field required" {
		t.Fatalf("unexpected detail %q", apiErr.Detail)
	}
}

func TestErrorWithoutBodyUsesStatusText(t *testing.T) {
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		resp := jsonResponse(t, http.StatusBadGateway, nil)
		return resp, nil
	}, ClientConfig{})

	_, err := client.FetchLeaderboard(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Detail != "HTTP 502: Bad Gateway" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestReadsRetryOnServerErrors(t *testing.T) {
	hits := 0
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		hits++
		if hits < 3 {
			return jsonResponse(t, http.StatusServiceUnavailable, map[string]any{"detail": "busy"}), nil
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"total_predictions":    2,
			"resolved_predictions": 1,
			"average_brier_score":  0.09,
			"accuracy_rate":        1.0,
			"categories":           map[string]int{"Weather": 2},
		}), nil
	}, ClientConfig{MaxRetries: 3, MaxElapsed: 5 * time.Second})

	stats, err := client.FetchLeaderboard(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hits != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits)
	}
	if stats.TotalPredictions != 2 || stats.Categories["Weather"] != 2 || stats.AverageBrierScore.Float64 != 0.09 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestWritesAreNotRetried(t *testing.T) {
	hits := 0
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		hits++
		return jsonResponse(t, http.StatusServiceUnavailable, map[string]any{"detail": "busy"}), nil
	}, ClientConfig{MaxRetries: 5})

	if _, err := client.ResolvePrediction(context.Background(), 1, 0); err == nil {
		t.Fatalf("expected error")
	}
	if hits != 1 {
		t.Fatalf("writes must be attempted once, got %d", hits)
	}
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}, ClientConfig{})

	_, err := client.ListPredictions(context.Background(), models.ListFilter{})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream unavailable, got %v", err)
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	client := NewPredictionClient(ClientConfig{}, nil, nil)
	if err := client.Ping(context.Background()); err == nil {
		t.Fatalf("expected error without base URL")
	}
	var nilClient *PredictionClient
	if _, err := nilClient.FetchLeaderboard(context.Background()); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestResolvePathKeepsBasePrefix(t *testing.T) {
	client := NewPredictionClient(ClientConfig{BaseURL: "http://api.local:8001/v1/"}, nil, nil)
	if got := client.resolvePath("/predictions"); got != "http://api.local:8001/v1/predictions" {
		t.Fatalf("unexpected url %s", got)
	}
	if got := client.resolvePath(rootPath); got != "http://api.local:8001/v1/" {
		t.Fatalf("unexpected root url %s", got)
	}
}

func leaderboardBody() map[string]any {
	return map[string]any{
		"total_predictions":    3,
		"resolved_predictions": 1,
		"average_brier_score":  0.09,
		"accuracy_rate":        1.0,
		"categories":           map[string]int{"Weather": 3},
	}
}

func TestConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	var hits atomic.Int32
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		hits.Add(1)
		time.Sleep(100 * time.Millisecond)
		return jsonResponse(t, http.StatusOK, leaderboardBody()), nil
	}, ClientConfig{LeaderboardTTL: time.Minute})

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := client.FetchLeaderboard(context.Background())
			if err == nil && stats.TotalPredictions != 3 {
				err = errors.New("unexpected leaderboard payload")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("fetch leaderboard: %v", err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}

func TestStuckFillLockFallsThroughToUpstream(t *testing.T) {
	var hits atomic.Int32
	client := newPredictionClientForTest(func(req *http.Request) (*http.Response, error) {
		hits.Add(1)
		return jsonResponse(t, http.StatusOK, leaderboardBody()), nil
	}, ClientConfig{LeaderboardTTL: time.Minute})

	ctx := context.Background()
	if ok, _ := client.cache.SetNX(ctx, "predictions:0:leaderboard::fill", []byte("1"), time.Minute); !ok {
		t.Fatalf("could not pre-hold fill lock")
	}

	start := time.Now()
	stats, err := client.FetchLeaderboard(ctx)
	if err != nil {
		t.Fatalf("fetch leaderboard: %v", err)
	}
	if stats.Categories["Weather"] != 3 {
		t.Fatalf("unexpected categories %+v", stats.Categories)
	}
	if waited := time.Since(start); waited < fillWait {
		t.Fatalf("expected to wait for the lock holder, waited %v", waited)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected one upstream call, got %d", got)
	}
}
