package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-forecast/internal/cache"
	"github.com/miradorstack/mirador-forecast/internal/metrics"
	"github.com/miradorstack/mirador-forecast/internal/models"
)

const (
	predictionsPath = "/predictions"
	leaderboardPath = "/stats/leaderboard"
	rootPath        = "/"

	opCreate      = "create"
	opList        = "list"
	opResolve     = "resolve"
	opLeaderboard = "leaderboard"
	opPing        = "ping"

	fillLockTTL = 5 * time.Second
	fillPoll    = 25 * time.Millisecond
	fillWait    = 500 * time.Millisecond
)

// ClientConfig configures the prediction API client.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	MaxRetries        int
	MaxElapsed        time.Duration
	RequestsPerSecond float64
	Burst             int
	ListTTL           time.Duration
	LeaderboardTTL    time.Duration
}

// PredictionClient talks to the remote prediction service over JSON/HTTP.
type PredictionClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Provider
	cfg        ClientConfig
	logger     *slog.Logger
	generation atomic.Uint64
}

// NewPredictionClient constructs a client targeting the configured prediction service.
func NewPredictionClient(cfg ClientConfig, cacheProvider cache.Provider, logger *slog.Logger) *PredictionClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		cache:      cacheProvider,
		cfg:        cfg,
		logger:     logger,
	}
}

// CreatePrediction records a new prediction upstream.
func (c *PredictionClient) CreatePrediction(ctx context.Context, in models.PredictionCreate) (models.Prediction, error) {
	if err := c.ready(); err != nil {
		return models.Prediction{}, err
	}

	payload := map[string]any{
		"statement":  in.Statement,
		"category":   in.Category,
		"confidence": in.Confidence,
		"due_at":     in.DueAt,
	}

	var out models.Prediction
	if err := c.do(ctx, opCreate, http.MethodPost, c.resolvePath(predictionsPath), payload, &out, false); err != nil {
		return models.Prediction{}, fmt.Errorf("create prediction: %w", err)
	}
	c.invalidate()
	return out, nil
}

// ListPredictions returns predictions matching filter, newest first as served upstream.
func (c *PredictionClient) ListPredictions(ctx context.Context, filter models.ListFilter) ([]models.Prediction, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	endpoint := c.resolvePath(predictionsPath)
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.Category != "" {
		query.Set("category", filter.Category)
	}
	if encoded := query.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var out []models.Prediction
	err := c.fill(ctx, c.cacheKey("list", query.Encode()), c.cfg.ListTTL, &out, func() error {
		if err := c.do(ctx, opList, http.MethodGet, endpoint, nil, &out, true); err != nil {
			return err
		}
		if out == nil {
			out = []models.Prediction{}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	return out, nil
}

// ResolvePrediction records the outcome of prediction id.
func (c *PredictionClient) ResolvePrediction(ctx context.Context, id int64, outcome int) (models.Prediction, error) {
	if err := c.ready(); err != nil {
		return models.Prediction{}, err
	}

	endpoint := c.resolvePath(path.Join(predictionsPath, strconv.FormatInt(id, 10), "resolve"))
	var out models.Prediction
	if err := c.do(ctx, opResolve, http.MethodPost, endpoint, map[string]int{"outcome": outcome}, &out, false); err != nil {
		return models.Prediction{}, fmt.Errorf("resolve prediction %d: %w", id, err)
	}
	c.invalidate()
	return out, nil
}

// FetchLeaderboard retrieves aggregate statistics.
func (c *PredictionClient) FetchLeaderboard(ctx context.Context) (models.LeaderboardStats, error) {
	if err := c.ready(); err != nil {
		return models.LeaderboardStats{}, err
	}

	var out models.LeaderboardStats
	err := c.fill(ctx, c.cacheKey("leaderboard", ""), c.cfg.LeaderboardTTL, &out, func() error {
		if err := c.do(ctx, opLeaderboard, http.MethodGet, c.resolvePath(leaderboardPath), nil, &out, true); err != nil {
			return err
		}
		if out.Categories == nil {
			out.Categories = map[string]int{}
		}
		return nil
	})
	if err != nil {
		return models.LeaderboardStats{}, fmt.Errorf("fetch leaderboard: %w", err)
	}
	return out, nil
}

// Ping checks that the prediction service answers its root endpoint.
func (c *PredictionClient) Ping(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := c.do(ctx, opPing, http.MethodGet, c.resolvePath(rootPath), nil, nil, true); err != nil {
		return fmt.Errorf("ping prediction service: %w", err)
	}
	return nil
}

func (c *PredictionClient) ready() error {
	if c == nil {
		return fmt.Errorf("prediction client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("prediction service base URL not configured")
	}
	return nil
}

func (c *PredictionClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	if cleaned == rootPath && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// do performs one logical call. Idempotent calls are retried with exponential
// backoff on transport errors and 5xx responses; everything else is attempted once.
func (c *PredictionClient) do(ctx context.Context, op, method, endpoint string, payload, out any, idempotent bool) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	start := time.Now()
	attempt := 0
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.roundTrip(ctx, method, endpoint, body, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if idempotent && c.cfg.MaxRetries > 0 {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = 100 * time.Millisecond
		policy.MaxElapsedTime = c.cfg.MaxElapsed
		err = backoff.RetryNotify(operation,
			backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.cfg.MaxRetries)), ctx),
			func(err error, wait time.Duration) {
				c.logger.Warn("prediction service call failed, retrying",
					slog.String("operation", op),
					slog.Int("attempt", attempt),
					slog.Duration("wait", wait),
					slog.Any("error", err))
			})
	} else {
		err = operation()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.ObserveUpstream(op, time.Since(start), outcome)
	return err
}

func (c *PredictionClient) roundTrip(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *PredictionClient) cacheKey(kind, suffix string) string {
	return fmt.Sprintf("predictions:%d:%s:%s", c.generation.Load(), kind, suffix)
}

// fill serves key from the cache or runs fetch and stores the result in out.
// Concurrent misses on the same key are collapsed: the caller holding the fill
// lock goes upstream while the others wait briefly for its value to land.
func (c *PredictionClient) fill(ctx context.Context, key string, ttl time.Duration, out any, fetch func() error) error {
	if c.cached(ctx, key, out) {
		return nil
	}
	if ttl > 0 {
		lock := cache.FillLockKey(key)
		acquired, err := c.cache.SetNX(ctx, lock, []byte("1"), fillLockTTL)
		switch {
		case err != nil:
			c.logger.Debug("cache fill lock failed", slog.String("key", key), slog.Any("error", err))
		case acquired:
			defer func() { _ = c.cache.Del(context.WithoutCancel(ctx), lock) }()
		default:
			if c.awaitFill(ctx, key, out) {
				return nil
			}
		}
	}
	if err := fetch(); err != nil {
		return err
	}
	c.store(ctx, key, out, ttl)
	return nil
}

// awaitFill polls for a value another caller is fetching. It gives up after
// fillWait so a stuck lock holder only delays readers.
func (c *PredictionClient) awaitFill(ctx context.Context, key string, out any) bool {
	ticker := time.NewTicker(fillPoll)
	defer ticker.Stop()
	deadline := time.NewTimer(fillWait)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-ticker.C:
			if c.cached(ctx, key, out) {
				return true
			}
		}
	}
}

func (c *PredictionClient) cached(ctx context.Context, key string, out any) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("cache read failed", slog.String("key", key), slog.Any("error", err))
		}
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		_ = c.cache.Del(ctx, key)
		return false
	}
	return true
}

func (c *PredictionClient) store(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, ttl); err != nil {
		c.logger.Debug("cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// invalidate moves every cache key to a new generation so writes are visible
// on the next read.
func (c *PredictionClient) invalidate() {
	c.generation.Add(1)
}
