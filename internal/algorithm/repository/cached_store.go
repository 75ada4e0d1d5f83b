package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"algohub/internal/algorithm/model"
	"algohub/internal/common/cache"
	"algohub/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultSubmissionTTL      = 10 * time.Minute
	defaultSubmissionEmptyTTL = time.Minute
	generationKey             = "algorithm:gen"
	submissionKeyPrefix       = "algorithm:name:"
	namesKeyPrefix            = "algorithm:names:"
)

// CachedStore decorates a Store with cache-aside reads of single records and name listings.
// Every write replaces a generation token that is part of each cache key, so
// stale entries are never read again and simply expire. When the token cannot
// be replaced, reads go straight to the wrapped Store until a later attempt
// succeeds.
type CachedStore struct {
	Store
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
	stale    atomic.Bool
}

func NewCachedStore(inner Store, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultSubmissionTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionEmptyTTL
	}
	return &CachedStore{Store: inner, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL, now: time.Now}
}

func (s *CachedStore) GetSubmissionByName(ctx context.Context, name string) (*model.Submission, error) {
	if !s.fresh(ctx) {
		return s.Store.GetSubmissionByName(ctx, name)
	}
	sub, err := cache.GetWithCached[*model.Submission](
		ctx,
		s.cache,
		s.key(ctx, submissionKeyPrefix, name),
		cache.JitterTTL(s.ttl),
		cache.JitterTTL(s.emptyTTL),
		func(sub *model.Submission) bool { return sub == nil },
		marshalJSON[*model.Submission],
		unmarshalJSON[*model.Submission],
		func(ctx context.Context) (*model.Submission, error) {
			sub, err := s.Store.GetSubmissionByName(ctx, name)
			if errors.Is(err, ErrSubmissionNotFound) {
				return nil, nil
			}
			return sub, err
		},
	)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}

func (s *CachedStore) ListNames(ctx context.Context, tag string) ([]string, error) {
	if !s.fresh(ctx) {
		return s.Store.ListNames(ctx, tag)
	}
	names, err := cache.GetWithCached[[]string](
		ctx,
		s.cache,
		s.key(ctx, namesKeyPrefix, tag),
		cache.JitterTTL(s.ttl),
		cache.JitterTTL(s.emptyTTL),
		func(names []string) bool { return len(names) == 0 },
		marshalJSON[[]string],
		unmarshalJSON[[]string],
		func(ctx context.Context) ([]string, error) { return s.Store.ListNames(ctx, tag) },
	)
	if names == nil && err == nil {
		names = []string{}
	}
	return names, err
}

func (s *CachedStore) CreateSubmission(ctx context.Context, sub *model.Submission) error {
	return s.bump(func(ctx context.Context) error { return s.Store.CreateSubmission(ctx, sub) })(ctx)
}

func (s *CachedStore) UpdateSubmission(ctx context.Context, sub *model.Submission) error {
	return s.bump(func(ctx context.Context) error { return s.Store.UpdateSubmission(ctx, sub) })(ctx)
}

func (s *CachedStore) DeleteSubmission(ctx context.Context, id int64) error {
	return s.bump(func(ctx context.Context) error { return s.Store.DeleteSubmission(ctx, id) })(ctx)
}

func (s *CachedStore) ReplaceTags(ctx context.Context, submissionID int64, tags []string) error {
	return s.bump(func(ctx context.Context) error { return s.Store.ReplaceTags(ctx, submissionID, tags) })(ctx)
}

// bump wraps a write so that a successful one starts a new cache generation.
func (s *CachedStore) bump(write func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := write(ctx); err != nil {
			return err
		}
		s.rotate(ctx)
		return nil
	}
}

// rotate replaces the generation token. A failure marks the cache stale.
func (s *CachedStore) rotate(ctx context.Context) bool {
	if err := s.cache.Set(ctx, generationKey, strconv.FormatInt(s.now().UnixNano(), 36), 0); err != nil {
		if !s.stale.Swap(true) {
			logger.Warn(ctx, "rotate cache generation failed, reading through to the store", zap.Error(err))
		}
		return false
	}
	if s.stale.Swap(false) {
		logger.Info(ctx, "cache generation rotated, cached reads resumed")
	}
	return true
}

// fresh reports whether cached entries may be served.
func (s *CachedStore) fresh(ctx context.Context) bool {
	return !s.stale.Load() || s.rotate(ctx)
}

func (s *CachedStore) key(ctx context.Context, prefix, suffix string) string {
	gen, err := s.cache.Get(ctx, generationKey)
	if err != nil || gen == "" {
		gen = "0"
	}
	return prefix + gen + ":" + suffix
}

func marshalJSON[T any](v T) (string, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

func unmarshalJSON[T any](data string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(data), &v)
	return v, err
}

var _ Store = (*CachedStore)(nil)
