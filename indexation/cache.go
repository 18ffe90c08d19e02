package indexation

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "indexation:eval"

// CachedEvaluator memoizes EvaluateDetailed in redis. The key covers the
// target formula and every input that can change the outcome, so entries
// never need explicit invalidation; the TTL only bounds memory.
// A nil client evaluates on every call.
type CachedEvaluator struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedEvaluator builds the evaluator. client may be nil.
func NewCachedEvaluator(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedEvaluator {
	return &CachedEvaluator{client: client, ttl: ttl, logger: logger}
}

// Evaluate returns the cached result or computes and stores it. Redis
// failures degrade to a direct evaluation.
func (c *CachedEvaluator) Evaluate(ctx context.Context, target Index, indices []Index, values []IndexValue) Result {
	compute := func() Result { return EvaluateDetailed(target, indices, values) }
	if c == nil || c.client == nil {
		return compute()
	}

	key := CacheKey(target, indices, values)
	var res Result
	if err := c.fetchJSON(ctx, key, &res, compute); err != nil {
		c.logger.Warn().Err(err).Str("index_id", string(target.ID)).Msg("index cache unavailable")
		return compute()
	}
	return res
}

func (c *CachedEvaluator) fetchJSON(ctx context.Context, key string, dest *Result, loader func() Result) error {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	*dest = loader()
	raw, err := json.Marshal(dest)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, c.ttl).Err()
}

// CacheKey is "indexation:eval:{indexID}:{hash}". The hash covers the
// type, the formula, the precision, the catalogue codes and the values in
// input order.
func CacheKey(target Index, indices []Index, values []IndexValue) string {
	h := fnv.New64a()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.Write([]byte(p))
			_, _ = h.Write([]byte{0})
		}
	}

	write(string(target.Type), target.Formula, strconv.Itoa(target.Precision()))

	codes := make([]string, 0, len(indices))
	for _, idx := range indices {
		codes = append(codes, string(idx.ID)+"="+idx.Code)
	}
	write(codes...)

	rows := make([]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, ValueKey(v.IndexID, v.Period)+"="+strconv.FormatUint(math.Float64bits(v.Value), 16))
	}
	write(rows...)

	return strings.Join([]string{cacheKeyPrefix, string(target.ID), strconv.FormatUint(h.Sum64(), 16)}, ":")
}
