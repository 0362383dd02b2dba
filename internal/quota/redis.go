package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gsarma/examrunner/internal/job"
	"github.com/gsarma/examrunner/internal/store"
)

// acquireScript increments the attempt counter unless it already sits at the
// ceiling. A missing key is seeded from the durable job count (ARGV[2]), so a
// flushed Redis never hands out fresh attempts.
//
//	KEYS[1] counter key
//	ARGV[1] ceiling, ARGV[2] seed, ARGV[3] ttl seconds
//
// Returns the new count, or -1 when the ceiling is reached.
var acquireScript = redis.NewScript(`
local current = redis.call("get", KEYS[1])
if current then
    current = tonumber(current)
else
    current = tonumber(ARGV[2])
end
if current >= tonumber(ARGV[1]) then
    return -1
end
current = current + 1
redis.call("set", KEYS[1], current, "EX", tonumber(ARGV[3]))
return current
`)

var releaseScript = redis.NewScript(`
local current = tonumber(redis.call("get", KEYS[1]) or "0")
if current > 0 then
    return redis.call("decr", KEYS[1])
end
return 0
`)

// RedisGuard performs the check and the increment as one atomic step, making
// the ceiling a hard limit across any number of server replicas.
type RedisGuard struct {
	rdb     redis.Scripter
	counter Counter
	ceiling int
	ttl     time.Duration
	prefix  string
}

func NewRedisGuard(rdb redis.Scripter, counter Counter, ceiling int, ttl time.Duration) *RedisGuard {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{rdb: rdb, counter: counter, ceiling: ceiling, ttl: ttl, prefix: "examrunner:quota"}
}

func (g *RedisGuard) key(ownerID, questionID string) string {
	return fmt.Sprintf("%s:%s:%s", g.prefix, ownerID, questionID)
}

func (g *RedisGuard) Acquire(ctx context.Context, ownerID, questionID string) (int, error) {
	seed, err := g.counter.CountExecutionJobs(ctx, store.CountExecutionJobsParams{
		OwnerID:    ownerID,
		QuestionID: questionID,
	})
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	n, err := acquireScript.Run(ctx, g.rdb, []string{g.key(ownerID, questionID)},
		g.ceiling, seed, int64(g.ttl/time.Second)).Int()
	if err != nil {
		return 0, fmt.Errorf("quota script: %w", err)
	}
	if n < 0 {
		return 0, job.ErrQuotaExceeded
	}
	return g.ceiling - n, nil
}

func (g *RedisGuard) Release(ctx context.Context, ownerID, questionID string) error {
	if err := releaseScript.Run(ctx, g.rdb, []string{g.key(ownerID, questionID)}).Err(); err != nil {
		return fmt.Errorf("quota release: %w", err)
	}
	return nil
}

func (g *RedisGuard) Ceiling() int {
	return g.ceiling
}
