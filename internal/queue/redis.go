package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Finished (done or cancelled) job hashes are kept this long for inspection.
const finishedRetention = 24 * time.Hour

// RedisStore keeps jobs in Redis. Each job is a hash; per-kind sorted sets
// index pending jobs by run time, active jobs by lease deadline and dead jobs
// by burial time. State transitions run as Lua scripts so concurrent
// processes never claim the same job twice.
//
// Key names are built inside the scripts, so the store expects a single
// Redis node rather than a cluster.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "topicmate:queue"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

var addScript = redis.NewScript(`
local prefix = ARGV[1]
local id = ARGV[2]
local kind = ARGV[3]
local key = ARGV[5]
if key ~= '' then
  local existing = redis.call('GET', prefix .. 'key:' .. key)
  if existing then
    local st = redis.call('HGET', prefix .. 'job:' .. existing, 'state')
    if st == 'pending' or st == 'active' then
      return existing
    end
  end
  redis.call('SET', prefix .. 'key:' .. key, id)
end
redis.call('HSET', prefix .. 'job:' .. id,
  'id', id, 'kind', kind, 'payload', ARGV[4], 'key', key,
  'run_at', ARGV[6], 'attempts', 0, 'max_attempts', ARGV[7],
  'state', 'pending', 'lease_until', 0, 'last_error', '',
  'created_at', ARGV[8], 'updated_at', ARGV[8])
redis.call('ZADD', prefix .. 'pending:' .. kind, ARGV[6], id)
redis.call('SADD', prefix .. 'kinds', kind)
return id
`)

var claimScript = redis.NewScript(`
local prefix = ARGV[1]
local kind = ARGV[2]
local now = ARGV[3]
local leaseUntil = ARGV[4]
local limit = tonumber(ARGV[5])
local pending = prefix .. 'pending:' .. kind
local active = prefix .. 'active:' .. kind
local ids = redis.call('ZRANGEBYSCORE', active, '-inf', now, 'LIMIT', 0, limit)
local remaining = limit - #ids
if remaining > 0 then
  local due = redis.call('ZRANGEBYSCORE', pending, '-inf', now, 'LIMIT', 0, remaining)
  for _, id in ipairs(due) do
    redis.call('ZREM', pending, id)
    table.insert(ids, id)
  end
end
for _, id in ipairs(ids) do
  local jk = prefix .. 'job:' .. id
  redis.call('ZADD', active, leaseUntil, id)
  redis.call('HSET', jk, 'state', 'active', 'lease_until', leaseUntil, 'updated_at', now)
  redis.call('HINCRBY', jk, 'attempts', 1)
end
return ids
`)

// finishScript moves a job to done, dead or cancelled. ARGV[4] optionally
// names the state the job must currently be in.
var finishScript = redis.NewScript(`
local prefix = ARGV[1]
local id = ARGV[2]
local state = ARGV[3]
local required = ARGV[4]
local now = ARGV[5]
local lastErr = ARGV[6]
local retention = ARGV[7]
local jk = prefix .. 'job:' .. id
local current = redis.call('HGET', jk, 'state')
if not current then
  return -1
end
if required ~= '' and current ~= required then
  return 0
end
local kind = redis.call('HGET', jk, 'kind')
redis.call('ZREM', prefix .. 'pending:' .. kind, id)
redis.call('ZREM', prefix .. 'active:' .. kind, id)
redis.call('HSET', jk, 'state', state, 'lease_until', 0, 'updated_at', now)
if lastErr ~= '' then
  redis.call('HSET', jk, 'last_error', lastErr)
end
local key = redis.call('HGET', jk, 'key')
if key and key ~= '' then
  local kk = prefix .. 'key:' .. key
  if redis.call('GET', kk) == id then
    redis.call('DEL', kk)
  end
end
if state == 'dead' then
  redis.call('ZADD', prefix .. 'dead:' .. kind, now, id)
else
  redis.call('EXPIRE', jk, retention)
end
return 1
`)

var retryScript = redis.NewScript(`
local prefix = ARGV[1]
local id = ARGV[2]
local jk = prefix .. 'job:' .. id
local kind = redis.call('HGET', jk, 'kind')
if not kind then
  return -1
end
redis.call('ZREM', prefix .. 'active:' .. kind, id)
redis.call('HSET', jk, 'state', 'pending', 'run_at', ARGV[3], 'last_error', ARGV[4], 'lease_until', 0, 'updated_at', ARGV[5])
redis.call('ZADD', prefix .. 'pending:' .. kind, ARGV[3], id)
return 1
`)

var requeueScript = redis.NewScript(`
local prefix = ARGV[1]
local id = ARGV[2]
local jk = prefix .. 'job:' .. id
local current = redis.call('HGET', jk, 'state')
if not current then
  return -1
end
if current ~= 'dead' then
  return 0
end
local kind = redis.call('HGET', jk, 'kind')
redis.call('ZREM', prefix .. 'dead:' .. kind, id)
redis.call('HSET', jk, 'state', 'pending', 'attempts', 0, 'run_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZADD', prefix .. 'pending:' .. kind, ARGV[3], id)
local key = redis.call('HGET', jk, 'key')
if key and key ~= '' then
  redis.call('SET', prefix .. 'key:' .. key, id, 'NX')
end
return 1
`)

func (s *RedisStore) Add(ctx context.Context, job *Job) (string, bool, error) {
	id, err := addScript.Run(ctx, s.client, nil,
		s.prefix, job.ID, job.Kind, string(job.Payload), job.Key,
		millis(job.RunAt), job.MaxAttempts, millis(job.CreatedAt),
	).Text()
	if err != nil {
		return "", false, fmt.Errorf("failed to add job: %w", err)
	}
	return id, id == job.ID, nil
}

func (s *RedisStore) Claim(ctx context.Context, kind string, now time.Time, lease time.Duration, limit int) ([]*Job, error) {
	ids, err := claimScript.Run(ctx, s.client, nil,
		s.prefix, kind, millis(now), millis(now.Add(lease)), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim %s jobs: %w", kind, err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *RedisStore) Complete(ctx context.Context, job *Job, now time.Time) error {
	_, err := s.finish(ctx, job.ID, StateDone, "", "", now)
	return err
}

func (s *RedisStore) Bury(ctx context.Context, job *Job, lastErr string, now time.Time) error {
	_, err := s.finish(ctx, job.ID, StateDead, "", lastErr, now)
	return err
}

func (s *RedisStore) Cancel(ctx context.Context, id string, now time.Time) error {
	ok, err := s.finish(ctx, id, StateCancelled, StatePending, "", now)
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotPending
	}
	return nil
}

func (s *RedisStore) finish(ctx context.Context, id string, state, required State, lastErr string, now time.Time) (bool, error) {
	res, err := finishScript.Run(ctx, s.client, nil,
		s.prefix, id, string(state), string(required), millis(now), lastErr,
		int(finishedRetention.Seconds()),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s %s: %w", id, state, err)
	}
	switch res {
	case -1:
		return false, ErrJobNotFound
	case 0:
		return false, nil
	}
	return true, nil
}

func (s *RedisStore) Retry(ctx context.Context, job *Job, runAt time.Time, lastErr string, now time.Time) error {
	res, err := retryScript.Run(ctx, s.client, nil,
		s.prefix, job.ID, millis(runAt), lastErr, millis(now),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to retry job %s: %w", job.ID, err)
	}
	if res == -1 {
		return ErrJobNotFound
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+"job:"+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(fields)
}

func (s *RedisStore) ListDead(ctx context.Context) ([]*Job, error) {
	kinds, err := s.client.SMembers(ctx, s.prefix+"kinds").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job kinds: %w", err)
	}

	var dead []*Job
	for _, kind := range kinds {
		ids, err := s.client.ZRange(ctx, s.prefix+"dead:"+kind, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list dead %s jobs: %w", kind, err)
		}
		for _, id := range ids {
			job, err := s.Get(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			dead = append(dead, job)
		}
	}
	return dead, nil
}

func (s *RedisStore) Requeue(ctx context.Context, id string, runAt time.Time) error {
	res, err := requeueScript.Run(ctx, s.client, nil, s.prefix, id, millis(runAt)).Int()
	if err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", id, err)
	}
	switch res {
	case -1:
		return ErrJobNotFound
	case 0:
		return ErrJobNotDead
	}
	return nil
}

func (s *RedisStore) Stats(ctx context.Context) (map[string]KindStats, error) {
	kinds, err := s.client.SMembers(ctx, s.prefix+"kinds").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job kinds: %w", err)
	}

	stats := make(map[string]KindStats, len(kinds))
	for _, kind := range kinds {
		pipe := s.client.Pipeline()
		pending := pipe.ZCard(ctx, s.prefix+"pending:"+kind)
		active := pipe.ZCard(ctx, s.prefix+"active:"+kind)
		dead := pipe.ZCard(ctx, s.prefix+"dead:"+kind)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", kind, err)
		}
		stats[kind] = KindStats{
			Pending: int(pending.Val()),
			Active:  int(active.Val()),
			Dead:    int(dead.Val()),
		}
	}
	return stats, nil
}

func jobFromHash(h map[string]string) (*Job, error) {
	job := &Job{
		ID:        h["id"],
		Kind:      h["kind"],
		Payload:   []byte(h["payload"]),
		Key:       h["key"],
		State:     State(h["state"]),
		LastError: h["last_error"],
	}

	var err error
	if job.Attempts, err = strconv.Atoi(h["attempts"]); err != nil {
		return nil, fmt.Errorf("invalid attempts for job %s: %w", job.ID, err)
	}
	if job.MaxAttempts, err = strconv.Atoi(h["max_attempts"]); err != nil {
		return nil, fmt.Errorf("invalid max_attempts for job %s: %w", job.ID, err)
	}
	for field, dst := range map[string]*time.Time{
		"run_at":      &job.RunAt,
		"lease_until": &job.LeaseUntil,
		"created_at":  &job.CreatedAt,
		"updated_at":  &job.UpdatedAt,
	} {
		ms, err := strconv.ParseInt(h[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s for job %s: %w", field, job.ID, err)
		}
		if ms > 0 {
			*dst = time.UnixMilli(ms)
		}
	}
	return job, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}
