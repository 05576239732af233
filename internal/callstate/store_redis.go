package callstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps call records in Redis so that several API processes share
// one view and the last-call pointer survives restarts.
//
// Keys:
//
//	<prefix>call:<id>:state  hash {state, created_at, updated_at}
//	<prefix>call:<id>:data   JSON object of metadata
//	<prefix>last_call_id     string
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisStore(rdb *redis.Client, prefix string) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (s *RedisStore) stateKey(id string) string { return s.prefix + "call:" + id + ":state" }
func (s *RedisStore) dataKey(id string) string  { return s.prefix + "call:" + id + ":data" }
func (s *RedisStore) lastKey() string           { return s.prefix + "last_call_id" }

var createCallScript = redis.NewScript(`
-- KEYS[1] = state hash key
-- KEYS[2] = data key
-- KEYS[3] = last call pointer key
-- ARGV[1] = state
-- ARGV[2] = metadata json
-- ARGV[3] = created_at (unix nanos)
-- ARGV[4] = call id
--
-- Returns:
--  1 if created
--  0 if a record already existed
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'created_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('SET', KEYS[3], ARGV[4])
return 1
`)

func (s *RedisStore) Get(ctx context.Context, callID string) (Record, bool, error) {
	pipe := s.rdb.Pipeline()
	stateCmd := pipe.HGetAll(ctx, s.stateKey(callID))
	dataCmd := pipe.Get(ctx, s.dataKey(callID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Record{}, false, err
	}

	fields, err := stateCmd.Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(fields) == 0 {
		return Record{}, false, nil
	}

	rec := Record{
		CallID:    callID,
		State:     CallState(fields["state"]),
		CreatedAt: unixNanos(fields["created_at"]),
		UpdatedAt: unixNanos(fields["updated_at"]),
	}

	raw, err := dataCmd.Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Record{}, false, err
	default:
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return Record{}, false, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return rec, true, nil
}

func (s *RedisStore) Create(ctx context.Context, rec Record) (bool, error) {
	data, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode metadata: %w", err)
	}
	keys := []string{s.stateKey(rec.CallID), s.dataKey(rec.CallID), s.lastKey()}
	res, err := createCallScript.Run(ctx, s.rdb, keys,
		string(rec.State), string(data), rec.CreatedAt.UnixNano(), rec.CallID,
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) PutState(ctx context.Context, callID string, state CallState, now time.Time) error {
	key := s.stateKey(callID)
	ts := strconv.FormatInt(now.UnixNano(), 10)
	pipe := s.rdb.TxPipeline()
	pipe.HSetNX(ctx, key, "created_at", ts)
	pipe.HSet(ctx, key, "state", string(state), "updated_at", ts)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, callID string) error {
	return s.rdb.Del(ctx, s.stateKey(callID), s.dataKey(callID)).Err()
}

func (s *RedisStore) LastCallID(ctx context.Context) (string, bool, error) {
	id, err := s.rdb.Get(ctx, s.lastKey()).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, id != "", nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func unixNanos(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
