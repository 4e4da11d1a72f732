package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"

	"taskcadence/internal/recurrence"
	logx "taskcadence/pkg/logx"
)

// redisStore layout, under a common key prefix:
//   - <p>rules               hash id -> rule JSON
//   - <p>instance:<key>      instance JSON, written with SET NX
//   - <p>instances:<ruleID>  list of idempotency keys for the rule
//   - <p>instance-rules      set of rule IDs that have instances
//   - <p>runs                capped list of run JSON, newest last
type redisStore struct {
	pool   *redis.Pool
	prefix string
	log    logx.Logger
}

const redisMaxRuns = 1000

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("storage.addr is required for redis driver")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "taskcadence:"
	}
	opts := []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
		redis.DialDatabase(cfg.DB),
	}
	if cfg.Password != "" {
		opts = append(opts, redis.DialPassword(cfg.Password))
	}
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 5 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}

	s := &redisStore{pool: pool, prefix: prefix, log: log}
	conn := pool.Get()
	_, err := conn.Do("PING")
	_ = conn.Close()
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return s, nil
}

func (s *redisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *redisStore) conn(ctx context.Context) (redis.Conn, error) {
	return s.pool.GetContext(ctx)
}

func (s *redisStore) Close() error { return s.pool.Close() }

func (s *redisStore) ListRules(ctx context.Context, activeOnly bool) ([]recurrence.Rule, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	vals, err := redis.StringMap(c.Do("HGETALL", s.key("rules")))
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	out := make([]recurrence.Rule, 0, len(vals))
	for _, body := range vals {
		r, err := decodeRule([]byte(body))
		if err != nil {
			return nil, err
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	sortRules(out)
	return out, nil
}

func (s *redisStore) GetRule(ctx context.Context, id string) (recurrence.Rule, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return recurrence.Rule{}, err
	}
	defer c.Close()

	body, err := redis.Bytes(c.Do("HGET", s.key("rules"), id))
	if errors.Is(err, redis.ErrNil) {
		return recurrence.Rule{}, ErrNotFound
	}
	if err != nil {
		return recurrence.Rule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return decodeRule(body)
}

func (s *redisStore) PutRule(ctx context.Context, r recurrence.Rule) error {
	if err := checkRule(r); err != nil {
		return err
	}
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode rule %s: %w", r.ID, err)
	}
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	_, err = c.Do("HSET", s.key("rules"), r.ID, body)
	return err
}

func (s *redisStore) DeleteRule(ctx context.Context, id string) error {
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	n, err := redis.Int(c.Do("HDEL", s.key("rules"), id))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) HasInstance(ctx context.Context, ruleID string, on recurrence.Date) (bool, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()
	return redis.Bool(c.Do("EXISTS", s.key("instance", recurrence.IdempotencyKey(ruleID, on))))
}

func (s *redisStore) RecordInstance(ctx context.Context, inst recurrence.Instance) (bool, error) {
	if err := checkInstance(inst); err != nil {
		return false, err
	}
	body, err := json.Marshal(inst)
	if err != nil {
		return false, err
	}
	c, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer c.Close()

	_, err = redis.String(c.Do("SET", s.key("instance", inst.IdempotencyKey), body, "NX"))
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("record instance: %w", err)
	}
	// The SET NX above is the commit point; the indexes only serve listing.
	if err := c.Send("MULTI"); err != nil {
		return true, err
	}
	_ = c.Send("RPUSH", s.key("instances", inst.RuleID), inst.IdempotencyKey)
	_ = c.Send("SADD", s.key("instance-rules"), inst.RuleID)
	if _, err := c.Do("EXEC"); err != nil {
		s.log.Warn("redis instance index update failed", logx.String("rule_id", inst.RuleID), logx.Err(err))
	}
	return true, nil
}

func (s *redisStore) ListInstances(ctx context.Context, ruleID string) ([]recurrence.Instance, error) {
	c, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	ruleIDs := []string{ruleID}
	if ruleID == "" {
		ruleIDs, err = redis.Strings(c.Do("SMEMBERS", s.key("instance-rules")))
		if err != nil {
			return nil, err
		}
	}

	out := make([]recurrence.Instance, 0)
	for _, id := range ruleIDs {
		keys, err := redis.Strings(c.Do("LRANGE", s.key("instances", id), 0, -1))
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			continue
		}
		args := make([]any, 0, len(keys))
		for _, k := range keys {
			args = append(args, s.key("instance", k))
		}
		bodies, err := redis.ByteSlices(c.Do("MGET", args...))
		if err != nil {
			return nil, err
		}
		for _, b := range bodies {
			if b == nil {
				continue
			}
			var in recurrence.Instance
			if err := json.Unmarshal(b, &in); err != nil {
				return nil, fmt.Errorf("decode instance: %w", err)
			}
			out = append(out, in)
		}
	}
	sortInstances(out)
	return out, nil
}

func (s *redisStore) AppendRun(ctx context.Context, rec RunRecord) error {
	body, err := json.Marshal(rec.withID())
	if err != nil {
		return err
	}
	c, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	if _, err := c.Do("RPUSH", s.key("runs"), body); err != nil {
		return err
	}
	_, err = c.Do("LTRIM", s.key("runs"), -redisMaxRuns, -1)
	return err
}
