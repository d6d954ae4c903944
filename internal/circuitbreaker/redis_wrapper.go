package circuitbreaker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper routes gate-state Redis calls through a circuit breaker so a
// dead Redis fails fast instead of stalling feedback submissions. Command
// results keep the go-redis Cmd shape; a rejected call returns a Cmd whose
// Err is the breaker error.
type RedisWrapper struct {
	client *redis.Client
	cb     *CircuitBreaker
	logger *zap.Logger
}

func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	cb := NewCircuitBreaker("redis", redisBreakerConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("redis", "feedback-gate", cb)
	return &RedisWrapper{client: client, cb: cb, logger: logger}
}

func (rw *RedisWrapper) observe(success bool) {
	GlobalMetricsCollector.RecordRequest("redis", "feedback-gate", rw.cb.State(), success)
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Ping(ctx)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	var result *redis.StringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Get(ctx, key)
		// A missing key is an answer, not a failure.
		if result.Err() == redis.Nil {
			return nil
		}
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	var result *redis.StatusCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Set(ctx, key, value, expiration)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewStatusCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.HSet(ctx, key, values...)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	var result *redis.MapStringStringCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.HGetAll(ctx, key)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewMapStringStringCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	var result *redis.BoolCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Expire(ctx, key, ttl)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewBoolCmd(ctx)
		result.SetErr(err)
	}
	return result
}

// ScriptRun executes a server-side script through the breaker. Used for
// transitions that must be a single atomic compare-and-set.
func (rw *RedisWrapper) ScriptRun(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) *redis.Cmd {
	var result *redis.Cmd
	err := rw.cb.Execute(ctx, func() error {
		result = script.Run(ctx, rw.client, keys, args...)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var result *redis.IntCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Del(ctx, keys...)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewIntCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Keys(ctx context.Context, pattern string) *redis.StringSliceCmd {
	var result *redis.StringSliceCmd
	err := rw.cb.Execute(ctx, func() error {
		result = rw.client.Keys(ctx, pattern)
		return result.Err()
	})
	rw.observe(err == nil)
	if err != nil {
		result = redis.NewStringSliceCmd(ctx)
		result.SetErr(err)
	}
	return result
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

// GetClient exposes the raw client for commands the wrapper does not cover.
func (rw *RedisWrapper) GetClient() *redis.Client { return rw.client }

// IsCircuitBreakerOpen reports whether calls are currently rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
