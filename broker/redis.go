package broker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskflow-io/taskflow/taskerr"
)

// compareAndExtendScript extends key's TTL iff its value still equals the
// caller's expected value, avoiding the GET-then-PEXPIRE TOCTOU race.
// Grounded on the RenewLock Lua script in the teacher's Redis store.
const compareAndExtendScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

const compareAndDeleteScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Redis implements Broker against a single go-redis client instance. The
// coordinator and worker each hold two Redis instances (high, low).
type Redis struct {
	client              *redis.Client
	compareAndExtendSHA string
	compareAndDeleteSHA string
}

// NewRedis connects to addr and preloads the Lua scripts so later calls send
// only the SHA, not the script text, on every invocation.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, taskerr.FatalConfig("broker.NewRedis", err)
	}

	extendSHA, err := client.ScriptLoad(ctx, compareAndExtendScript).Result()
	if err != nil {
		return nil, taskerr.FatalConfig("broker.NewRedis", err)
	}
	deleteSHA, err := client.ScriptLoad(ctx, compareAndDeleteScript).Result()
	if err != nil {
		return nil, taskerr.FatalConfig("broker.NewRedis", err)
	}

	return &Redis{client: client, compareAndExtendSHA: extendSHA, compareAndDeleteSHA: deleteSHA}, nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) Enqueue(ctx context.Context, queue string, message []byte) error {
	if err := r.client.LPush(ctx, queue, message).Err(); err != nil {
		return taskerr.TransientBroker("broker.Enqueue", err)
	}
	return nil
}

func (r *Redis) BlockingPopAndMove(ctx context.Context, queue, processingQueue string, timeout time.Duration) ([]byte, error) {
	res, err := r.client.BLMove(ctx, queue, processingQueue, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, taskerr.TransientBroker("broker.BlockingPopAndMove", err)
	}
	return []byte(res), nil
}

func (r *Redis) RemoveOne(ctx context.Context, queue string, message []byte) error {
	if err := r.client.LRem(ctx, queue, 1, message).Err(); err != nil {
		return taskerr.TransientBroker("broker.RemoveOne", err)
	}
	return nil
}

func (r *Redis) Range(ctx context.Context, queue string, start, stop int64) ([][]byte, error) {
	res, err := r.client.LRange(ctx, queue, start, stop).Result()
	if err != nil {
		return nil, taskerr.TransientBroker("broker.Range", err)
	}
	out := make([][]byte, len(res))
	for i, s := range res {
		out[i] = []byte(s)
	}
	return out, nil
}

func (r *Redis) SetIfAbsentWithExpiry(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, taskerr.TransientBroker("broker.SetIfAbsentWithExpiry", err)
	}
	return ok, nil
}

func (r *Redis) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	res, err := r.client.EvalSha(ctx, r.compareAndExtendSHA, []string{key}, expected, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, taskerr.TransientBroker("broker.CompareAndExtend", err)
	}
	code, _ := res.(int64)
	return code == 1, nil
}

func (r *Redis) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := r.client.EvalSha(ctx, r.compareAndDeleteSHA, []string{key}, expected).Result()
	if err != nil {
		return false, taskerr.TransientBroker("broker.CompareAndDelete", err)
	}
	code, _ := res.(int64)
	return code == 1, nil
}

func (r *Redis) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return taskerr.TransientBroker("broker.SetWithExpiry", err)
	}
	return nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, taskerr.TransientBroker("broker.Exists", err)
	}
	return n > 0, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return taskerr.TransientBroker("broker.Delete", err)
	}
	return nil
}
