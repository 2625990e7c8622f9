package lock

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/selectivedca/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNopLocker(t *testing.T) {
	var l Locker = NopLocker{}
	release, err := l.Acquire(context.Background(), "run", time.Minute)
	require.NoError(t, err)
	release()
	release()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("SDCA_REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("SDCA_REDIS_TEST_ADDR is not set")
	}

	ctx := context.Background()
	l, err := NewRedisLocker(ctx, zap.NewNop(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	defer l.Close()

	key := "selectivedca-test-" + uuid.NewString()
	release, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, key, time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	release()
	release()

	again, err := l.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

// scriptedRedis answers SET NX locally and fails every script call, so no
// server is needed.
type scriptedRedis struct {
	scriptErr error
	commands  []string
}

func (h *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("dial disabled")
	}
}

func (h *scriptedRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		name := strings.ToLower(cmd.Name())
		h.commands = append(h.commands, name)
		switch c := cmd.(type) {
		case *redis.BoolCmd:
			c.SetVal(true)
			return nil
		default:
			return h.scriptErr
		}
	}
}

func (h *scriptedRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestRedisLocker_ReleaseFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()
	hook := &scriptedRedis{scriptErr: errors.New("READONLY You can't write against a read only replica.")}
	rdb.AddHook(hook)

	l := NewRedisLockerFromClient(zap.New(core), rdb)
	release, err := l.Acquire(context.Background(), "run", time.Minute)
	require.NoError(t, err)

	release()
	release()

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "failed to release run lock", entry.Message)
	assert.Equal(t, "lock:run", entry.ContextMap()["key"])
	assert.Contains(t, entry.ContextMap()["error"], "READONLY")
	assert.Equal(t, []string{"set", "evalsha"}, hook.commands)
}
