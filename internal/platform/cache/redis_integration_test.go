//go:build integration

package cache

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const redisImage = "redis:7-alpine"

func TestRedisIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	port := freePort(t)
	out, err := exec.Command("docker", "run", "-d", "--rm", "-p", fmt.Sprintf("%d:6379", port), redisImage).CombinedOutput()
	if err != nil {
		t.Fatalf("start redis: %v (%s)", err, strings.TrimSpace(string(out)))
	}
	containerID := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = exec.Command("docker", "stop", containerID).Run() })

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var lastErr error
	url := fmt.Sprintf("redis://127.0.0.1:%d/0", port)
	for ctx.Err() == nil {
		client, err := Connect(ctx, url)
		if err != nil {
			lastErr = err
			time.Sleep(200 * time.Millisecond)
			continue
		}
		t.Cleanup(func() { _ = client.Close() })

		t.Run("store", func(t *testing.T) {
			store := NewRedisStore(client)
			_, err := store.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrMiss)

			require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
			got, err := store.Get(ctx, "k")
			require.NoError(t, err)
			require.Equal(t, "v", string(got))

			require.NoError(t, store.Del(ctx, "k"))
			_, err = store.Get(ctx, "k")
			require.ErrorIs(t, err, ErrMiss)
		})

		t.Run("rate limiter", func(t *testing.T) {
			limiter := NewRateLimiter(client, "test:rl:", 2, time.Minute)
			for i, want := range []bool{true, true, false} {
				allowed, err := limiter.Allow(ctx, "user-1")
				require.NoError(t, err)
				require.Equal(t, want, allowed, "hit %d", i)
			}
			allowed, err := limiter.Allow(ctx, "user-2")
			require.NoError(t, err)
			require.True(t, allowed)
		})

		t.Run("nonce store", func(t *testing.T) {
			nonces := NewNonceStore(client)
			expiry := time.Now().Add(time.Minute)
			stored, err := nonces.UseNonce(ctx, "impact", "n-1", expiry)
			require.NoError(t, err)
			require.True(t, stored)
			stored, err = nonces.UseNonce(ctx, "impact", "n-1", expiry)
			require.NoError(t, err)
			require.False(t, stored)
			_, err = nonces.UseNonce(ctx, "impact", "n-2", time.Now().Add(-time.Second))
			require.Error(t, err)
		})
		return
	}
	t.Fatalf("redis did not accept connections: %v", lastErr)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
