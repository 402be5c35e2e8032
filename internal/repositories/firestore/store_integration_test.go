//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/rewards/internal/domain"
	pconfig "github.com/hanko-field/rewards/internal/platform/config"
	pfirestore "github.com/hanko-field/rewards/internal/platform/firestore"
	"github.com/hanko-field/rewards/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "rewards-test", EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	store, err := NewStore(provider)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	t.Run("grants are idempotent per key", func(t *testing.T) {
		entry := domain.LedgerEntry{
			ID: "led_1", UserID: "u1", SourceType: domain.SourceTypeAffiliate, SourceID: "order-1",
			AmountCents: 500, Status: domain.LedgerStatusConfirmed, CreatedAt: now,
		}
		_, created, err := store.Ledger().AppendGrant(ctx, entry)
		require.NoError(t, err)
		require.True(t, created)

		entry.ID, entry.AmountCents = "led_2", 900
		stored, created, err := store.Ledger().AppendGrant(ctx, entry)
		require.NoError(t, err)
		require.False(t, created)
		require.Equal(t, "led_1", stored.ID)
		require.Equal(t, int64(500), stored.AmountCents)
	})

	t.Run("sweep confirms due entries", func(t *testing.T) {
		due := now.Add(-time.Hour)
		pending := domain.LedgerEntry{
			ID: "led_p", UserID: "u2", SourceType: domain.SourceTypeDropship, SourceID: "order-2",
			AmountCents: 300, Status: domain.LedgerStatusPending, AvailableAt: &due, CreatedAt: now,
		}
		_, _, err := store.Ledger().AppendGrant(ctx, pending)
		require.NoError(t, err)

		n, err := store.Ledger().ConfirmMatured(ctx, now, 10)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := store.Ledger().FindByKey(ctx, pending.Key())
		require.NoError(t, err)
		require.Equal(t, domain.LedgerStatusConfirmed, got.Status)
	})

	t.Run("account transactions serialise debits", func(t *testing.T) {
		const workers = 8
		var wg sync.WaitGroup
		wg.Add(workers)
		for i := 0; i < workers; i++ {
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("rdm_%d", i)
				err := store.Accounts().WithAccount(ctx, "u1", func(ctx context.Context, tx repositories.AccountTx) error {
					entries, err := tx.Entries(ctx)
					if err != nil {
						return err
					}
					open, err := tx.OpenRedemptions(ctx)
					if err != nil {
						return err
					}
					if domain.SummarizeLedger("u1", entries, open).SpendableCents < 100 {
						return errInsufficient
					}
					if err := tx.InsertRedemption(ctx, domain.Redemption{ID: id, UserID: "u1", Type: domain.RedemptionTypeVoucher, AmountCents: 100, Status: domain.RedemptionStatusPaid, CreatedAt: now}); err != nil {
						return err
					}
					return tx.AppendDebit(ctx, domain.LedgerEntry{
						ID: "led_" + id, UserID: "u1", SourceType: domain.SourceTypeRedemption, SourceID: id,
						AmountCents: -100, Status: domain.LedgerStatusRedeemed, CreatedAt: now,
					})
				})
				if err != nil && !errors.Is(err, errInsufficient) {
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		entries, err := store.Ledger().AllByUser(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, int64(0), domain.SummarizeLedger("u1", entries, nil).SpendableCents)
		require.Len(t, entries, 6)
	})

	t.Run("foreign redemptions are refused", func(t *testing.T) {
		err := store.Accounts().WithAccount(ctx, "u2", func(ctx context.Context, tx repositories.AccountTx) error {
			_, err := tx.GetRedemption(ctx, "rdm_0")
			return err
		})
		require.True(t, repositories.IsConflict(err) || repositories.IsNotFound(err))
	})

	t.Run("health reports firestore", func(t *testing.T) {
		report, err := store.Health().Collect(ctx)
		require.NoError(t, err)
		require.Equal(t, domain.HealthStatusOK, report.Status)
	})
}

var errInsufficient = errors.New("insufficient")

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}
