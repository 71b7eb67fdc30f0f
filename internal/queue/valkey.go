package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ValkeyNotifier distributes wake-up signals across server nodes so any
// worker can pick up an outbox event enqueued by any API node. The signal is
// a bare token on a Valkey list; the database stays the source of truth.
type ValkeyNotifier struct {
	client valkey.Client
	key    string
}

// NewValkeyNotifier connects to Valkey and verifies the connection.
func NewValkeyNotifier(addr string) (*ValkeyNotifier, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingCmd := client.B().Ping().Build()
	if err := client.Do(ctx, pingCmd).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Valkey: %w", err)
	}

	n := &ValkeyNotifier{client: client, key: "ptw:outbox:nudge"}
	slog.Info("Initialized Valkey outbox notifier", "address", addr, "key", n.key)
	return n, nil
}

// Nudge pushes one token. Errors are returned but callers treat them as
// advisory; the deliverer's poll loop covers a lost nudge.
func (n *ValkeyNotifier) Nudge(ctx context.Context) error {
	cmd := n.client.B().Rpush().Key(n.key).Element("1").Build()
	if err := n.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to push nudge to Valkey: %w", err)
	}
	return nil
}

// Wait blocks on the list for up to five seconds per round. A timeout is
// surfaced as context.DeadlineExceeded so the worker falls through to its
// poll cycle.
func (n *ValkeyNotifier) Wait(ctx context.Context) error {
	cmd := n.client.B().Blpop().Key(n.key).Timeout(5).Build()
	result := n.client.Do(ctx, cmd)
	if _, err := result.AsStrSlice(); err != nil {
		// BLPOP timeout (valkey nil message) or connection error.
		return context.DeadlineExceeded
	}
	return nil
}

// Close closes the Valkey client.
func (n *ValkeyNotifier) Close() error {
	n.client.Close()
	return nil
}
