package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "limits:\n  global: 100\n")

	reloaded := make(chan *Root, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 50*time.Millisecond, zerolog.Nop(), func(c *Root) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	// give the watcher a moment to register before mutating the file
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  global: 42\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 42, cfg.Limits.Global)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestWatch_KeepsRunningOnBadConfig(t *testing.T) {
	path := writeConfig(t, "limits:\n  global: 100\n")

	reloaded := make(chan *Root, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = Watch(ctx, path, 50*time.Millisecond, zerolog.Nop(), func(c *Root) {
			select {
			case reloaded <- c:
			default:
			}
		})
	}()

	time.Sleep(200 * time.Millisecond)
	// invalid: unknown store; the previous config must stay in force
	require.NoError(t, os.WriteFile(path, []byte("limits:\n  store: dynamo\n"), 0o600))
	time.Sleep(300 * time.Millisecond)
	select {
	case <-reloaded:
		t.Fatal("invalid config must not trigger a reload")
	default:
	}

	require.NoError(t, os.WriteFile(path, []byte("limits:\n  global: 7\n"), 0o600))
	select {
	case cfg := <-reloaded:
		assert.Equal(t, 7, cfg.Limits.Global)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for recovery reload")
	}
}
