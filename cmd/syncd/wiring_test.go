package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/database"
	"offlinesync/internal/domain"
	"offlinesync/internal/models"
	"offlinesync/internal/repository"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, store string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
logging:
  level: error
  output: stderr
store:
  driver: %s
  path: %s
remote:
  base_url: http://localhost:1
exports:
  path: %s
`, store, filepath.Join(dir, "sync.db"), filepath.Join(dir, "exports"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "custom.yaml", configPath("custom.yaml"))

	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, "configs/config.yaml", configPath(""))

	t.Setenv("CONFIG_PATH", "/etc/syncd.yaml")
	assert.Equal(t, "/etc/syncd.yaml", configPath(""))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(config.RetryConfig{MaxAttempts: 4, RetryDelayMs: 250, MaxDelayMs: 2000, BackoffFactor: 2, Jitter: 0.1})
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, p.RetryDelay)
	assert.Equal(t, 2*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.BackoffFactor)
	assert.Equal(t, 0.1, p.Jitter)
}

func TestOpenStorage(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreMemory}}
		st, err := openStorage(ctx, cfg, &logger)
		require.NoError(t, err)
		defer st.Close()

		assert.IsType(t, &repository.MemoryStore{}, st.store)
		assert.Nil(t, st.deadLetters)
		assert.Nil(t, st.db)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := &config.Config{Store: config.StoreConfig{Driver: config.StoreSQLite, Path: filepath.Join(t.TempDir(), "s.db")}}
		st, err := openStorage(ctx, cfg, &logger)
		require.NoError(t, err)
		defer st.Close()

		assert.IsType(t, &database.DB{}, st.store)
		assert.NotNil(t, st.deadLetters)
		assert.NotNil(t, st.db)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{
			Store: config.StoreConfig{Driver: config.StoreRedis, KeyPrefix: "t:"},
			Redis: config.RedisConfig{Address: mr.Addr()},
		}
		st, err := openStorage(ctx, cfg, &logger)
		require.NoError(t, err)
		defer st.Close()

		assert.IsType(t, &repository.RedisStore{}, st.store)
		assert.IsType(t, &repository.RedisDeadLetters{}, st.deadLetters)
		require.NoError(t, st.store.Set(ctx, "k", json.RawMessage(`1`)))
		assert.True(t, mr.Exists("t:kv:k"))
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := &config.Config{
			Store: config.StoreConfig{Driver: config.StoreRedis},
			Redis: config.RedisConfig{Address: addr},
		}
		_, err := openStorage(ctx, cfg, &logger)
		assert.Error(t, err)
	})

	t.Run("redis with failover", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := &config.Config{
			Store: config.StoreConfig{Driver: config.StoreRedis, Failover: true, Path: filepath.Join(t.TempDir(), "f.db")},
			Redis: config.RedisConfig{Address: mr.Addr()},
		}
		st, err := openStorage(ctx, cfg, &logger)
		require.NoError(t, err)
		defer st.Close()

		assert.IsType(t, &repository.FailoverStore{}, st.store)
		assert.NotNil(t, st.db)
		assert.Same(t, st.db, st.deadLetters)
	})
}

func TestQueueCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, config.StoreSQLite)
	ctx := context.Background()

	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(dir, "sync.db"), &logger)
	require.NoError(t, err)
	pending := []models.PendingAction{models.NewPendingAction(models.ActionUpdate, "budget", json.RawMessage(`{"amount":50}`))}
	require.NoError(t, domain.SetJSON(ctx, db, models.DefaultQueueStorageKey, pending))
	require.NoError(t, db.RecordDeadLetter(ctx, models.NewPendingAction(models.ActionUpdate, "lost", nil), "validation"))
	require.NoError(t, db.Close())

	run := func(args ...string) string {
		var out bytes.Buffer
		cmd := newRootCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
		require.NoError(t, cmd.ExecuteContext(ctx))
		return out.String()
	}

	var listed []models.PendingAction
	require.NoError(t, json.Unmarshal([]byte(run("queue", "list")), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "budget", listed[0].Key)

	var letters []models.DeadLetter
	require.NoError(t, json.Unmarshal([]byte(run("dead-letters", "list")), &letters))
	require.Len(t, letters, 1)
	assert.Equal(t, "lost", letters[0].Action.Key)

	exported := run("dead-letters", "export")
	assert.Contains(t, exported, filepath.Join(dir, "exports"))

	assert.Contains(t, run("queue", "clear"), "queue cleared")
	require.NoError(t, json.Unmarshal([]byte(run("queue", "list")), &listed))
	assert.Empty(t, listed)

	assert.Contains(t, run("dead-letters", "purge", "--older-than", "0s"), "purged 1 dead letters")
}

func TestDeadLettersRequireSink(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir(), config.StoreMemory)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfgPath, "dead-letters", "list"})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "keeps no dead letters")
}
