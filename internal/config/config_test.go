package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"BlueLedger/internal/config"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load(nil, "")
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.GRPCAddr)
	require.Equal(t, 50, cfg.PersistBatchSize)
	require.Equal(t, 10*time.Millisecond, cfg.PersistFlushTimeout)
	require.Equal(t, int64(100_000), cfg.SnapshotInterval)
	require.False(t, cfg.DisableNATS)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blueledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grpc_addr: \":7000\"\nhttp_addr: \":7001\"\npersist_batch_size: 10\n"), 0o600))

	t.Setenv("BLUE_HTTP_ADDR", ":7002")
	t.Setenv("BLUE_PERSIST_BATCH_SIZE", "20")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("persist-batch-size", 0, "")
	require.NoError(t, flags.Parse([]string{"--persist-batch-size=30"}))

	cfg, err := config.Load(flags, path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.GRPCAddr)
	require.Equal(t, ":7002", cfg.HTTPAddr)
	require.Equal(t, 30, cfg.PersistBatchSize)
}

func TestLoadNamedFileMissing(t *testing.T) {
	_, err := config.Load(nil, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	chdir(t, t.TempDir())
	base, err := config.Load(nil, "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty dsn", func(c *config.Config) { c.PostgresDSN = " " }},
		{"zero channel", func(c *config.Config) { c.PublishChanSize = 0 }},
		{"zero batch", func(c *config.Config) { c.PersistBatchSize = 0 }},
		{"zero flush timeout", func(c *config.Config) { c.PersistFlushTimeout = 0 }},
		{"zero lru", func(c *config.Config) { c.IdempotencyLRUCapacity = 0 }},
		{"nats without url", func(c *config.Config) { c.NATSURL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	noNATS := base
	noNATS.NATSURL = ""
	noNATS.DisableNATS = true
	require.NoError(t, noNATS.Validate())
}

func TestRedacted(t *testing.T) {
	c := config.Config{PostgresDSN: "postgres://blue:secret@db:5432/blueledger?sslmode=disable"}
	require.Equal(t, "postgres://blue:****@db:5432/blueledger?sslmode=disable", c.Redacted())

	c.PostgresDSN = "host=db user=blue"
	require.Equal(t, "host=db user=blue", c.Redacted())
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
