package internal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minnowchess/minnow/internal"
)

func TestConfig(t *testing.T) {
	writeFile := func(t *testing.T, content string) string {
		t.Helper()

		path := filepath.Join(t.TempDir(), "minnow.yml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("LoadConfig", func(t *testing.T) {
		t.Run("returns defaults when no file exists", func(t *testing.T) {
			config, err := internal.LoadConfig(filepath.Join(t.TempDir(), "minnow.yml"), true, nil)
			require.NoError(t, err)
			require.Equal(t, internal.DefaultEndpoint, config.Endpoint)
			require.Equal(t, "auto", config.Cores)
			require.Equal(t, internal.DefaultEnginePath, config.Engine.Path)
			require.Equal(t, "minnow.db", config.Journal)
		})

		t.Run("reads settings from the file", func(t *testing.T) {
			path := writeFile(t, `
endpoint: https://queue.example.com/api
key: some-key
cores: "4"
engine:
  path: /usr/bin/stockfish
  hash: 64
  threads: 2
backlog:
  user: short
  system: 2h
metrics_addr: 127.0.0.1:9666
journal: history.db
`)

			config, err := internal.LoadConfig(path, false, nil)
			require.NoError(t, err)
			require.Equal(t, "https://queue.example.com/api", config.Endpoint)
			require.Equal(t, "some-key", config.Key)
			require.Equal(t, "4", config.Cores)
			require.Equal(t, "/usr/bin/stockfish", config.Engine.Path)
			require.Equal(t, 64, config.Engine.Hash)
			require.Equal(t, 2, config.Engine.Threads)
			require.Equal(t, "short", config.Backlog.User)
			require.Equal(t, "2h", config.Backlog.System)
			require.Equal(t, "127.0.0.1:9666", config.MetricsAddr)
			require.Equal(t, "history.db", config.Journal)
		})

		t.Run("environment overrides the file", func(t *testing.T) {
			path := writeFile(t, "endpoint: https://file.example.com\nkey: file-key\n")

			config, err := internal.LoadConfig(path, false, []string{
				"MINNOW_ENDPOINT=https://env.example.com",
				"MINNOW_KEY=env-key",
				"MINNOW_CORES=2",
				"MINNOW_ENGINE=/opt/sf",
				"OTHER=ignored",
			})
			require.NoError(t, err)
			require.Equal(t, "https://env.example.com", config.Endpoint)
			require.Equal(t, "env-key", config.Key)
			require.Equal(t, "2", config.Cores)
			require.Equal(t, "/opt/sf", config.Engine.Path)
		})

		t.Run("skips the file when noConf is set", func(t *testing.T) {
			path := writeFile(t, "endpoint: https://file.example.com\n")

			config, err := internal.LoadConfig(path, true, nil)
			require.NoError(t, err)
			require.Equal(t, internal.DefaultEndpoint, config.Endpoint)
		})

		t.Run("errors when an explicitly named file is missing", func(t *testing.T) {
			_, err := internal.LoadConfig(filepath.Join(t.TempDir(), "nope.yml"), false, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "nope.yml")
		})

		t.Run("errors on malformed YAML", func(t *testing.T) {
			path := writeFile(t, "endpoint: [unclosed\n")

			_, err := internal.LoadConfig(path, false, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), "YAML")
		})
	})

	t.Run("Validate", func(t *testing.T) {
		t.Run("accepts the defaults", func(t *testing.T) {
			require.NoError(t, internal.DefaultConfig().Validate())
		})

		t.Run("rejects a non-http endpoint", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Endpoint = "ftp://queue.example.com"
			require.Error(t, config.Validate())
		})

		t.Run("rejects an empty engine path", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Engine.Path = ""
			require.Error(t, config.Validate())
		})

		t.Run("rejects a bad backlog", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Backlog.User = "sometimes"
			require.Error(t, config.Validate())
		})
	})

	t.Run("ResolveCores", func(t *testing.T) {
		t.Run("auto leaves one core free", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Cores = "auto"

			n, err := config.ResolveCores()
			require.NoError(t, err)
			require.GreaterOrEqual(t, n, 1)
		})

		t.Run("accepts numbers", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Cores = "3"

			n, err := config.ResolveCores()
			require.NoError(t, err)
			require.Equal(t, 3, n)
		})

		t.Run("rejects zero", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Cores = "0"

			_, err := config.ResolveCores()
			require.Error(t, err)
		})

		t.Run("rejects garbage", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Cores = "plenty"

			_, err := config.ResolveCores()
			require.Error(t, err)
		})
	})

	t.Run("BacklogConfig", func(t *testing.T) {
		t.Run("empty means no threshold", func(t *testing.T) {
			d, err := internal.BacklogConfig{}.UserDuration()
			require.NoError(t, err)
			require.Equal(t, time.Duration(0), d)
		})

		t.Run("short and long keywords", func(t *testing.T) {
			d, err := internal.BacklogConfig{User: "short"}.UserDuration()
			require.NoError(t, err)
			require.Equal(t, 30*time.Second, d)

			d, err = internal.BacklogConfig{System: "long"}.SystemDuration()
			require.NoError(t, err)
			require.Equal(t, time.Hour, d)
		})

		t.Run("durations", func(t *testing.T) {
			d, err := internal.BacklogConfig{User: "90s"}.UserDuration()
			require.NoError(t, err)
			require.Equal(t, 90*time.Second, d)
		})

		t.Run("rejects negative durations", func(t *testing.T) {
			_, err := internal.BacklogConfig{User: "-5s"}.UserDuration()
			require.Error(t, err)
		})
	})

	t.Run("EndpointURL", func(t *testing.T) {
		t.Run("strips a trailing slash", func(t *testing.T) {
			config := internal.DefaultConfig()
			config.Endpoint = "https://queue.example.com/api/"

			u, err := config.EndpointURL()
			require.NoError(t, err)
			require.Equal(t, "/api", u.Path)
		})
	})

	t.Run("WriteConfig", func(t *testing.T) {
		t.Run("round-trips through LoadConfig", func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "minnow.yml")

			config := internal.DefaultConfig()
			config.Key = "round-trip"
			config.Backlog.User = "short"
			require.NoError(t, internal.WriteConfig(path, config))

			loaded, err := internal.LoadConfig(path, false, nil)
			require.NoError(t, err)
			require.Equal(t, config, loaded)
		})
	})
}
