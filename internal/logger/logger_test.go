package logger_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/minnowchess/minnow/internal/logger"
)

func TestLogger(t *testing.T) {
	t.Run("StatusBar", func(t *testing.T) {
		t.Run("renders pending over slots", func(t *testing.T) {
			bar := logger.StatusBar{Pending: 3, Slots: 8}
			require.Equal(t, "[3/8]", bar.String())
		})
	})

	t.Run("ProgressAt", func(t *testing.T) {
		t.Run("prefers the URL", func(t *testing.T) {
			at := logger.ProgressAt{BatchID: "abc123", URL: "https://example.com/game#4"}
			require.Equal(t, "https://example.com/game#4", at.String())
		})

		t.Run("falls back to the batch id", func(t *testing.T) {
			at := logger.ProgressAt{BatchID: "abc123"}
			require.Equal(t, "abc123", at.String())
		})
	})

	t.Run("Progress", func(t *testing.T) {
		t.Run("is silent on a non-terminal at info level", func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewForWriter(&buf, false, zapcore.InfoLevel)

			log.Progress(logger.StatusBar{Pending: 1, Slots: 2}, logger.ProgressAt{BatchID: "abc"})
			require.Empty(t, buf.String())
		})

		t.Run("logs at debug level on a non-terminal", func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewForWriter(&buf, false, zapcore.DebugLevel)

			log.Progress(logger.StatusBar{Pending: 1, Slots: 2}, logger.ProgressAt{BatchID: "abc"})
			require.Contains(t, buf.String(), "[1/2]")
			require.Contains(t, buf.String(), "abc")
		})

		t.Run("rewrites the line in place on a terminal", func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewForWriter(&buf, true, zapcore.InfoLevel)

			log.Progress(logger.StatusBar{Pending: 1, Slots: 2}, logger.ProgressAt{BatchID: "abc"})
			log.Progress(logger.StatusBar{Pending: 0, Slots: 2}, logger.ProgressAt{BatchID: "abc"})

			out := buf.String()
			require.Equal(t, 2, strings.Count(out, "\r"))
			require.Contains(t, out, "[1/2] abc")
			require.Contains(t, out, "[0/2] abc")
			require.NotContains(t, out, "\n")
		})

		t.Run("clears the transient line before logging", func(t *testing.T) {
			var buf bytes.Buffer
			log := logger.NewForWriter(&buf, true, zapcore.InfoLevel)

			log.Progress(logger.StatusBar{Pending: 1, Slots: 2}, logger.ProgressAt{BatchID: "abc"})
			log.Info("something happened")

			out := buf.String()
			require.Contains(t, out, "something happened")
			// The progress line is blanked before the log entry starts.
			require.Greater(t, strings.Count(out, "\r"), 1)
		})
	})
}
