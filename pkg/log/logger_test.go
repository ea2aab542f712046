package log

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestLogger(t *testing.T) {
	t.Run("level", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.log")
		conf := Default()
		conf.Output = path

		logger, err := NewLogger(conf)
		require.NoError(t, err)

		logger.Debug("debug")
		logger.Info("info", zap.String("foo", "bar"))
		logger.WithSubsystem("swim").Warn("warn")
		require.NoError(t, logger.Sync())

		records := readRecords(t, path)
		require.Len(t, records, 2)
		assert.Equal(t, "info", records[0]["msg"])
		assert.Equal(t, "main", records[0]["subsystem"])
		assert.Equal(t, "bar", records[0]["foo"])
		assert.Equal(t, "warn", records[1]["msg"])
		assert.Equal(t, "swim", records[1]["subsystem"])
	})

	t.Run("subsystems", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.log")
		conf := Default()
		conf.Output = path
		conf.Subsystems = []string{"swim"}

		logger, err := NewLogger(conf)
		require.NoError(t, err)

		logger.Debug("main")
		logger.WithSubsystem("swim").Debug("swim")
		logger.WithSubsystem("swim.relay").Debug("relay")
		logger.WithSubsystem("swimmer").Debug("swimmer")
		require.NoError(t, logger.Sync())

		records := readRecords(t, path)
		require.Len(t, records, 2)
		assert.Equal(t, "swim", records[0]["msg"])
		assert.Equal(t, "relay", records[1]["msg"])
	})

	t.Run("with fields", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.log")
		conf := Default()
		conf.Output = path

		logger, err := NewLogger(conf)
		require.NoError(t, err)

		logger.With(zap.String("node-id", "3")).Info("foo")
		require.NoError(t, logger.Sync())

		records := readRecords(t, path)
		require.Len(t, records, 1)
		assert.Equal(t, "3", records[0]["node-id"])
	})

	t.Run("std logger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "out.log")
		conf := Default()
		conf.Output = path

		logger, err := NewLogger(conf)
		require.NoError(t, err)

		std := logger.WithSubsystem("admin").StdLogger(zapcore.WarnLevel)
		std.Println("tls handshake error")
		logger.StdLogger(zapcore.DebugLevel).Println("dropped")
		require.NoError(t, logger.Sync())

		records := readRecords(t, path)
		require.Len(t, records, 1)
		assert.Equal(t, "tls handshake error", records[0]["msg"])
		assert.Equal(t, "warn", records[0]["level"])
		assert.Equal(t, "admin", records[0]["subsystem"])
	})
}

func TestSubsystemEnabled(t *testing.T) {
	enabled := []string{"swim", "admin.access"}

	assert.True(t, subsystemEnabled("swim", enabled))
	assert.True(t, subsystemEnabled("swim.relay", enabled))
	assert.True(t, subsystemEnabled("admin.access", enabled))
	assert.False(t, subsystemEnabled("admin", enabled))
	assert.False(t, subsystemEnabled("swimmer", enabled))
	assert.False(t, subsystemEnabled("swim", nil))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	conf := Default()
	conf.Level = "trace"
	assert.Error(t, conf.Validate())

	conf = Default()
	conf.Encoding = "xml"
	assert.Error(t, conf.Validate())
}
