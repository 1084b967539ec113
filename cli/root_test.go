package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/radiolink/config"
)

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(context.Background(), "--config", filepath.Join(t.TempDir(), "none.yaml"), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "radiolink version "+version)
}

func TestPersistentFlagsOverrideConfig(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	_, err := executeCommand(context.Background(),
		"--config", writeTestConfig(t),
		"--variant", "s1",
		"--log-level", "debug",
		"--port", "/dev/ttyUSB1:57600",
		"version")
	require.NoError(t, err)

	require.NotNil(t, cfg)
	assert.Equal(t, "s1", cfg.Radio.Variant)
	assert.Equal(t, "/dev/ttyUSB1:57600", cfg.Radio.Port)
	assert.Equal(t, "memory", cfg.Stats.Backend)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
}

func TestPersistentFlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown variant", []string{"--variant", "zigbee3"}},
		{"bad port", []string{"--port", "/dev/ttyUSB0:fast"}},
		{"bad log level", []string{"--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, tt.args...)
			_, err := executeCommand(context.Background(), append(args, "version")...)
			assert.ErrorIs(t, err, config.ErrInvalid)
		})
	}
}

func TestBadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("radio: [unclosed"), 0o600))

	_, err := executeCommand(context.Background(), "--config", path, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestConfigureLogging(t *testing.T) {
	defer func() {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}()

	require.NoError(t, configureLogging(config.Logging{Level: "warn", Format: "json"}))
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, configureLogging(config.Logging{Level: "info", Format: "text"}))
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, configureLogging(config.Logging{Level: "chatty"}))
}
