package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigValue_Precedence(t *testing.T) {
	t.Setenv("READTRAIL_TEST_KEY", "from-env")

	assert.Equal(t, "from-flag", getConfigValue("from-flag", "READTRAIL_TEST_KEY", "default"))
	assert.Equal(t, "from-env", getConfigValue("", "READTRAIL_TEST_KEY", "default"))
	assert.Equal(t, "default", getConfigValue("", "READTRAIL_TEST_MISSING", "default"))
}

func TestGetBoolConfigValue(t *testing.T) {
	t.Setenv("READTRAIL_BOOL", "yes")
	assert.True(t, getBoolConfigValue("", "READTRAIL_BOOL", false))

	t.Setenv("READTRAIL_BOOL", "0")
	assert.False(t, getBoolConfigValue("", "READTRAIL_BOOL", true))

	assert.True(t, getBoolConfigValue("", "READTRAIL_BOOL_MISSING", true))
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# comment\nREADTRAIL_FILE_KEY=file-value\nREADTRAIL_QUOTED=\"quoted\"\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0o600))

	t.Setenv("READTRAIL_FILE_KEY", "")
	os.Unsetenv("READTRAIL_FILE_KEY")
	os.Unsetenv("READTRAIL_QUOTED")
	t.Cleanup(func() {
		os.Unsetenv("READTRAIL_FILE_KEY")
		os.Unsetenv("READTRAIL_QUOTED")
	})

	require.NoError(t, loadEnvFile(envPath))
	assert.Equal(t, "file-value", os.Getenv("READTRAIL_FILE_KEY"))
	assert.Equal(t, "quoted", os.Getenv("READTRAIL_QUOTED"))
}

func TestLoadEnvFile_DoesNotOverrideExisting(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("READTRAIL_KEEP=file\n"), 0o600))

	t.Setenv("READTRAIL_KEEP", "env")
	require.NoError(t, loadEnvFile(envPath))
	assert.Equal(t, "env", os.Getenv("READTRAIL_KEEP"))
}

func TestValidate(t *testing.T) {
	valid := &Config{
		App:    AppConfig{Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Data:   DataConfig{BasePath: "/tmp/readtrail"},
		Server: ServerConfig{Port: "8080", ReadTimeout: 15 * time.Second},
	}
	require.NoError(t, valid.Validate())

	badEnv := *valid
	badEnv.App.Environment = "testing"
	assert.Error(t, badEnv.Validate())

	badLevel := *valid
	badLevel.Logger.Level = "verbose"
	assert.Error(t, badLevel.Validate())

	prodNoToken := *valid
	prodNoToken.App.Environment = "production"
	assert.Error(t, prodNoToken.Validate())

	prodWithToken := prodNoToken
	prodWithToken.Auth.Token = "secret"
	assert.NoError(t, prodWithToken.Validate())
}

func TestExpandPath(t *testing.T) {
	got, err := expandPath("", "/default/path")
	require.NoError(t, err)
	assert.Equal(t, "/default/path", got)

	got, err = expandPath("~/readtrail", "")
	require.NoError(t, err)
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "readtrail"), got)
}
