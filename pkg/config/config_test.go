package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/herohde/gambit/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, 1200, cfg.Rating.DefaultRating)
	assert.Equal(t, 32, cfg.Rating.KFactor)
	assert.Equal(t, 100, cfg.Rating.MinRating)
	assert.Equal(t, 3000, cfg.Rating.MaxRating)
	assert.Equal(t, 5, cfg.Security.MaxSessionsPerPlayer)
	assert.False(t, cfg.Database.UseInMemory)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gambit.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[Server]
Port = 9000

[Security]
TokenSecret = "file-secret"

[Matchmaking]
DefaultRatingRange = 75
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "file-secret", cfg.Security.TokenSecret)
	assert.Equal(t, 75, cfg.Matchmaking.DefaultRatingRange)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1200, cfg.Rating.DefaultRating)
	assert.Equal(t, "0.0.0.0", cfg.Server.BindAddress)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestApplyDevMode(t *testing.T) {
	cfg := config.Default()
	base := cfg.Server.MaxRequestsPerMinute

	cfg.ApplyDevMode()

	assert.True(t, cfg.Database.UseInMemory)
	assert.NotEmpty(t, cfg.Security.TokenSecret)
	assert.Equal(t, 10*base, cfg.Server.MaxRequestsPerMinute)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := config.Default()
	cfg.Security.TokenSecret = "secret"
	assert.NoError(t, cfg.Validate())

	bad := cfg
	bad.Server.Port = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Security.TokenSecret = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Rating.MinRating = 4000
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Database.Path = ""
	assert.Error(t, bad.Validate())
}
