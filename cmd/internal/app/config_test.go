package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqualens/cmd/identity"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"AQUALENS_STORE_BACKEND", "AQUALENS_HTTP_ADDR", "AQUALENS_DATABASE_URL", "AQUALENS_REDIS_URL"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, "aqualens", cfg.Namespace)
	assert.True(t, cfg.SyncEnabled)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("AQUALENS_STORE_BACKEND", "Postgres")
	t.Setenv("AQUALENS_DATABASE_URL", "postgres://localhost/aqualens")
	t.Setenv("AQUALENS_DB_MAX_CONNS", "-3")
	t.Setenv("AQUALENS_SYNC_ENABLED", "false")
	t.Setenv("AQUALENS_HTTP_READ_TIMEOUT", "bogus")

	cfg := LoadConfig()
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
	assert.False(t, cfg.SyncEnabled)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	base := Config{StoreBackend: BackendMemory, LogFormat: "json"}
	cases := map[string]func(*Config){
		"unknown backend":   func(c *Config) { c.StoreBackend = "etcd" },
		"redis without url": func(c *Config) { c.StoreBackend = BackendRedis },
		"pg without url":    func(c *Config) { c.StoreBackend = BackendPostgres },
		"log format":        func(c *Config) { c.LogFormat = "xml" },
		"ready needs db":    func(c *Config) { c.ReadinessRequireDB = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("AQUALENS_DOTENV_PROBE=from-file\nAQUALENS_DOTENV_KEEP=from-file\n"), 0o600))

	t.Setenv("AQUALENS_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("AQUALENS_DOTENV_PROBE"))
	t.Setenv("AQUALENS_DOTENV_KEEP", "from-env")

	loaded, err := LoadDotEnv(path)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "from-file", os.Getenv("AQUALENS_DOTENV_PROBE"))
	assert.Equal(t, "from-env", os.Getenv("AQUALENS_DOTENV_KEEP"))

	loaded, err = LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestParseSeed(t *testing.T) {
	t.Setenv("AQUALENS_SEED_PW", "Field-Kit-Password-9!")

	users, err := parseSeed([]byte(`
users:
  - name: Fran
    email: fran@aqualens.local
    role: field_technician
    phone: "+31 20 555 0100"
    password: env:AQUALENS_SEED_PW
`))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, identity.RoleFieldTechnician, users[0].Role)
	assert.Equal(t, "Field-Kit-Password-9!", users[0].Password)
	require.NotNil(t, users[0].Phone)

	bad := map[string]string{
		"unknown role":  "users:\n  - {email: a@b.c, role: chemist, password: x}\n",
		"unknown field": "users:\n  - {email: a@b.c, role: admin, password: x, admin: true}\n",
		"no password":   "users:\n  - {email: a@b.c, role: admin}\n",
	}
	for name, raw := range bad {
		_, err := parseSeed([]byte(raw))
		assert.Error(t, err, name)
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv("AQUALENS_TOKEN_HMAC_KEY", "")
	require.NoError(t, ValidateSecurityConfig(Config{}))
	require.Error(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}))

	t.Setenv("AQUALENS_TOKEN_HMAC_KEY", "short")
	require.Error(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}))

	t.Setenv("AQUALENS_TOKEN_HMAC_KEY", "0123456789abcdef0123456789abcdef")
	require.NoError(t, ValidateSecurityConfig(Config{RequireTokenHMAC: true}))
}
