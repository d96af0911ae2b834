package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDotEnv_SetsMissingVariables(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# bots\nexport FENIX_FOO=bar\nFENIX_EMPTY=\nFENIX_QUOTED=\"hello world\"\n" +
		"FENIX_JSON='[{\"id\":\"bot-1\"}]'\nFENIX_COMMENTED=1m # dispatch\nnot a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	for _, k := range []string{"FENIX_FOO", "FENIX_EMPTY", "FENIX_QUOTED", "FENIX_JSON", "FENIX_COMMENTED"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	require.NoError(t, LoadDotEnv(path))

	assert.Equal(t, "bar", os.Getenv("FENIX_FOO"))
	assert.Equal(t, "", os.Getenv("FENIX_EMPTY"))
	assert.Equal(t, "hello world", os.Getenv("FENIX_QUOTED"))
	assert.Equal(t, `[{"id":"bot-1"}]`, os.Getenv("FENIX_JSON"))
	assert.Equal(t, "1m", os.Getenv("FENIX_COMMENTED"))
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FENIX_FOO=from_file\n"), 0o644))

	t.Setenv("FENIX_FOO", "from_env")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from_env", os.Getenv("FENIX_FOO"))
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
