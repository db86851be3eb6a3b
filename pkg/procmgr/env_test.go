package procmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/mockstore/pkg/launcher"
)

func TestEnvOptions(t *testing.T) {
	t.Setenv(EnvVersion, "3.0.15")
	t.Setenv(EnvPort, "28017")
	t.Setenv(EnvBindAddress, "0.0.0.0")
	t.Setenv(EnvStorageDir, "/data/ms")
	t.Setenv(EnvStorageEngine, "")

	opts, err := EnvOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	c := NewController(append(opts, WithBindAddress("127.0.0.2"))...)
	cfg := c.Config()
	assert.Equal(t, "3.0.15", cfg.Version)
	assert.Equal(t, 28017, cfg.Port)
	assert.Equal(t, "/data/ms", cfg.StorageDirectory)
	assert.Equal(t, "127.0.0.2", cfg.BindAddress, "later options win")
}

func TestEnvOptions_Unset(t *testing.T) {
	for _, k := range []string{EnvVersion, EnvPort, EnvBindAddress, EnvStorageDir, EnvStorageEngine} {
		t.Setenv(k, "")
	}

	opts, err := EnvOptions()
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestEnvOptions_InvalidPort(t *testing.T) {
	for _, v := range []string{"mongo", "70000"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv(EnvPort, v)
			_, err := EnvOptions()
			require.Error(t, err)
			assert.Equal(t, launcher.ErrorCodeInvalidConfiguration, launcher.CodeOf(err))
		})
	}
}
