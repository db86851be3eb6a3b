package launcher

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

func TestContainer_Version(t *testing.T) {
	v, err := NewContainer("6.0.14").Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6.0.14", v)

	_, err = NewContainer("latest").Version(context.Background())
	assert.Equal(t, ErrorCodeVersionUnknown, CodeOf(err))
}

func TestIsPortAllocated(t *testing.T) {
	assert.True(t, isPortAllocated(errors.New("Bind for 127.0.0.1:27017 failed: port is already allocated")))
	assert.True(t, isPortAllocated(errors.New("listen tcp 127.0.0.1:27017: bind: address already in use")))
	assert.False(t, isPortAllocated(errors.New("pull access denied")))
}

func TestContainer_Launch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	l := NewContainer("6.0")
	proc, err := l.Launch(ctx, Spec{
		BindAddress:   "127.0.0.1",
		Port:          27617,
		StorageEngine: EngineEphemeralForTest,
	})
	if err != nil && CodeOf(err) == ErrorCodeLaunchFailed {
		// 7.0 dropped ephemeralForTest; older images keep it
		t.Skipf("image rejected the storage engine: %v", err)
	}
	require.NoError(t, err)
	defer proc.Shutdown()

	conn, err := net.DialTimeout("tcp", proc.Addr(), 5*time.Second)
	require.NoError(t, err)
	conn.Close()
}
