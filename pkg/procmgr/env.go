package procmgr

import (
	"os"
	"strconv"

	"github.com/jrepp/mockstore/pkg/launcher"
)

// Process-wide environment flags
const (
	EnvVersion       = "MOCKSTORE_VERSION"
	EnvPort          = "MOCKSTORE_PORT"
	EnvBindAddress   = "MOCKSTORE_BIND"
	EnvStorageDir    = "MOCKSTORE_DBPATH"
	EnvStorageEngine = "MOCKSTORE_STORAGE_ENGINE"
)

// EnvOptions returns one option per environment flag that is set. Options
// passed after them take precedence.
func EnvOptions() ([]Option, error) {
	var opts []Option
	if v := os.Getenv(EnvVersion); v != "" {
		opts = append(opts, WithVersion(v))
	}
	if v := os.Getenv(EnvStorageEngine); v != "" {
		opts = append(opts, WithStorageEngine(v))
	}
	if v := os.Getenv(EnvBindAddress); v != "" {
		opts = append(opts, WithBindAddress(v))
	}
	if v := os.Getenv(EnvStorageDir); v != "" {
		opts = append(opts, WithStorageDirectory(v))
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port < 0 || port > 65535 {
			e := launcher.NewError(launcher.ErrorCodeInvalidConfiguration, "invalid port in environment").
				WithContext("variable", EnvPort).
				WithContext("value", v)
			if err != nil {
				e = e.WithCause(err)
			}
			return nil, e
		}
		opts = append(opts, WithPort(port))
	}
	return opts, nil
}
