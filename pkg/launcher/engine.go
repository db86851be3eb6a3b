package launcher

import (
	"fmt"

	"github.com/blang/semver/v4"
)

// Storage engines used for ephemeral stores
const (
	EngineEphemeralForTest   = "ephemeralForTest"
	EngineInMemoryExperiment = "inMemoryExperiment"
)

// engineTable maps the lowest store version an entry applies to onto the
// in-memory engine keyword that version understands. Ordered newest first.
var engineTable = []struct {
	since  semver.Version
	engine string
}{
	{semver.MustParse("3.2.0"), EngineEphemeralForTest},
	{semver.MustParse("0.0.0"), EngineInMemoryExperiment},
}

// StorageEngineFor selects the storage engine for a store version
func StorageEngineFor(version string) (string, error) {
	v, err := semver.ParseTolerant(version)
	if err != nil {
		return "", fmt.Errorf("parse version %q: %w", version, err)
	}
	// pre-release tags must not push 3.2.0-rc1 below 3.2.0
	v.Pre = nil
	v.Build = nil

	for _, entry := range engineTable {
		if v.GTE(entry.since) {
			return entry.engine, nil
		}
	}
	return "", fmt.Errorf("no storage engine for version %s", version)
}
