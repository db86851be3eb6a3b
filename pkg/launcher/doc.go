// Package launcher starts the ephemeral backing stores that intercepted
// connections are redirected to.
//
// A Launcher starts one store per call and blocks until it accepts
// connections. The controller in pkg/procmgr owns the retry policy: when
// Launch fails with ErrorCodePortContention it tries the next port, every
// other error is fatal for that launch cycle.
//
// # Launchers
//
// Mongod runs a local mongod binary. The binary on PATH is used unless
// MONGODB_LOCAL_BUILD points at a directory holding a locally built one:
//
//	l := launcher.NewMongod()
//	proc, err := l.Launch(ctx, launcher.Spec{
//	    BindAddress:      "127.0.0.1",
//	    Port:             27017,
//	    StorageDirectory: "/tmp/.mockstore/27017",
//	    StorageEngine:    launcher.EngineEphemeralForTest,
//	})
//	if err != nil {
//	    return err
//	}
//	defer proc.Shutdown()
//
// Container runs the official mongo image through testcontainers, and
// Miniredis runs an in-process Redis stand-in for the Redis adapter.
//
// # Storage engines
//
// StorageEngineFor maps a store version onto the in-memory engine it
// understands: 3.2 and later use ephemeralForTest, older versions use
// inMemoryExperiment.
//
// # Errors
//
// All launch failures are *Error values carrying an ErrorCode, context and a
// suggestion:
//
//	if launcher.IsPortContention(err) {
//	    spec.Port++
//	}
package launcher
