// Package scheduler runs named periodic tasks, each on its own loop.
//
// Every loop sleeps a jittered interval between runs so no task settles into a
// fixed, externally observable cadence. The package is responsible for:
//   - registering, removing, enabling and disabling tasks
//   - isolating action failures (errors and panics) per task
//   - point-in-time status snapshots for monitoring
package scheduler
