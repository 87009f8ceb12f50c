// Package memory keeps per-conversation chat history for the agent.
//
// Drivers:
//   - "memory": in-process only
//   - "file":   JSON document plus an append-only journal
//   - "sqlite": SQLite database file (modernc, no cgo)
//
// Recall adds semantic search over past turns on top of any driver.
package memory
