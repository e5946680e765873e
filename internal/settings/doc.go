// Package settings persists per-device key/value settings.
//
// Settings are plain strings keyed by (device ID, key). Two kinds of writes
// exist:
//
//   - System writes (Set, Remove) record what the bridge observed on the
//     hardware. They never notify subscribers.
//   - User changes (Update) come from an operator through the API or the
//     bus. Every subscriber sees the change before it is stored, and any
//     subscriber error rejects the whole change so nothing is written.
//
// SQLiteStore backs production; MemoryStore backs tests and ephemeral runs.
package settings
