// Package sqlite provides a SQLite-backed kv.Backend.
//
// One database file can hold many namespaces; each Backend is bound to one.
// Every Apply runs in a single transaction and appends the touched keys to a
// changelog table tagged with the writer's origin id. Watch polls that
// changelog for rows written by other origins, so two processes sharing a
// file see each other's commits.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Schema changes are tracked with PRAGMA user_version and applied by
// runMigrations when the database is opened.
package sqlite
