// Package thread provides ThreadStore implementations: a process local
// InMemoryStore, a file backed SQLiteStore and a PostgresStore for
// deployments running several server processes against one database.
//
// All backends share the same contract (core.ThreadStore) and pass the same
// conformance suite, so switching backends is configuration, not code.
package thread
