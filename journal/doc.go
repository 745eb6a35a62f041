// Package journal records the events of each turn so that a client which
// lost its connection can resubmit the same turn id and receive the stream
// again instead of re-running the turn.
//
// A Log is open while its turn runs; subscribers replay what was recorded so
// far and then tail new events until the log is closed. Closed logs are
// retained in a bounded LRU cache keyed by turn id.
package journal
