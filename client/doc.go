// Package client consumes the speakmesh event stream.
//
// Every Turn opens its own connection and runs through an explicit state
// machine (idle, awaiting-first-event, streaming, reconnecting, terminal).
// Events are decoded incrementally and dispatched by type into a
// Conversation, the local view of the thread. When the stream breaks before
// the terminal event the same Turn is requested again, carrying the same
// turn id, with exponential backoff; the utterance is never appended twice.
package client
