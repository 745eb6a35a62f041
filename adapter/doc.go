// Package adapter defines the narrow, task-shaped interfaces the turn graph
// and the auxiliary services call into: classification, reply generation,
// grammar analysis, speech in and out, retrieval, keyword extraction and
// practice summaries.
//
// Implementations live in sub-packages:
//   - anthropic: Claude backed text tasks
//   - openai: speech synthesis, transcription and embeddings
//   - mock: deterministic offline adapters for development and tests
//
// Every external call made by the engine goes through Invoke, which bounds it
// with a timeout and converts panics into errors.
package adapter
