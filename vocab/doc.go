// Package vocab suggests more advanced vocabulary for the words a learner
// used. Keywords are extracted from corrected sentences, each keyword is
// matched against an embedded word list held in a chromem-go collection, and
// the resulting pairs are explained by a UsageExplainer.
//
// The index is filled once from a YAML or JSON word list (see LoadWords and
// the index-vocab command) and persisted to disk when a path is configured.
package vocab
