package core

// Candidate is one ranked result of a retrieval query. Score is a similarity
// in [0,1]; higher is more relevant.
type Candidate struct {
	ID       string            `json:"id"`
	Keyword  string            `json:"keyword"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
