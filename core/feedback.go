package core

// IssuePattern is a recurring mistake found across a thread's corrections.
type IssuePattern struct {
	Pattern    string `json:"pattern"`
	Frequency  int    `json:"frequency"`
	Suggestion string `json:"suggestion"`
}

// Feedback is the practice advice derived from a thread's corrections.
type Feedback struct {
	Tips           []string       `json:"tips"`
	CommonPatterns []IssuePattern `json:"common_patterns"`
}
