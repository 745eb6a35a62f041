package core

import (
	"errors"
	"strings"
	"testing"
)

func TestThread_AppendAssignsPositions(t *testing.T) {
	th := NewThread("t-1")
	p0 := th.Append(Message{Role: RoleUser, Content: "hello"})
	p1 := th.Append(Message{Role: RoleAssistant, Content: "hi there"})
	if p0 != 0 || p1 != 1 {
		t.Fatalf("unexpected positions %d %d", p0, p1)
	}
	if th.Messages[1].Position != 1 || th.Messages[1].Created.IsZero() {
		t.Fatalf("append did not stamp message: %+v", th.Messages[1])
	}
}

func TestThread_AttachCorrectionInvariants(t *testing.T) {
	th := NewThread("t-1")
	th.Append(Message{Role: RoleUser, Content: "I go to school yesterday"})
	th.Append(Message{Role: RoleAssistant, Content: "Nice!"})

	if err := th.AttachCorrection(Correction{MessagePosition: 1}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for assistant message, got %v", err)
	}
	if err := th.AttachCorrection(Correction{MessagePosition: 7}); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected ErrInvalidReference for missing message, got %v", err)
	}
	if err := th.AttachCorrection(Correction{MessagePosition: 0, Corrected: "I went to school yesterday", Issues: []string{"past tense"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := th.AttachCorrection(Correction{MessagePosition: 0}); !errors.Is(err, ErrDuplicateCorrection) {
		t.Fatalf("expected ErrDuplicateCorrection, got %v", err)
	}

	c, ok := th.CorrectionFor(0)
	if !ok || c.Corrected != "I went to school yesterday" || c.NoChanges() {
		t.Fatalf("unexpected correction %+v", c)
	}
}

func TestThread_CloneIsDeep(t *testing.T) {
	th := NewThread("t-1")
	th.Append(Message{Role: RoleUser, Content: "a"})
	_ = th.AttachCorrection(Correction{MessagePosition: 0, Issues: []string{"x"}})

	clone := th.Clone()
	clone.Messages[0].Content = "changed"
	clone.Corrections[0].Issues[0] = "changed"
	clone.Append(Message{Role: RoleAssistant, Content: "b"})

	if th.Messages[0].Content != "a" || th.Corrections[0].Issues[0] != "x" || len(th.Messages) != 1 {
		t.Fatalf("clone mutated original: %+v", th)
	}
}

func TestThread_TurnLookupAndHistory(t *testing.T) {
	th := NewThread("t-1")
	th.Append(Message{Role: RoleUser, Content: "one", TurnID: "turn-a"})
	th.Append(Message{Role: RoleAssistant, Content: "reply", TurnID: "turn-a"})
	th.Append(Message{Role: RoleUser, Content: "two", TurnID: "turn-b"})
	_ = th.AttachCorrection(Correction{MessagePosition: 2, Issues: []string{}})

	if !th.HasTurn("turn-a") || th.HasTurn("turn-z") || th.HasTurn("") {
		t.Fatal("HasTurn returned unexpected result")
	}
	if got := th.TurnMessages("turn-a"); len(got) != 2 {
		t.Fatalf("expected 2 turn messages, got %d", len(got))
	}
	last, ok := th.LastUserMessage()
	if !ok || last.Content != "two" {
		t.Fatalf("unexpected last user message %+v", last)
	}

	history := th.History()
	if len(history) != 3 || history[0].Correction != nil || history[2].Correction == nil {
		t.Fatalf("history did not join corrections: %+v", history)
	}
	if !history[2].Correction.NoChanges() {
		t.Fatal("empty issue list should mean no changes")
	}
}

func TestUnavailableCorrection(t *testing.T) {
	c := UnavailableCorrection(3, "text")
	if !c.Unavailable || c.NoChanges() || c.MessagePosition != 3 {
		t.Fatalf("unexpected degraded correction %+v", c)
	}
}

func TestValidateID(t *testing.T) {
	valid := []string{"abc", "A_b-9", strings.Repeat("x", MaxThreadIDLength)}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("expected %q to be valid: %v", id, err)
		}
	}
	invalid := []string{"", "has space", "../etc", "semi;colon", strings.Repeat("x", MaxThreadIDLength+1)}
	for _, id := range invalid {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidThreadID) {
			t.Errorf("expected %q to be rejected, got %v", id, err)
		}
	}
}

func TestTurnRequest_Validate(t *testing.T) {
	cases := []struct {
		name string
		req  TurnRequest
		ok   bool
	}{
		{"text", TurnRequest{Text: "hello"}, true},
		{"audio", TurnRequest{Audio: []byte{1}}, true},
		{"empty", TurnRequest{Text: "   "}, false},
		{"both", TurnRequest{Text: "hi", Audio: []byte{1}}, false},
		{"too long", TurnRequest{Text: strings.Repeat("a", MaxUtteranceLength+1)}, false},
		{"bad thread", TurnRequest{Text: "hi", ThreadID: "a b"}, false},
		{"bad turn", TurnRequest{Text: "hi", TurnID: "a/b"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNodeRoles(t *testing.T) {
	expected := map[NodeID]ErrorRole{
		NodeTranscribe: RoleTranscription,
		NodeClassify:   RoleClassification,
		NodeGenerate:   RoleReply,
		NodeRedirect:   RoleReply,
		NodeAnalyze:    RoleCorrection,
		NodeSynthesize: RoleAudio,
		NodeID("x"):    RoleTurn,
	}
	for node, role := range expected {
		if node.Role() != role {
			t.Errorf("%s: expected role %s, got %s", node, role, node.Role())
		}
	}
}

func TestTurnContext_OutputsAndSnapshot(t *testing.T) {
	th := NewThread("t-1")
	th.Append(Message{Role: RoleUser, Content: "hi"})

	tc := NewTurnContext(Turn{ThreadID: "t-1", TurnID: "turn-1"}, TurnRequest{Text: "hi"}, nil, nil)
	if tc.Turn.Started.IsZero() {
		t.Fatal("turn start not stamped")
	}
	tc.SetSnapshot(th)
	th.Append(Message{Role: RoleAssistant, Content: "later"})
	if got := tc.Snapshot(); len(got.Messages) != 1 {
		t.Fatalf("snapshot should be isolated, got %d messages", len(got.Messages))
	}

	if _, ok := tc.UserMessage(); ok {
		t.Fatal("user message should be unset")
	}
	tc.SetUserMessage(th.Messages[0])
	if m, ok := tc.UserMessage(); !ok || m.Content != "hi" {
		t.Fatalf("unexpected user message %+v", m)
	}

	tc.SetOutput(NodeClassify, Verdict{Allowed: true})
	out, ok := tc.Output(NodeClassify)
	if !ok || !out.(Verdict).Allowed {
		t.Fatalf("unexpected output %+v", out)
	}
	tc.LogDebug("noop logger must not panic")
}
