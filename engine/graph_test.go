package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh/core"
)

type stubNode struct {
	passthrough
	id core.NodeID
}

func (n stubNode) ID() core.NodeID { return n.id }

func (n stubNode) Run(context.Context, *core.TurnContext) (any, error) { return nil, nil }

func TestGraph_Validate(t *testing.T) {
	t.Run("missing entry", func(t *testing.T) {
		assert.Error(t, NewGraph("a").Validate())
	})

	t.Run("unknown edge target", func(t *testing.T) {
		g := NewGraph("a").AddNode(stubNode{id: "a"}).Then("a", "b")
		assert.ErrorContains(t, g.Validate(), "not registered")
	})

	t.Run("unknown audio entry", func(t *testing.T) {
		g := NewGraph("a").AddNode(stubNode{id: "a"}).AudioEntry("t")
		assert.Error(t, g.Validate())
	})

	t.Run("cycle", func(t *testing.T) {
		g := NewGraph("a").
			AddNode(stubNode{id: "a"}).
			AddNode(stubNode{id: "b"}).
			AddNode(stubNode{id: "c"}).
			Then("a", "b").Then("b", "c").Then("c", "a")
		assert.ErrorContains(t, g.Validate(), "cycle")
	})

	t.Run("default graph", func(t *testing.T) {
		g := DefaultGraph(newTestAdapters().adapters())
		require.NoError(t, g.Validate())
		assert.True(t, g.AcceptsAudio())
		assert.Equal(t, 6, g.Len())
	})
}

func TestGraph_EntryFor(t *testing.T) {
	a := newTestAdapters()
	g := DefaultGraph(a.adapters())
	assert.Equal(t, core.NodeClassify, g.EntryFor(core.TurnRequest{Text: "hi"}))
	assert.Equal(t, core.NodeTranscribe, g.EntryFor(core.TurnRequest{Audio: []byte{1}}))

	g = DefaultGraph(Adapters{Classifier: a.classifier, Generator: a.generator, Analyzer: a.analyzer})
	assert.False(t, g.AcceptsAudio())
	assert.Equal(t, 4, g.Len())
}

func TestGraph_Successors(t *testing.T) {
	g := NewGraph("a").
		AddNode(stubNode{id: "a"}).
		AddNode(stubNode{id: "b"}).
		AddNode(stubNode{id: "c"}).
		Then("a", "b").
		Route("a", func(core.NodeResult, *core.TurnContext) []core.NodeID { return []core.NodeID{"c"} })

	assert.Equal(t, []core.NodeID{"b", "c"}, g.successors(core.NodeResult{Node: "a"}, nil))
	assert.Equal(t, []core.NodeID{"c"}, g.successors(core.NodeResult{Node: "a", Err: assert.AnError}, nil))
	assert.Empty(t, g.successors(core.NodeResult{Node: "a", Err: assert.AnError, Fatal: true}, nil))
}
