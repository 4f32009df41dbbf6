package graph_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomlab/loom/internal/presentation/graph"
	"github.com/loomlab/loom/pkg/domain"
	"github.com/loomlab/loom/pkg/expr"
)

func TestGenerateMermaid(t *testing.T) {
	cond, err := expr.Parse("end_conversation == true")
	require.NoError(t, err)

	g := &domain.Graph{
		Name:  "chat",
		Entry: "collect",
		Nodes: map[string]*domain.Node{
			"collect": {Name: "collect", Kind: domain.KindFunction},
			"acquire": {Name: "acquire", Kind: domain.KindControl},
		},
		Transitions: map[string]domain.Transition{
			"collect": {Condition: cond, Then: "acquire", Else: "collect"},
			"acquire": {Next: domain.End},
		},
		InterruptBefore: map[string]struct{}{"collect": {}},
	}

	out := graph.GenerateMermaid(g)

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `collect(("collect ⏸"))`, "entry renders as a circle with a pause marker")
	assert.Contains(t, out, `acquire[["acquire"]]`, "control nodes render as subroutines")
	assert.Contains(t, out, "__end__")
	assert.Contains(t, out, "end_conversation == true")
	assert.Contains(t, out, "collect -- ")
	assert.Contains(t, out, "acquire --> __end__")
}
