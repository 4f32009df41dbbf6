// Package graph renders a compiled workflow as a Mermaid flowchart for
// documentation and the `loom graph` command.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/loomlab/loom/pkg/domain"
)

// GenerateMermaid produces Mermaid flowchart syntax for a compiled graph.
// Shapes by kind: prompt [/input/], function [rectangle], control
// [[subroutine]]. The entry node renders as a circle, END as a double
// circle, and interrupt-gated nodes carry a pause marker.
func GenerateMermaid(g *domain.Graph) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	names := make([]string, 0, len(g.Nodes))
	for name := range g.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	hasEnd := false
	for _, name := range names {
		node := g.Nodes[name]
		safeID := sanitizeID(name)

		opener, closer := "[", "]"
		switch {
		case name == g.Entry:
			opener, closer = "((", "))"
		case node.Kind == domain.KindControl:
			opener, closer = "[[", "]]"
		case node.Kind == domain.KindPrompt:
			opener, closer = "[/", "/]"
		}

		label := name
		if g.Interrupts(name) {
			label += " ⏸"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, label, closer))

		tr := g.Transitions[name]
		if tr.Conditional() {
			cond := strings.ReplaceAll(tr.Condition.String(), `"`, "'")
			writeEdge(&sb, safeID, tr.Then, fmt.Sprintf("-- \"%s\" -->", cond), &hasEnd)
			writeEdge(&sb, safeID, tr.Else, fmt.Sprintf("-- \"!(%s)\" -->", cond), &hasEnd)
		} else {
			writeEdge(&sb, safeID, tr.Next, "-->", &hasEnd)
		}
	}

	if hasEnd {
		sb.WriteString("    __end__(((\"END\")))\n")
	}
	return sb.String()
}

func writeEdge(sb *strings.Builder, from, to, arrow string, hasEnd *bool) {
	target := sanitizeID(to)
	if to == domain.End {
		target = "__end__"
		*hasEnd = true
	}
	sb.WriteString(fmt.Sprintf("    %s %s %s\n", from, arrow, target))
}

func sanitizeID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
