/*
 * backend/trace/tree.go
 *
 * Span tree reconstruction for viewers.
 */

package trace

import "sort"

// SpanTree rebuilds the parent/child tree of a trace, depth-annotating each
// node and ordering siblings by start time. Root spans are taken from the
// trace's recorded root ids, falling back to a scan for parentless spans so
// completed traces with denormalised span storage still render.
func (a *Aggregator) SpanTree(traceID string) ([]*SpanNode, bool) {
	tr, ok := a.GetTrace(traceID)
	if !ok {
		return nil, false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	roots := tr.RootSpanIDs
	if len(roots) == 0 {
		for spanID, span := range tr.Spans {
			if span.ParentSpanID == "" {
				roots = append(roots, spanID)
			}
		}
	}

	nodes := make([]*SpanNode, 0, len(roots))
	for _, spanID := range roots {
		if node := buildNode(tr, spanID, 0); node != nil {
			nodes = append(nodes, node)
		}
	}
	sortNodes(nodes)
	return nodes, true
}

func buildNode(tr *Trace, spanID string, depth int) *SpanNode {
	span, ok := tr.Spans[spanID]
	if !ok {
		return nil
	}
	node := &SpanNode{Span: span, Depth: depth}
	for _, childID := range span.ChildSpanIDs {
		if child := buildNode(tr, childID, depth+1); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	sortNodes(node.Children)
	return node
}

func sortNodes(nodes []*SpanNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].StartTime < nodes[j].StartTime
	})
}
