// Package hierarchy checks the structural rules of a node tree: acyclic child
// links and legal parent/child assignments.
package hierarchy

import (
	"sort"

	"github.com/starford/treeapp/internal/apperr"
	"github.com/starford/treeapp/internal/models"
)

// ValidateHierarchy walks the descendants of every node and fails with an
// *apperr.CycleError naming the first node (in id order) whose walk revisits
// an id already on its current path. A node reachable through two separate
// branches is not a cycle.
func ValidateHierarchy(nodes map[string]*models.Node) error {
	w := newCycleWalker(nodes)
	for _, id := range sortedIDs(nodes) {
		if w.onCycle(id) {
			return &apperr.CycleError{NodeID: id}
		}
	}
	return nil
}

// ValidateParentChild reports whether child may be attached to parent.
func ValidateParentChild(parent, child *models.Node) error {
	switch {
	case parent.ID == child.ID:
		return apperr.ErrSelfParent
	case !parent.IsFolder():
		return apperr.ErrNotAFolder
	case child.HasParent() && child.ParentID != parent.ID:
		return apperr.ErrAlreadyParented
	}
	return nil
}

// IsDescendant reports whether candidate lies in the subtree below ancestor.
func IsDescendant(nodes map[string]*models.Node, ancestor, candidate string) bool {
	start, ok := nodes[ancestor]
	if !ok {
		return false
	}
	seen := map[string]struct{}{ancestor: {}}
	queue := append([]string{}, start.Children...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == candidate {
			return true
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if n, ok := nodes[id]; ok {
			queue = append(queue, n.Children...)
		}
	}
	return false
}

type frame struct {
	id   string
	next int
}

// cycleWalker remembers, across walks, which nodes have a subtree free of
// back-edges (done) and which reach one (cyclic), so shared subtrees are
// explored once.
type cycleWalker struct {
	nodes  map[string]*models.Node
	done   map[string]struct{}
	cyclic map[string]struct{}
}

func newCycleWalker(nodes map[string]*models.Node) *cycleWalker {
	return &cycleWalker{
		nodes:  nodes,
		done:   make(map[string]struct{}),
		cyclic: make(map[string]struct{}),
	}
}

// onCycle runs a depth-first walk from start and reports whether it revisits
// an id on the current path. Children missing from the map are skipped.
func (w *cycleWalker) onCycle(start string) bool {
	if _, ok := w.cyclic[start]; ok {
		return true
	}
	if _, ok := w.done[start]; ok {
		return false
	}
	path := map[string]struct{}{start: {}}
	stack := []frame{{id: start}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n, ok := w.nodes[top.id]
		if !ok || top.next >= len(n.Children) {
			delete(path, top.id)
			w.done[top.id] = struct{}{}
			stack = stack[:len(stack)-1]
			continue
		}
		child := n.Children[top.next]
		top.next++
		if _, ok := w.nodes[child]; !ok {
			continue
		}
		if _, ok := w.done[child]; ok {
			continue
		}
		_, onPath := path[child]
		_, reachesCycle := w.cyclic[child]
		if onPath || reachesCycle {
			// Everything on the path reaches the cycle.
			for _, f := range stack {
				w.cyclic[f.id] = struct{}{}
			}
			return true
		}
		path[child] = struct{}{}
		stack = append(stack, frame{id: child})
	}
	return false
}

func sortedIDs(nodes map[string]*models.Node) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
