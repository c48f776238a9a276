package hierarchy

import (
	"fmt"
	"slices"

	"github.com/starford/treeapp/internal/models"
)

// IssueKind classifies an integrity violation.
type IssueKind string

const (
	IssueDanglingRoot     IssueKind = "dangling_root"
	IssueRootHasParent    IssueKind = "root_has_parent"
	IssueDanglingParent   IssueKind = "dangling_parent"
	IssueParentNotFolder  IssueKind = "parent_not_folder"
	IssueChildNotListed   IssueKind = "child_not_listed"
	IssueDanglingChild    IssueKind = "dangling_child"
	IssueFileWithChildren IssueKind = "file_with_children"
	IssueCycle            IssueKind = "cycle"
)

// Issue is one integrity violation found by Check.
type Issue struct {
	Kind   IssueKind `json:"kind"`
	NodeID string    `json:"node_id"`
	Detail string    `json:"detail"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Kind, i.NodeID, i.Detail)
}

// Check inspects a snapshot and lists every structural violation, ordered by node id.
// A consistent tree yields an empty slice.
func Check(snap models.Snapshot) []Issue {
	issues := []Issue{}
	nodes := snap.Nodes
	cycles := newCycleWalker(nodes)

	if snap.RootID != "" {
		root, ok := nodes[snap.RootID]
		switch {
		case !ok:
			issues = append(issues, Issue{IssueDanglingRoot, snap.RootID, "root id does not match any node"})
		case root.HasParent():
			issues = append(issues, Issue{IssueRootHasParent, root.ID, "root has parent " + root.ParentID})
		}
	}

	for _, id := range sortedIDs(nodes) {
		n := nodes[id]
		if n.HasParent() {
			parent, ok := nodes[n.ParentID]
			switch {
			case !ok:
				issues = append(issues, Issue{IssueDanglingParent, id, "parent " + n.ParentID + " does not exist"})
			case !parent.IsFolder():
				issues = append(issues, Issue{IssueParentNotFolder, id, "parent " + n.ParentID + " is a file"})
			case !slices.Contains(parent.Children, id):
				issues = append(issues, Issue{IssueChildNotListed, id, "parent " + n.ParentID + " does not list it"})
			}
		}
		if !n.IsFolder() && len(n.Children) > 0 {
			issues = append(issues, Issue{IssueFileWithChildren, id, fmt.Sprintf("file lists %d children", len(n.Children))})
		}
		for _, child := range n.Children {
			if _, ok := nodes[child]; !ok {
				issues = append(issues, Issue{IssueDanglingChild, id, "child " + child + " does not exist"})
			}
		}
		if cycles.onCycle(id) {
			issues = append(issues, Issue{IssueCycle, id, "node is reachable from its own descendants"})
		}
	}
	return issues
}
