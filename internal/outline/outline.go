// Package outline renders a subtree as an indented text outline and builds
// nodes from one.
//
// Each line holds one node:
//
//	Root/ [⬜] # New root folder
//	  notes.md [✅]
//
// Two spaces per level on export; import accepts any consistent mix of
// spaces and tabs. A trailing "/" marks a folder, the bracketed status glyph
// (or status name) is optional, and text after the first unescaped "#"
// becomes the node's markdown. In names a backslash (never legal in a name)
// escapes the next character; export escapes "#", "[", "]" and leading or
// trailing blanks.
package outline

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/starford/treeapp/internal/apperr"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/naming"
	"github.com/starford/treeapp/internal/nodestore"
)

const indentUnit = "  "

// Export renders the subtree rooted at id, or at the root when id is empty.
func Export(snap models.Snapshot, id string) (string, error) {
	if id == "" {
		id = snap.RootID
	}
	if _, ok := snap.Nodes[id]; !ok {
		return "", fmt.Errorf("node %s: %w", id, apperr.ErrNotFound)
	}

	type frame struct {
		id    string
		depth int
	}
	var b strings.Builder
	visited := make(map[string]bool)
	stack := []frame{{id: id}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := snap.Nodes[f.id]
		if !ok || visited[f.id] {
			continue
		}
		visited[f.id] = true
		writeLine(&b, n, f.depth)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: n.Children[i], depth: f.depth + 1})
		}
	}
	return b.String(), nil
}

func writeLine(b *strings.Builder, n *models.Node, depth int) {
	b.WriteString(strings.Repeat(indentUnit, depth))
	b.WriteString(escapeName(n.Name))
	if n.IsFolder() {
		b.WriteByte('/')
	}
	b.WriteString(" [")
	b.WriteString(n.Status.Glyph())
	b.WriteByte(']')
	// Only single-line markdown fits on the outline line.
	if md := strings.TrimSpace(n.Markdown); md != "" && !strings.ContainsAny(md, "\r\n") {
		b.WriteString(" # ")
		b.WriteString(md)
	}
	b.WriteByte('\n')
}

// Entry is one parsed outline line.
type Entry struct {
	Line     int
	Depth    int
	Name     string
	Type     models.NodeType
	Status   models.Status
	Markdown string
}

// Parse reads an outline into entries. Depth is the indentation width with a
// tab counted as one indent unit.
func Parse(text string) ([]Entry, error) {
	var out []Entry
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		e, err := parseLine(raw)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e.Line = line
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidOutline, err)
	}
	return out, nil
}

func parseLine(raw string) (Entry, error) {
	var e Entry
	i := 0
	for i < len(raw) && (raw[i] == ' ' || raw[i] == '\t') {
		if raw[i] == '\t' {
			e.Depth += len(indentUnit)
		} else {
			e.Depth++
		}
		i++
	}
	rest := raw[i:]
	head := lex(rest)
	if hash := indexPlain(head, '#'); hash >= 0 {
		e.Markdown = strings.TrimSpace(rest[head[hash].off+1:])
		head = head[:hash]
	}
	head = trimBlank(head)

	e.Status = models.StatusPending
	if n := len(head); n > 0 && head[n-1].plain(']') {
		if open := lastIndexPlain(head, '['); open >= 0 {
			st, err := models.ParseStatus(text(head[open+1 : n-1]))
			if err != nil {
				return Entry{}, err
			}
			e.Status = st
			head = trimBlank(head[:open])
		}
	}

	e.Type = models.TypeFile
	if n := len(head); n > 0 && head[n-1].plain('/') {
		e.Type = models.TypeFolder
		head = trimBlank(head[:n-1])
	}
	if len(head) == 0 {
		return Entry{}, fmt.Errorf("%w: missing node name", apperr.ErrInvalidOutline)
	}
	e.Name = text(head)
	return e, nil
}

// char is one rune of an outline line; escaped runes are always literal.
type char struct {
	r       rune
	escaped bool
	off     int
}

func (c char) plain(r rune) bool { return !c.escaped && c.r == r }

func (c char) blank() bool { return !c.escaped && (c.r == ' ' || c.r == '\t') }

func lex(s string) []char {
	out := make([]char, 0, len(s))
	escaped := false
	for off, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		out = append(out, char{r: r, escaped: escaped, off: off})
		escaped = false
	}
	return out
}

func indexPlain(cs []char, r rune) int {
	for i, c := range cs {
		if c.plain(r) {
			return i
		}
	}
	return -1
}

func lastIndexPlain(cs []char, r rune) int {
	for i := len(cs) - 1; i >= 0; i-- {
		if cs[i].plain(r) {
			return i
		}
	}
	return -1
}

func trimBlank(cs []char) []char {
	for len(cs) > 0 && cs[0].blank() {
		cs = cs[1:]
	}
	for len(cs) > 0 && cs[len(cs)-1].blank() {
		cs = cs[:len(cs)-1]
	}
	return cs
}

func text(cs []char) string {
	var b strings.Builder
	for _, c := range cs {
		b.WriteRune(c.r)
	}
	return b.String()
}

// escapeName makes name survive parseLine unchanged.
func escapeName(name string) string {
	first := strings.IndexFunc(name, notBlank)
	last := strings.LastIndexFunc(name, notBlank)
	var b strings.Builder
	for i, r := range name {
		switch {
		case r == '#' || r == '[' || r == ']':
			b.WriteByte('\\')
		case (r == ' ' || r == '\t') && (first < 0 || i < first || i > last):
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func notBlank(r rune) bool { return r != ' ' && r != '\t' }

// Import parses text and creates the nodes under parentID (the root when
// empty) inside tx. It returns the ids of the created top-level nodes.
// Every line is validated before the first node is created, so a rejected
// outline leaves the store untouched.
func Import(tx *nodestore.Tx, parentID, text string) ([]string, error) {
	entries, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if parentID == "" {
		parentID = tx.RootID()
	}
	if parentID == "" {
		return nil, fmt.Errorf("%w: workspace has no root", apperr.ErrInvalidRoot)
	}
	parent, ok := tx.Node(parentID)
	if !ok {
		return nil, fmt.Errorf("node %s: %w", parentID, apperr.ErrNotFound)
	}
	if !parent.IsFolder() {
		return nil, apperr.ErrNotAFolder
	}

	parents, err := plan(entries)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(entries))
	var top []string
	for i, e := range entries {
		pid := parentID
		if parents[i] >= 0 {
			pid = ids[parents[i]]
		}
		id, err := tx.CreateNode(e.Name, e.Type, pid)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", e.Line, err)
		}
		ids[i] = id
		if parents[i] < 0 {
			top = append(top, id)
		}
		if e.Status != models.StatusPending || e.Markdown != "" {
			upd := models.NodeUpdate{Status: &e.Status}
			if e.Markdown != "" {
				upd.Markdown = &e.Markdown
			}
			if err := tx.UpdateNode(id, upd); err != nil {
				return nil, fmt.Errorf("line %d: %w", e.Line, err)
			}
		}
	}
	return top, nil
}

// plan resolves each entry's parent as an index into entries, -1 for the
// import target, and checks names and nesting.
func plan(entries []Entry) ([]int, error) {
	parents := make([]int, len(entries))
	var stack []int
	for i, e := range entries {
		if err := naming.Validate(e.Name); err != nil {
			return nil, fmt.Errorf("line %d: %w", e.Line, err)
		}
		for len(stack) > 0 && entries[stack[len(stack)-1]].Depth >= e.Depth {
			stack = stack[:len(stack)-1]
		}
		parents[i] = -1
		if len(stack) > 0 {
			p := stack[len(stack)-1]
			if entries[p].Type != models.TypeFolder {
				return nil, fmt.Errorf("line %d: %w", e.Line, apperr.ErrNotAFolder)
			}
			parents[i] = p
		}
		stack = append(stack, i)
	}
	return parents, nil
}
