// Package query evaluates JSONPath expressions against the durable document
// form of a store snapshot.
package query

import (
	"fmt"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/starford/treeapp/internal/apperr"
	"github.com/starford/treeapp/internal/models"
	"github.com/starford/treeapp/internal/nodestore"
)

// Eval returns every value expr selects from snap. Paths address the saved
// document, e.g. $.nodes[?(@.status == 'done')].name or $.root_id.
func Eval(snap models.Snapshot, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: jsonpath %q: %v", apperr.ErrInvalidQuery, expr, err)
	}
	doc, err := Document(snap)
	if err != nil {
		return nil, err
	}
	results := x.Get(doc)
	if results == nil {
		results = []any{}
	}
	return results, nil
}

// Document converts snap into generic JSON values shaped like the data file.
func Document(snap models.Snapshot) (any, error) {
	data, err := nodestore.Encode(snap, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query: encode snapshot: %w", err)
	}
	doc, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("query: parse snapshot: %w", err)
	}
	return doc, nil
}
