package index

// NodeIndex defines the interface for node indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NodeIndex interface {
	UpsertNode(n NodeRow, body string) error
	DeleteNodes(ids ...string) error
	GetChecksum(id string) (string, error)
	AllChecksums() (map[string]string, error)
	Search(query string, limit int) ([]SearchResult, error)
	Filter(f Filter) ([]NodeRow, error)
	TopTags(limit int) ([]TagCount, error)
	Close() error
}

// Verify *DB satisfies NodeIndex at compile time.
var _ NodeIndex = (*DB)(nil)
