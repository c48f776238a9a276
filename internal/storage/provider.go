// Package storage abstracts the location of the durable store document.
package storage

// Provider reads and writes one whole document.
type Provider interface {
	// Read returns the stored bytes. A missing document yields an error
	// matching fs.ErrNotExist.
	Read() ([]byte, error)
	// Write replaces the document. Readers never observe a partial write.
	Write(content []byte) error
	// MoveAside renames the current document to a backup carrying tag and
	// returns the backup location. Existing backups are never overwritten.
	MoveAside(tag string) (string, error)
	// Location describes where the document lives, for logs.
	Location() string
}
