package index

// ItemIndex defines the interface for item-header index operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type ItemIndex interface {
	ReplaceDoc(path, checksum string, rows []ItemRow) error
	DeleteDoc(path string) error
	DocChecksums() (map[string]string, error)
	ListItems(f ListFilter) ([]ItemRow, int, error)
	GetItem(id string) (*ItemRow, error)
	CountByStatus() (map[string]int, error)
	Close() error
}

// Verify *DB satisfies ItemIndex at compile time.
var _ ItemIndex = (*DB)(nil)
