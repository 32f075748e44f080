package domain

// Category is a label movements may be filed under. Categories are managed
// outside the ledger; movements only hold a weak reference to them.
type Category struct {
	ID    int64
	Name  string
	Color string
}
