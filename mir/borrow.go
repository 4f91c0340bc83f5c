package mir

// RegionVar is an analysis-level name for a loan's lifetime; it only has to
// be stable within one function, used to match runtime borrow acquire/
// release pairs (spec.md glossary).
type RegionVar int

// BorrowRecord is the static description of one borrow introduced by a
// StmtBorrow statement.
type BorrowRecord struct {
	ID     BorrowID
	Kind   BorrowKind
	Place  Place
	Region RegionVar
}
