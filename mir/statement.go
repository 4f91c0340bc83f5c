package mir

// BorrowID names one borrow for the lifetime of the function it was taken
// in; it is also the key the runtime borrow tracker uses (spec.md §4.6,
// §9 "Borrow tracker as a dynamic shadow of the static analysis").
type BorrowID int

// BorrowKind is Shared (co-existent read loans) or Unique (exclusive).
type BorrowKind int

const (
	BorrowShared BorrowKind = iota
	BorrowUnique
)

// StmtKind discriminates the union of statement shapes in spec.md §3.
type StmtKind int

const (
	StmtAssign StmtKind = iota
	StmtBorrow
	StmtStorageLive
	StmtStorageDead
	StmtDrop
	StmtDeinit
	StmtDeferDrop
	StmtDefaultInit
	StmtZeroInit
	StmtZeroInitRaw
	StmtRetag
	StmtMmioStore
	StmtStaticStore
	StmtAtomicStore
	StmtAtomicFence
	StmtAssert
	StmtInlineAsm
	StmtMarkFallibleHandled
	StmtGPUDispatch
	StmtNop
	StmtPending
)

// Statement is one entry in a BasicBlock's straight-line body.
type Statement struct {
	Kind StmtKind
	Span Span

	// StmtAssign
	Place  Place
	RValue RValue

	// StmtBorrow
	BorrowID   BorrowID
	BorrowKind BorrowKind

	// StmtDrop / StmtDeinit / StmtDeferDrop / StmtStorageLive / StmtStorageDead
	Target Place

	// StmtMmioStore / StmtStaticStore / StmtAtomicStore
	Address Operand
	Value   Operand
	Width   int

	// StmtAssert
	Condition     Operand
	AssertMessage string

	// StmtInlineAsm
	AsmText string

	// free-form payload for statements this component only needs to carry
	// through (inline-asm operands, GPU dispatch bookkeeping, ...).
	Extra map[string]string
}
