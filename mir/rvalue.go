package mir

// OperandKind discriminates Operand's two forms.
type OperandKind int

const (
	OperandUse      OperandKind = iota // reads a Place
	OperandConstant                   // a compile-time constant
)

// ConstKind discriminates Constant's payload.
type ConstKind int

const (
	ConstBool ConstKind = iota
	ConstI32
	ConstI64
	ConstF32
	ConstF64
	ConstString
	ConstUnit
)

// Constant is a compile-time-known scalar value.
type Constant struct {
	Kind ConstKind
	I    int64
	F    float64
	S    string
}

// Operand is either a Place read or a Constant.
type Operand struct {
	Kind     OperandKind
	Place    Place
	Constant Constant
}

// BinOp enumerates the binary operators the emitter lowers directly to wasm
// numeric instructions.
type BinOp int

const (
	BinAdd BinOp = iota
	BinSub
	BinMul
	BinDivSigned
	BinDivUnsigned
	BinRemSigned
	BinRemUnsigned
	BinAnd
	BinOr
	BinXor
	BinShl
	BinShrSigned
	BinShrUnsigned
	BinEq
	BinNe
	BinLtSigned
	BinLtUnsigned
	BinLeSigned
	BinLeUnsigned
	BinGtSigned
	BinGtUnsigned
	BinGeSigned
	BinGeUnsigned
)

// UnOp enumerates the unary operators.
type UnOp int

const (
	UnNeg UnOp = iota
	UnNot
)

// CastKind enumerates the numeric conversions the emitter understands.
type CastKind int

const (
	CastI32ToI64Signed CastKind = iota
	CastI32ToI64Unsigned
	CastI64ToI32Wrap
	CastI32ToF32
	CastI32ToF64
	CastF32ToF64
	CastF64ToF32
	CastF32ToI32Trunc
	CastF64ToI32Trunc
	CastPtrBitcast
)

// AggregateKind distinguishes how an Aggregate r-value's fields are laid
// out: positionally (struct/tuple literal) or as a fixed-size array.
type AggregateKind int

const (
	AggregateStruct AggregateKind = iota
	AggregateArray
)

// RValueKind discriminates RValue's payload.
type RValueKind int

const (
	RValueUse RValueKind = iota
	RValueBinary
	RValueUnary
	RValueCast
	RValueAggregate
	RValueAddressOf
)

// RValue is the right-hand side of an Assign statement.
type RValue struct {
	Kind      RValueKind
	Operand   Operand   // RValueUse, RValueUnary (operand), RValueAddressOf (place via Operand.Place)
	LHS, RHS  Operand   // RValueBinary
	BinOp     BinOp
	UnOp      UnOp
	Cast      CastKind
	CastType  TypeRef
	Aggregate AggregateKind
	Fields    []Operand // RValueAggregate
	Type      TypeRef   // result type, when known ahead of layout resolution
}
