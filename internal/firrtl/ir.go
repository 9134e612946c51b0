// Package firrtl models the subset of the FIRRTL IR produced by the
// handshake lowering: circuits of modules with bundle ports, wires,
// registers, instances, connects, and conditional scopes. Expressions are
// shared nodes referenced by statements; declarations (wires, registers,
// instances) are both statements and expressions.
package firrtl

// Expression is a referenceable FIRRTL value.
type Expression interface {
	Type() Type
}

// Statement is one entry of a module block.
type Statement interface {
	isStatement()
}

// Port is a module port. All ports are declared as inputs; result channels
// point outward through flipped bundle fields.
type Port struct {
	Name string
	Typ  Type
}

func (p *Port) Type() Type { return p.Typ }

// Module is a FIRRTL module: ports plus a list of blocks. The lowering
// writes every statement, pipeline logic included, into the entry block, so
// the modules it builds hold a single block.
type Module struct {
	Name   string
	Ports  []*Port
	Blocks []*Block
}

// NewModule returns a module with the given ports and an empty entry block.
func NewModule(name string, ports []*Port) *Module {
	return &Module{Name: name, Ports: ports, Blocks: []*Block{{}}}
}

// Entry returns the module's entry block.
func (m *Module) Entry() *Block { return m.Blocks[0] }

// Port returns the i-th port.
func (m *Module) Port(i int) *Port { return m.Ports[i] }

// Circuit is the lowering output: a named circuit holding the top module
// and one module per operator signature.
type Circuit struct {
	Name    string
	Top     *Module
	Modules []*Module
}

// AddModule appends mod to the circuit.
func (c *Circuit) AddModule(mod *Module) {
	c.Modules = append(c.Modules, mod)
}

// FindModule returns the module with the given name, or nil.
func (c *Circuit) FindModule(name string) *Module {
	for _, mod := range c.Modules {
		if mod.Name == name {
			return mod
		}
	}
	return nil
}

// Block is an ordered list of statements.
type Block struct {
	Stmts []Statement
}

// Add appends statements to the block.
func (b *Block) Add(stmts ...Statement) {
	b.Stmts = append(b.Stmts, stmts...)
}

// Connect drives Dest from Src.
type Connect struct {
	Dest Expression
	Src  Expression
}

func (*Connect) isStatement() {}

// When is a conditional scope. Else may be nil.
type When struct {
	Cond Expression
	Then *Block
	Else *Block
}

func (*When) isStatement() {}

// Wire declares a named wire.
type Wire struct {
	Name string
	Typ  Type
}

func (*Wire) isStatement() {}
func (w *Wire) Type() Type { return w.Typ }

// Reg declares a clocked register without a reset value.
type Reg struct {
	Name  string
	Typ   Type
	Clock Expression
}

func (*Reg) isStatement() {}
func (r *Reg) Type() Type { return r.Typ }

// RegInit declares a clocked register reset to Init while Reset is high.
type RegInit struct {
	Name  string
	Typ   Type
	Clock Expression
	Reset Expression
	Init  Expression
}

func (*RegInit) isStatement() {}
func (r *RegInit) Type() Type { return r.Typ }

// Instance declares an instance of a module. Its type is the instantiated
// module's port bundle with every field flipped.
type Instance struct {
	Name   string
	Module string
	Typ    *BundleType
}

func (*Instance) isStatement() {}
func (i *Instance) Type() Type { return i.Typ }

// Subfield selects a named field of a bundle-typed expression.
type Subfield struct {
	Base Expression
	Name string
	Typ  Type
}

func (s *Subfield) Type() Type { return s.Typ }

// NewSubfield builds a subfield access, resolving the field type from the
// base bundle. It panics on unknown fields; callers construct bundles and
// their accesses together.
func NewSubfield(base Expression, name string) *Subfield {
	bundle, ok := base.Type().(*BundleType)
	if !ok {
		panic("firrtl: subfield of non-bundle expression")
	}
	element, ok := bundle.Element(name)
	if !ok {
		panic("firrtl: unknown bundle field " + name)
	}
	return &Subfield{Base: base, Name: name, Typ: element.Type}
}

// Constant is an integer literal of a ground type.
type Constant struct {
	Typ   Type
	Value int64
}

func (c *Constant) Type() Type { return c.Typ }

// PrimKind enumerates primitive operations.
type PrimKind int

const (
	PrimAdd PrimKind = iota
	PrimSub
	PrimMul
	PrimAnd
	PrimOr
	PrimXor
	PrimDShl
	PrimDShr
	PrimEQ
	PrimNEQ
	PrimLT
	PrimLEQ
	PrimGT
	PrimGEQ
	PrimNot
)

func (k PrimKind) String() string {
	switch k {
	case PrimAdd:
		return "add"
	case PrimSub:
		return "sub"
	case PrimMul:
		return "mul"
	case PrimAnd:
		return "and"
	case PrimOr:
		return "or"
	case PrimXor:
		return "xor"
	case PrimDShl:
		return "dshl"
	case PrimDShr:
		return "dshr"
	case PrimEQ:
		return "eq"
	case PrimNEQ:
		return "neq"
	case PrimLT:
		return "lt"
	case PrimLEQ:
		return "leq"
	case PrimGT:
		return "gt"
	case PrimGEQ:
		return "geq"
	case PrimNot:
		return "not"
	}
	return "unknown"
}

// Prim applies a primitive operation to its arguments. Args is mutable so
// the pipeline lowering can redirect operands to stage registers.
type Prim struct {
	Kind PrimKind
	Args []Expression
	Typ  Type
}

func (p *Prim) Type() Type { return p.Typ }

// And returns the 1-bit conjunction of two signals.
func And(a, b Expression) *Prim {
	return &Prim{Kind: PrimAnd, Args: []Expression{a, b}, Typ: a.Type()}
}

// Not returns the 1-bit negation of a signal.
func Not(a Expression) *Prim {
	return &Prim{Kind: PrimNot, Args: []Expression{a}, Typ: a.Type()}
}

// EQ returns the 1-bit equality of two expressions.
func EQ(a, b Expression) *Prim {
	return &Prim{Kind: PrimEQ, Args: []Expression{a, b}, Typ: UInt1}
}

// Bin applies a binary primitive producing typ.
func Bin(kind PrimKind, a, b Expression, typ Type) *Prim {
	return &Prim{Kind: kind, Args: []Expression{a, b}, Typ: typ}
}
