package handshake

import (
	"fmt"
	"go/constant"
	"go/token"
	"go/types"

	"github.com/pkg/errors"
	"golang.org/x/tools/go/ssa"

	"elastic/internal/diag"
)

// BuildFunc converts one straight-line SSA function into a handshake
// function. Parameters become handshaked arguments, supported binary
// operations become arith ops, and the elastic glue is inserted
// afterwards: a fork for every value with more than one consumer, a sink
// for every unused result, and a none-typed control token (appended to the
// signature) that triggers constants and flows through to the return.
func BuildFunc(prog *ssa.Program, target string, reporter *diag.Reporter) (*Func, error) {
	fn := findFunction(prog, target)
	if fn == nil {
		reporter.Errorf("function %q not found in the loaded packages", target)
		return nil, errors.Errorf("function %q not found", target)
	}
	if len(fn.Blocks) != 1 {
		reporter.Error(fn.Pos(), "control flow is not supported; only straight-line functions lower to dataflow")
		return nil, errors.New("unsupported control flow")
	}

	b := &builder{
		reporter: reporter,
		values:   make(map[ssa.Value]Value),
	}
	hf := b.build(fn)
	if reporter.HasErrors() {
		return nil, errors.New("dataflow construction failed")
	}
	return hf, nil
}

type builder struct {
	reporter *diag.Reporter
	values   map[ssa.Value]Value
	ops      []Operation
	ctrl     *Arg
}

func (b *builder) build(fn *ssa.Function) *Func {
	args := make([]*Arg, 0, len(fn.Params)+1)
	for _, param := range fn.Params {
		typ, ok := channelType(param.Type())
		if !ok {
			b.reporter.Error(param.Pos(), fmt.Sprintf("parameter %s has unsupported type %s", param.Name(), param.Type()))
			continue
		}
		arg := &Arg{Name: param.Name(), Typ: typ}
		args = append(args, arg)
		b.values[param] = arg
	}

	b.ctrl = &Arg{Name: "ctrl", Typ: NoneType{}}
	args = append(args, b.ctrl)

	var resultTypes []Type
	results := fn.Signature.Results()
	for i := 0; i < results.Len(); i++ {
		typ, ok := channelType(results.At(i).Type())
		if !ok {
			b.reporter.Error(fn.Pos(), fmt.Sprintf("result %d has unsupported type %s", i, results.At(i).Type()))
			continue
		}
		resultTypes = append(resultTypes, typ)
	}
	resultTypes = append(resultTypes, NoneType{})

	var ret *ReturnOp
	for _, instr := range fn.Blocks[0].Instrs {
		switch v := instr.(type) {
		case *ssa.BinOp:
			b.handleBinOp(v)
		case *ssa.Return:
			ins := make([]Value, 0, len(v.Results)+1)
			for _, res := range v.Results {
				if val := b.valueFor(res, v.Pos()); val != nil {
					ins = append(ins, val)
				}
			}
			ins = append(ins, b.ctrl)
			ret = &ReturnOp{Ins: ins, Source: v.Pos()}
		case *ssa.ChangeType:
			if src := b.valueFor(v.X, v.Pos()); src != nil {
				b.values[v] = src
			}
		case *ssa.DebugRef:
			// Skip debug markers.
		default:
			b.reporter.Error(instr.Pos(), fmt.Sprintf("instruction %T is not supported in dataflow construction", instr))
		}
	}
	if ret == nil {
		ret = &ReturnOp{Ins: []Value{b.ctrl}, Source: fn.Pos()}
	}
	b.ops = append(b.ops, ret)

	b.insertForks()
	b.insertSinks()

	return &Func{
		Name:        fn.Name(),
		Args:        args,
		ResultTypes: resultTypes,
		Ops:         b.ops,
		Source:      fn.Pos(),
	}
}

func (b *builder) handleBinOp(instr *ssa.BinOp) {
	lhs := b.valueFor(instr.X, instr.Pos())
	rhs := b.valueFor(instr.Y, instr.Pos())
	if lhs == nil || rhs == nil {
		return
	}

	if pred, ok := translateCompareOp(instr.Op, isSignedType(instr.X.Type())); ok {
		op := &CmpOp{
			Pred:   pred,
			Lhs:    lhs,
			Rhs:    rhs,
			Out:    NewResult(Int(1)),
			Source: instr.Pos(),
		}
		b.values[instr] = op.Out
		b.ops = append(b.ops, op)
		return
	}

	kind, ok := translateBinOp(instr.Op)
	if !ok {
		b.reporter.Error(instr.Pos(), fmt.Sprintf("unsupported binary op %s", instr.Op))
		return
	}
	if kind == ShrS && !isSignedType(instr.X.Type()) {
		b.reporter.Error(instr.Pos(), "unsigned shift right is not supported; use a signed operand")
		return
	}

	typ, ok := channelType(instr.Type())
	if !ok {
		b.reporter.Error(instr.Pos(), fmt.Sprintf("unsupported result type %s", instr.Type()))
		return
	}
	op := &ArithOp{
		Kind:   kind,
		Lhs:    lhs,
		Rhs:    rhs,
		Out:    NewResult(typ),
		Source: instr.Pos(),
	}
	b.values[instr] = op.Out
	b.ops = append(b.ops, op)
}

func (b *builder) valueFor(v ssa.Value, pos token.Pos) Value {
	if val, ok := b.values[v]; ok {
		return val
	}
	switch val := v.(type) {
	case *ssa.Const:
		return b.buildConstant(val)
	case *ssa.ChangeType:
		if src := b.valueFor(val.X, pos); src != nil {
			b.values[v] = src
			return src
		}
	}
	b.reporter.Error(pos, fmt.Sprintf("no channel mapping for value %T", v))
	return nil
}

func (b *builder) buildConstant(c *ssa.Const) Value {
	typ, ok := channelType(c.Type())
	if !ok {
		b.reporter.Error(c.Pos(), fmt.Sprintf("unsupported constant type %s", c.Type()))
		return nil
	}
	var literal int64
	if c.Value != nil {
		switch c.Value.Kind() {
		case constant.Int:
			literal, _ = constant.Int64Val(c.Value)
		case constant.Bool:
			if constant.BoolVal(c.Value) {
				literal = 1
			}
		default:
			b.reporter.Error(c.Pos(), fmt.Sprintf("unsupported constant kind %s", c.Value.Kind()))
			return nil
		}
	}
	op := &ConstantOp{
		Trigger: b.ctrl,
		Value:   literal,
		Out:     NewResult(typ),
		Source:  c.Pos(),
	}
	b.values[c] = op.Out
	b.ops = append(b.ops, op)
	return op.Out
}

// insertForks gives every value with more than one consumer a fork so each
// channel keeps a single producer and a single consumer. The control token
// is forked the same way when several constants (and the return) share it.
func (b *builder) insertForks() {
	uses := make(map[Value]int)
	var order []Value
	for _, op := range b.ops {
		for _, operand := range op.Operands() {
			if operand == nil {
				continue
			}
			if uses[operand] == 0 {
				order = append(order, operand)
			}
			uses[operand]++
		}
	}

	snapshot := b.ops
	for _, v := range order {
		n := uses[v]
		if n < 2 {
			continue
		}
		_, isNone := v.Type().(NoneType)
		fork := &ForkOp{In: v, Control: isNone}
		for i := 0; i < n; i++ {
			fork.Outs = append(fork.Outs, NewResult(v.Type()))
		}
		next := 0
		for _, op := range snapshot {
			replaceUses(op, v, func() Value {
				out := fork.Outs[next]
				next++
				return out
			})
		}
		b.ops = append(b.ops, fork)
	}
}

// insertSinks terminates every operation result no one consumes.
func (b *builder) insertSinks() {
	used := make(map[Value]bool)
	for _, op := range b.ops {
		for _, operand := range op.Operands() {
			used[operand] = true
		}
	}
	snapshot := b.ops
	for _, op := range snapshot {
		for _, res := range op.Results() {
			if !used[res] {
				b.ops = append(b.ops, &SinkOp{In: res, Source: op.Pos()})
			}
		}
	}
}

func replaceUses(op Operation, old Value, next func() Value) {
	switch t := op.(type) {
	case *ArithOp:
		if t.Lhs == old {
			t.Lhs = next()
		}
		if t.Rhs == old {
			t.Rhs = next()
		}
	case *CmpOp:
		if t.Lhs == old {
			t.Lhs = next()
		}
		if t.Rhs == old {
			t.Rhs = next()
		}
	case *ConstantOp:
		if t.Trigger == old {
			t.Trigger = next()
		}
	case *SinkOp:
		if t.In == old {
			t.In = next()
		}
	case *ForkOp:
		if t.In == old {
			t.In = next()
		}
	case *ReturnOp:
		for i := range t.Ins {
			if t.Ins[i] == old {
				t.Ins[i] = next()
			}
		}
	}
}

func findFunction(prog *ssa.Program, target string) *ssa.Function {
	var fallback *ssa.Function
	for _, pkg := range prog.AllPackages() {
		if pkg == nil || pkg.Pkg == nil {
			continue
		}
		fn := pkg.Func(target)
		if fn == nil || len(fn.Blocks) == 0 {
			continue
		}
		if pkg.Pkg.Path() == "main" || pkg.Pkg.Name() == "main" {
			return fn
		}
		if fallback == nil {
			fallback = fn
		}
	}
	return fallback
}

func translateBinOp(tok token.Token) (ArithKind, bool) {
	switch tok {
	case token.ADD:
		return Add, true
	case token.SUB:
		return Sub, true
	case token.MUL:
		return Mul, true
	case token.AND:
		return AndK, true
	case token.OR:
		return OrK, true
	case token.XOR:
		return XorK, true
	case token.SHL:
		return Shl, true
	case token.SHR:
		return ShrS, true
	default:
		return 0, false
	}
}

func translateCompareOp(tok token.Token, signed bool) (Predicate, bool) {
	switch tok {
	case token.EQL:
		return PredEQ, true
	case token.NEQ:
		return PredNE, true
	case token.LSS:
		if signed {
			return PredSLT, true
		}
		return PredULT, true
	case token.LEQ:
		if signed {
			return PredSLE, true
		}
		return PredULE, true
	case token.GTR:
		if signed {
			return PredSGT, true
		}
		return PredUGT, true
	case token.GEQ:
		if signed {
			return PredSGE, true
		}
		return PredUGE, true
	default:
		return 0, false
	}
}

func isSignedType(t types.Type) bool {
	if t == nil {
		return true
	}
	if basic, ok := t.Underlying().(*types.Basic); ok {
		if basic.Info()&types.IsUnsigned != 0 {
			return false
		}
	}
	return true
}

func channelType(t types.Type) (Type, bool) {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return nil, false
	}
	switch basic.Kind() {
	case types.Int8:
		return SInt(8), true
	case types.Uint8:
		return UInt(8), true
	case types.Int16:
		return SInt(16), true
	case types.Uint16:
		return UInt(16), true
	case types.Int32:
		return SInt(32), true
	case types.Uint32:
		return UInt(32), true
	case types.Int64, types.Int:
		return SInt(64), true
	case types.Uint64, types.Uint:
		return UInt(64), true
	case types.Bool:
		return Int(1), true
	default:
		return nil, false
	}
}
