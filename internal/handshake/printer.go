package handshake

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human-readable form of the function to w.
func Dump(fn *Func, w io.Writer) {
	if fn == nil {
		fmt.Fprintln(w, "<nil func>")
		return
	}
	pr := &printer{names: make(map[Value]string)}

	params := make([]string, 0, len(fn.Args))
	for _, arg := range fn.Args {
		name := "%" + arg.Name
		pr.names[arg] = name
		params = append(params, fmt.Sprintf("%s: %s", name, arg.Typ))
	}
	results := make([]string, 0, len(fn.ResultTypes))
	for _, rt := range fn.ResultTypes {
		results = append(results, rt.String())
	}

	fmt.Fprintf(w, "handshake.func @%s(%s) -> (%s) {\n",
		fn.Name, strings.Join(params, ", "), strings.Join(results, ", "))
	for _, op := range fn.Ops {
		fmt.Fprintf(w, "  %s\n", pr.renderOp(op))
	}
	fmt.Fprintln(w, "}")
}

type printer struct {
	names map[Value]string
	next  int
}

func (p *printer) renderOp(op Operation) string {
	switch o := op.(type) {
	case *ArithOp:
		return fmt.Sprintf("%s = %s %s, %s : %s",
			p.def(o.Out), o.Mnemonic(), p.ref(o.Lhs), p.ref(o.Rhs), o.Out.Typ)
	case *CmpOp:
		return fmt.Sprintf("%s = cmpi %s, %s, %s : %s",
			p.def(o.Out), o.Pred, p.ref(o.Lhs), p.ref(o.Rhs), o.Out.Typ)
	case *ConstantOp:
		return fmt.Sprintf("%s = constant %d [%s] : %s",
			p.def(o.Out), o.Value, p.ref(o.Trigger), o.Out.Typ)
	case *ForkOp:
		return fmt.Sprintf("%s = fork %s : %s", p.defs(o.Outs), p.ref(o.In), o.In.Type())
	case *LazyForkOp:
		return fmt.Sprintf("%s = lazy_fork %s : %s", p.defs(o.Outs), p.ref(o.In), o.In.Type())
	case *SinkOp:
		return fmt.Sprintf("sink %s", p.ref(o.In))
	case *JoinOp:
		return fmt.Sprintf("%s = join %s", p.def(o.Out), p.refs(o.Ins))
	case *MuxOp:
		return fmt.Sprintf("%s = mux %s [%s]", p.def(o.Out), p.ref(o.Select), p.refs(o.Ins))
	case *MergeOp:
		return fmt.Sprintf("%s = merge %s", p.def(o.Out), p.refs(o.Ins))
	case *ControlMergeOp:
		return fmt.Sprintf("%s, %s = control_merge %s", p.def(o.Out), p.def(o.Index), p.refs(o.Ins))
	case *BranchOp:
		return fmt.Sprintf("%s = br %s", p.def(o.Out), p.ref(o.In))
	case *CondBranchOp:
		return fmt.Sprintf("%s, %s = cond_br %s, %s",
			p.def(o.TrueOut), p.def(o.FalseOut), p.ref(o.Cond), p.ref(o.In))
	case *BufferOp:
		return fmt.Sprintf("%s = buffer %s slots=%d", p.def(o.Out), p.ref(o.In), o.Slots)
	case *ReturnOp:
		return fmt.Sprintf("return %s", p.refs(o.Ins))
	default:
		return fmt.Sprintf("%s (%d operands, %d results)",
			op.Mnemonic(), len(op.Operands()), len(op.Results()))
	}
}

func (p *printer) def(v Value) string {
	if name, ok := p.names[v]; ok {
		return name
	}
	name := fmt.Sprintf("%%%d", p.next)
	p.next++
	p.names[v] = name
	return name
}

func (p *printer) defs(results []*Result) string {
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, p.def(r))
	}
	return strings.Join(names, ", ")
}

func (p *printer) ref(v Value) string {
	if v == nil {
		return "%?"
	}
	return p.def(v)
}

func (p *printer) refs(values []Value) string {
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, p.ref(v))
	}
	return strings.Join(names, ", ")
}
