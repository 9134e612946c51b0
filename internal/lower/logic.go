package lower

import (
	"fmt"

	"github.com/pkg/errors"

	"elastic/internal/firrtl"
	"elastic/internal/handshake"
)

// buildLogic dispatches to the logic builder for op's kind and fills the
// sub-module body with the primitive operations realizing the elastic
// protocol of that operator.
func (l *lowering) buildLogic(op handshake.Operation, mod *firrtl.Module, ports []portSignals) error {
	body := mod.Entry()
	switch t := op.(type) {
	case *handshake.ArithOp:
		buildBinaryLogic(body, ports, arithPrim(t.Kind))
	case *handshake.CmpOp:
		kind, ok := cmpPrim(t.Pred)
		if !ok {
			l.reporter.Error(t.Pos(), fmt.Sprintf("unsupported comparison predicate %q", t.Pred))
			return errors.Errorf("cmpi: unsupported predicate %s", t.Pred)
		}
		buildBinaryLogic(body, ports, kind)
	case *handshake.SinkOp:
		buildSinkLogic(body, ports)
	case *handshake.JoinOp:
		buildJoinLogic(body, ports)
	case *handshake.MuxOp:
		buildMuxLogic(body, ports)
	case *handshake.MergeOp:
		buildMergeLogic(body, ports)
	case *handshake.ControlMergeOp:
		buildControlMergeLogic(body, ports, t.Control)
	case *handshake.BranchOp:
		buildBranchLogic(body, ports, t.Control)
	case *handshake.CondBranchOp:
		buildConditionalBranchLogic(body, ports, t.Control)
	case *handshake.ForkOp:
		buildForkLogic(body, ports, t.Control)
	case *handshake.LazyForkOp:
		buildForkLogic(body, ports, t.Control)
	case *handshake.ConstantOp:
		buildConstantLogic(body, ports, t.Value)
	case *handshake.BufferOp:
		buildBufferLogic(body, ports)
	default:
		l.reporter.Error(op.Pos(), fmt.Sprintf("unsupported operation %q", op.Mnemonic()))
		return errors.Errorf("unsupported operation %s", op.Mnemonic())
	}
	return nil
}

func arithPrim(kind handshake.ArithKind) firrtl.PrimKind {
	switch kind {
	case handshake.Add:
		return firrtl.PrimAdd
	case handshake.Sub:
		return firrtl.PrimSub
	case handshake.Mul:
		return firrtl.PrimMul
	case handshake.AndK:
		return firrtl.PrimAnd
	case handshake.OrK:
		return firrtl.PrimOr
	case handshake.XorK:
		return firrtl.PrimXor
	case handshake.Shl:
		return firrtl.PrimDShl
	case handshake.ShrS:
		return firrtl.PrimDShr
	}
	return firrtl.PrimAdd
}

func cmpPrim(pred handshake.Predicate) (firrtl.PrimKind, bool) {
	switch pred {
	case handshake.PredEQ:
		return firrtl.PrimEQ, true
	case handshake.PredNE:
		return firrtl.PrimNEQ, true
	case handshake.PredSLT:
		return firrtl.PrimLT, true
	case handshake.PredSLE:
		return firrtl.PrimLEQ, true
	case handshake.PredSGT:
		return firrtl.PrimGT, true
	case handshake.PredSGE:
		return firrtl.PrimGEQ, true
	}
	return 0, false
}

// buildBinaryLogic joins two operand channels through a primitive: the
// result data is the primitive applied to both operand payloads, the result
// is valid once both operands are, and both operands are consumed exactly
// when the joined token transfers.
func buildBinaryLogic(body *firrtl.Block, ports []portSignals, kind firrtl.PrimKind) {
	a, b, res := ports[0], ports[1], ports[2]

	body.Add(&firrtl.Connect{Dest: res.data, Src: firrtl.Bin(kind, a.data, b.data, res.data.Type())})

	valid := firrtl.And(a.valid, b.valid)
	body.Add(&firrtl.Connect{Dest: res.valid, Src: valid})

	ready := firrtl.And(res.ready, valid)
	body.Add(&firrtl.Connect{Dest: a.ready, Src: ready})
	body.Add(&firrtl.Connect{Dest: b.ready, Src: ready})
}

// buildSinkLogic accepts every token unconditionally. The valid and data
// subfields are left unread.
func buildSinkLogic(body *firrtl.Block, ports []portSignals) {
	arg := ports[0]
	body.Add(&firrtl.Connect{Dest: arg.ready, Src: &firrtl.Constant{Typ: firrtl.UInt1, Value: 1}})
}

// buildJoinLogic fires the control result once all inputs hold a token;
// each input is released when the joined token is accepted.
func buildJoinLogic(body *firrtl.Block, ports []portSignals) {
	res := ports[len(ports)-1]
	inputs := ports[:len(ports)-1]

	var valid firrtl.Expression = inputs[0].valid
	for _, in := range inputs[1:] {
		valid = firrtl.And(in.valid, valid)
	}
	body.Add(&firrtl.Connect{Dest: res.valid, Src: valid})

	ready := firrtl.And(res.ready, valid)
	for _, in := range inputs {
		body.Add(&firrtl.Connect{Dest: in.ready, Src: ready})
	}
}

// buildMuxLogic routes the selected input to the result inside a chain of
// nested whens. The mux is silent while the selector is invalid; the
// selector token is released once the routed transfer can happen.
func buildMuxLogic(body *firrtl.Block, ports []portSignals) {
	sel := ports[0]
	res := ports[len(ports)-1]
	inputs := ports[1 : len(ports)-1]

	outer := &firrtl.When{Cond: sel.valid, Then: &firrtl.Block{}}
	body.Add(outer)

	blk := outer.Then
	for k, in := range inputs {
		cond := firrtl.EQ(sel.data, &firrtl.Constant{Typ: sel.data.Type(), Value: int64(k)})
		w := &firrtl.When{Cond: cond, Then: &firrtl.Block{}}
		if k != len(inputs)-1 {
			w.Else = &firrtl.Block{}
		}
		blk.Add(w)

		w.Then.Add(&firrtl.Connect{Dest: res.valid, Src: in.valid})
		w.Then.Add(&firrtl.Connect{Dest: res.data, Src: in.data})
		w.Then.Add(&firrtl.Connect{Dest: in.ready, Src: res.ready})
		w.Then.Add(&firrtl.Connect{Dest: sel.ready, Src: firrtl.And(in.valid, res.ready)})

		blk = w.Else
	}
}

// buildMergeLogic connects the first valid input to the result. Inputs are
// assumed to be mutually exclusive; when they are not, lower-indexed inputs
// win.
func buildMergeLogic(body *firrtl.Block, ports []portSignals) {
	res := ports[len(ports)-1]
	inputs := ports[:len(ports)-1]

	blk := body
	for k, in := range inputs {
		w := &firrtl.When{Cond: in.valid, Then: &firrtl.Block{}}
		if k != len(inputs)-1 {
			w.Else = &firrtl.Block{}
		}
		blk.Add(w)

		if res.data != nil {
			w.Then.Add(&firrtl.Connect{Dest: res.data, Src: in.data})
		}
		w.Then.Add(&firrtl.Connect{Dest: res.valid, Src: in.valid})
		w.Then.Add(&firrtl.Connect{Dest: in.ready, Src: res.ready})

		blk = w.Else
	}
}

// buildControlMergeLogic is the prioritized merge with an extra index
// result reporting which input fired. Input release waits on both result
// channels being ready.
func buildControlMergeLogic(body *firrtl.Block, ports []portSignals, control bool) {
	n := len(ports)
	res := ports[n-2]
	index := ports[n-1]
	inputs := ports[:n-2]

	argReady := firrtl.And(res.ready, index.ready)

	blk := body
	for k, in := range inputs {
		w := &firrtl.When{Cond: in.valid, Then: &firrtl.Block{}}
		if k != len(inputs)-1 {
			w.Else = &firrtl.Block{}
		}
		blk.Add(w)

		w.Then.Add(&firrtl.Connect{Dest: index.data, Src: &firrtl.Constant{Typ: index.data.Type(), Value: int64(k)}})
		w.Then.Add(&firrtl.Connect{Dest: index.valid, Src: in.valid})
		w.Then.Add(&firrtl.Connect{Dest: res.valid, Src: in.valid})
		w.Then.Add(&firrtl.Connect{Dest: in.ready, Src: argReady})
		if !control {
			w.Then.Add(&firrtl.Connect{Dest: res.data, Src: in.data})
		}

		blk = w.Else
	}
}

// buildBranchLogic passes the channel straight through.
func buildBranchLogic(body *firrtl.Block, ports []portSignals, control bool) {
	arg, res := ports[0], ports[1]
	body.Add(&firrtl.Connect{Dest: res.valid, Src: arg.valid})
	body.Add(&firrtl.Connect{Dest: arg.ready, Src: res.ready})
	if !control {
		body.Add(&firrtl.Connect{Dest: res.data, Src: arg.data})
	}
}

// buildConditionalBranchLogic routes the data channel to the true or false
// result according to the condition payload. Nothing moves while the
// condition channel is invalid.
func buildConditionalBranchLogic(body *firrtl.Block, ports []portSignals, control bool) {
	cond := ports[0]
	arg := ports[1]
	trueRes := ports[2]
	falseRes := ports[3]

	outer := &firrtl.When{Cond: cond.valid, Then: &firrtl.Block{}}
	body.Add(outer)

	branch := &firrtl.When{Cond: cond.data, Then: &firrtl.Block{}, Else: &firrtl.Block{}}
	outer.Then.Add(branch)

	branch.Then.Add(&firrtl.Connect{Dest: trueRes.valid, Src: arg.valid})
	branch.Then.Add(&firrtl.Connect{Dest: arg.ready, Src: trueRes.ready})
	if !control {
		branch.Then.Add(&firrtl.Connect{Dest: trueRes.data, Src: arg.data})
	}
	branch.Then.Add(&firrtl.Connect{Dest: cond.ready, Src: firrtl.And(arg.valid, trueRes.ready)})

	branch.Else.Add(&firrtl.Connect{Dest: falseRes.valid, Src: arg.valid})
	branch.Else.Add(&firrtl.Connect{Dest: arg.ready, Src: falseRes.ready})
	if !control {
		branch.Else.Add(&firrtl.Connect{Dest: falseRes.data, Src: arg.data})
	}
	branch.Else.Add(&firrtl.Connect{Dest: cond.ready, Src: firrtl.And(arg.valid, falseRes.ready)})
}

// buildForkLogic lowers fork and lazy_fork alike as a lazy fork: the token
// transfers to every result in the same cycle, and only once all consumers
// are ready. The eager variant with per-output acceptance registers would
// need clock and reset and is kept distinct at the signature level.
func buildForkLogic(body *firrtl.Block, ports []portSignals, control bool) {
	arg := ports[0]
	outs := ports[1:]

	var allReady firrtl.Expression = outs[0].ready
	for _, out := range outs[1:] {
		allReady = firrtl.And(out.ready, allReady)
	}
	body.Add(&firrtl.Connect{Dest: arg.ready, Src: allReady})

	valid := firrtl.And(arg.valid, allReady)
	for _, out := range outs {
		body.Add(&firrtl.Connect{Dest: out.valid, Src: valid})
		if !control {
			body.Add(&firrtl.Connect{Dest: out.data, Src: arg.data})
		}
	}
}

// buildConstantLogic emits the literal each time the trigger channel
// delivers a control token.
func buildConstantLogic(body *firrtl.Block, ports []portSignals, value int64) {
	trig := ports[0]
	res := ports[1]
	body.Add(&firrtl.Connect{Dest: res.valid, Src: trig.valid})
	body.Add(&firrtl.Connect{Dest: trig.ready, Src: res.ready})
	body.Add(&firrtl.Connect{Dest: res.data, Src: &firrtl.Constant{Typ: res.data.Type(), Value: value}})
}

// buildBufferLogic declares the buffer's ports but leaves the body empty.
// TODO: instantiate a slot-count-deep elastic FIFO between the input and
// output channels.
func buildBufferLogic(body *firrtl.Block, ports []portSignals) {
}
