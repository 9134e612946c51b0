package lower

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"elastic/internal/firrtl"
	"elastic/internal/handshake"
	"elastic/internal/staticlogic"
)

// stageReg pairs a stage-crossing value with the data register that carries
// it into later stages.
type stageReg struct {
	src handshake.Value
	reg *firrtl.Reg
}

// stageInfo is the per-stage synthesis state: one valid register, one ready
// wire, and a data register for every value the stage exports.
type stageInfo struct {
	block     *staticlogic.Block
	validReg  *firrtl.RegInit
	readyWire *firrtl.Wire
	regs      []stageReg
}

// lowerPipeline synthesizes a dedicated sub-module for one pipeline
// operation. Pipelines never hit the sub-module cache; each is keyed with a
// per-pipeline index. The module holds, per stage, a valid register, a
// ready wire, and the data registers crossing the stage boundary, plus the
// flushable back-pressure logic tying them together.
func (l *lowering) lowerPipeline(op *staticlogic.PipelineOp) (*firrtl.Module, error) {
	name := fmt.Sprintf("%s_%d", op.Mnemonic(), l.pipelineIdx)
	l.pipelineIdx++

	sub, err := l.createSubModule(op, name, true)
	if err != nil {
		return nil, err
	}
	ports := extractPortSignals(sub)
	body := sub.Entry()

	numIns := len(op.Ins)
	numOuts := len(op.Outs)
	clock := ports[numIns+numOuts].raw
	reset := ports[numIns+numOuts+1].raw

	entry := op.Entry()
	if entry == nil {
		l.reporter.Error(op.Pos(), "pipeline has an empty region")
		return nil, errors.New("pipeline: empty region")
	}
	if len(entry.Args) != numIns {
		l.reporter.Error(op.Pos(), fmt.Sprintf(
			"pipeline entry block declares %d arguments for %d inputs", len(entry.Args), numIns))
		return nil, errors.New("pipeline: entry arity mismatch")
	}

	// Map entry block arguments to the data subfields of the input ports,
	// and record the defining block of every region value.
	pm := make(map[handshake.Value]firrtl.Expression)
	defBlock := make(map[handshake.Value]*staticlogic.Block)
	for i, arg := range entry.Args {
		pm[arg] = ports[i].data
	}
	for _, b := range op.Region {
		for _, arg := range b.Args {
			defBlock[arg] = b
		}
		for _, o := range b.Ops {
			for _, r := range o.Results() {
				defBlock[r] = b
			}
		}
	}

	zero := &firrtl.Constant{Typ: firrtl.UInt1, Value: 0}
	one := &firrtl.Constant{Typ: firrtl.UInt1, Value: 1}

	// Every branch-terminated block is one stage; the block holding the
	// pipeline return is not.
	var stages []*stageInfo
	var retOp *staticlogic.ReturnOp
	var retBlock *staticlogic.Block
	for _, b := range op.Region {
		switch term := b.Term.(type) {
		case *staticlogic.BranchOp:
			stages = append(stages, &stageInfo{block: b})
		case *staticlogic.ReturnOp:
			retOp = term
			retBlock = b
		default:
			l.reporter.Error(op.Pos(), "pipeline block must end in a branch or a pipeline return")
			return nil, errors.New("pipeline: invalid block terminator")
		}
	}
	if retOp == nil {
		l.reporter.Error(op.Pos(), "pipeline region has no return")
		return nil, errors.New("pipeline: missing return")
	}

	for s, st := range stages {
		st.validReg = &firrtl.RegInit{
			Name:  "valid" + strconv.Itoa(s),
			Typ:   firrtl.UInt1,
			Clock: clock,
			Reset: reset,
			Init:  zero,
		}
		st.readyWire = &firrtl.Wire{Name: "ready" + strconv.Itoa(s), Typ: firrtl.UInt1}
		body.Add(st.validReg, st.readyWire)
	}

	// Data registers for every value that escapes its defining stage.
	dataRegFor := make(map[handshake.Value]*firrtl.Reg)
	for s, st := range stages {
		for j, v := range stageCrossings(op, st.block) {
			dt, ok := dataType(v.Type())
			if !ok || dt == nil {
				l.reporter.Error(op.Pos(), unsupportedTypeMsg)
				return nil, errors.Errorf("pipeline: unsupported stage value type %s", v.Type())
			}
			reg := &firrtl.Reg{
				Name:  fmt.Sprintf("data%d_%d", s, j),
				Typ:   dt,
				Clock: clock,
			}
			body.Add(reg)
			st.regs = append(st.regs, stageReg{src: v, reg: reg})
			dataRegFor[v] = reg
		}
	}

	// resolve yields the expression carrying v for a use inside block in:
	// the stage register when the use crosses a stage boundary, otherwise
	// the local lowering.
	resolve := func(v handshake.Value, in *staticlogic.Block) (firrtl.Expression, error) {
		if db := defBlock[v]; db != nil && db != in {
			if reg, ok := dataRegFor[v]; ok {
				return reg, nil
			}
		}
		if e, ok := pm[v]; ok {
			return e, nil
		}
		return nil, errors.New("pipeline: value has no lowering")
	}

	// Lower stage-internal arithmetic. Only addition is handled; any other
	// operation inside a stage is rejected.
	for _, b := range op.Region {
		for _, o := range b.Ops {
			arith, ok := o.(*handshake.ArithOp)
			if !ok || arith.Kind != handshake.Add {
				l.reporter.Error(o.Pos(), fmt.Sprintf("unsupported operation %q inside pipeline stage", o.Mnemonic()))
				return nil, errors.Errorf("pipeline: unsupported stage operation %s", o.Mnemonic())
			}
			dt, ok := dataType(arith.Out.Type())
			if !ok || dt == nil {
				l.reporter.Error(arith.Pos(), unsupportedTypeMsg)
				return nil, errors.Errorf("pipeline: unsupported result type %s", arith.Out.Type())
			}
			lhs, err := resolve(arith.Lhs, b)
			if err != nil {
				return nil, err
			}
			rhs, err := resolve(arith.Rhs, b)
			if err != nil {
				return nil, err
			}
			pm[arith.Out] = firrtl.Bin(firrtl.PrimAdd, lhs, rhs, dt)
		}
	}

	// Flushable back-pressure. valid_in stands for the stage before the
	// first; ready_in for the stage after the last. Ready wires stay
	// unregistered so back-pressure reaches upstream within one cycle.
	validIn := &firrtl.Wire{Name: "valid_in", Typ: firrtl.UInt1}
	readyIn := &firrtl.Wire{Name: "ready_in", Typ: firrtl.UInt1}
	body.Add(validIn, readyIn)

	for s, st := range stages {
		var validPrev firrtl.Expression = validIn
		if s > 0 {
			validPrev = stages[s-1].validReg
		}
		var readyNext firrtl.Expression = readyIn
		if s < len(stages)-1 {
			readyNext = stages[s+1].readyWire
		}

		then := &firrtl.Block{}
		els := &firrtl.Block{}

		// Stage holds a token: data registers refill only when the next
		// stage drains us and the previous stage delivers; the valid bit
		// clears when we drain with nothing arriving behind.
		dataWhen := &firrtl.When{Cond: firrtl.And(readyNext, validPrev), Then: &firrtl.Block{}}
		for _, sr := range st.regs {
			src, err := resolve(sr.src, st.block)
			if err != nil {
				return nil, err
			}
			dataWhen.Then.Add(&firrtl.Connect{Dest: sr.reg, Src: src})
		}
		then.Add(dataWhen)

		clearWhen := &firrtl.When{Cond: firrtl.And(readyNext, firrtl.Not(validPrev)), Then: &firrtl.Block{}}
		clearWhen.Then.Add(&firrtl.Connect{Dest: st.validReg, Src: zero})
		then.Add(clearWhen)

		then.Add(&firrtl.Connect{Dest: st.readyWire, Src: readyNext})

		// Stage holds a bubble: registers are free to take whatever the
		// previous stage offers.
		for _, sr := range st.regs {
			src, err := resolve(sr.src, st.block)
			if err != nil {
				return nil, err
			}
			els.Add(&firrtl.Connect{Dest: sr.reg, Src: src})
		}
		els.Add(&firrtl.Connect{Dest: st.validReg, Src: validPrev})
		els.Add(&firrtl.Connect{Dest: st.readyWire, Src: one})

		body.Add(&firrtl.When{Cond: st.validReg, Then: then, Else: els})
	}

	// Return wiring: each pipeline output data subfield is driven from the
	// corresponding return operand.
	for k, v := range retOp.Ins {
		if k >= numOuts {
			l.reporter.Error(retOp.Pos(), "pipeline return carries more values than declared outputs")
			return nil, errors.New("pipeline: return arity mismatch")
		}
		src, err := resolve(v, retBlock)
		if err != nil {
			return nil, err
		}
		body.Add(&firrtl.Connect{Dest: ports[numIns+k].data, Src: src})
	}

	return sub, nil
}

// stageCrossings returns, in discovery order, every value defined in block
// (by argument or operation result) that is used in a different block of
// the pipeline region or by the pipeline return.
func stageCrossings(op *staticlogic.PipelineOp, block *staticlogic.Block) []handshake.Value {
	var out []handshake.Value
	seen := make(map[handshake.Value]bool)

	usedElsewhere := func(v handshake.Value) bool {
		for _, b := range op.Region {
			for _, o := range b.Ops {
				for _, operand := range o.Operands() {
					if operand == v && b != block {
						return true
					}
				}
			}
			if b.Term != nil && b != block {
				for _, operand := range b.Term.Operands() {
					if operand == v {
						return true
					}
				}
			}
		}
		return false
	}

	for _, arg := range block.Args {
		if usedElsewhere(arg) && !seen[arg] {
			seen[arg] = true
			out = append(out, arg)
		}
	}
	for _, o := range block.Ops {
		for _, r := range o.Results() {
			if usedElsewhere(r) && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	return out
}
