package lower

import (
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"elastic/internal/diag"
	"elastic/internal/firrtl"
	"elastic/internal/handshake"
	"elastic/internal/passes"
	"elastic/internal/staticlogic"
)

// threeStagePipeline builds a pipeline computing
//
//	x = a + b        (stage 0)
//	y = a + x        (stage 1)
//	z = c + x        (stage 1)
//	out = y + z      (stage 2)
//
// over a four-block region: three branch-terminated stage blocks plus the
// block holding the pipeline return.
func threeStagePipeline() *handshake.Func {
	u32 := handshake.UInt(32)
	fa := &handshake.Arg{Name: "a", Typ: u32}
	fb := &handshake.Arg{Name: "b", Typ: u32}
	fc := &handshake.Arg{Name: "c", Typ: u32}

	aa := &handshake.Arg{Name: "a", Typ: u32}
	bb := &handshake.Arg{Name: "b", Typ: u32}
	cc := &handshake.Arg{Name: "c", Typ: u32}

	x := &handshake.ArithOp{Kind: handshake.Add, Lhs: aa, Rhs: bb, Out: handshake.NewResult(u32)}
	y := &handshake.ArithOp{Kind: handshake.Add, Lhs: aa, Rhs: x.Out, Out: handshake.NewResult(u32)}
	z := &handshake.ArithOp{Kind: handshake.Add, Lhs: cc, Rhs: x.Out, Out: handshake.NewResult(u32)}
	out := &handshake.ArithOp{Kind: handshake.Add, Lhs: y.Out, Rhs: z.Out, Out: handshake.NewResult(u32)}

	b3 := &staticlogic.Block{
		Term: &staticlogic.ReturnOp{Ins: []handshake.Value{out.Out}},
	}
	b2 := &staticlogic.Block{
		Ops:  []handshake.Operation{out},
		Term: &staticlogic.BranchOp{Dest: b3},
	}
	b1 := &staticlogic.Block{
		Ops:  []handshake.Operation{y, z},
		Term: &staticlogic.BranchOp{Dest: b2},
	}
	b0 := &staticlogic.Block{
		Args: []*handshake.Arg{aa, bb, cc},
		Ops:  []handshake.Operation{x},
		Term: &staticlogic.BranchOp{Dest: b1},
	}

	pipe := &staticlogic.PipelineOp{
		Ins:    []handshake.Value{fa, fb, fc},
		Outs:   []*handshake.Result{handshake.NewResult(u32)},
		Region: []*staticlogic.Block{b0, b1, b2, b3},
	}
	ret := &handshake.ReturnOp{Ins: []handshake.Value{pipe.Outs[0]}}
	return &handshake.Func{
		Name:        "staged",
		Args:        []*handshake.Arg{fa, fb, fc},
		ResultTypes: []handshake.Type{u32},
		Ops:         []handshake.Operation{pipe, ret},
	}
}

func TestPipelineSubModuleShape(t *testing.T) {
	circuit := lowerFunc(t, threeStagePipeline())
	sub := circuit.FindModule("pipeline_0")
	if sub == nil {
		t.Fatalf("expected pipeline sub-module pipeline_0")
	}
	if got := len(sub.Ports); got != 6 {
		t.Fatalf("expected 6 pipeline ports (3 in, 1 out, clock, reset), got %d", got)
	}
	if len(sub.Blocks) != 1 {
		t.Fatalf("finished pipeline module must hold a single block")
	}
}

func TestPipelineStageResources(t *testing.T) {
	circuit := lowerFunc(t, threeStagePipeline())
	sub := circuit.FindModule("pipeline_0")
	if sub == nil {
		t.Fatalf("expected pipeline sub-module")
	}

	var validRegs, dataRegs, wires []string
	for _, stmt := range sub.Entry().Stmts {
		switch s := stmt.(type) {
		case *firrtl.RegInit:
			validRegs = append(validRegs, s.Name)
		case *firrtl.Reg:
			dataRegs = append(dataRegs, s.Name)
		case *firrtl.Wire:
			wires = append(wires, s.Name)
		}
	}

	if len(validRegs) != 3 {
		t.Fatalf("expected 3 valid registers, got %v", validRegs)
	}
	for i, name := range []string{"valid0", "valid1", "valid2"} {
		if validRegs[i] != name {
			t.Fatalf("valid register %d: expected %s, got %s", i, name, validRegs[i])
		}
	}

	// Stage 0 exports a, c, and x; stage 1 exports y and z; stage 2
	// exports out to the return block.
	wantRegs := []string{"data0_0", "data0_1", "data0_2", "data1_0", "data1_1", "data2_0"}
	if diff := cmp.Diff(wantRegs, dataRegs); diff != "" {
		t.Fatalf("stage data register mismatch (-want +got):\n%s", diff)
	}

	for _, name := range []string{"ready0", "ready1", "ready2", "valid_in", "ready_in"} {
		if !contains(wires, name) {
			t.Fatalf("missing wire %s in %v", name, wires)
		}
	}
}

func TestPipelineFlushLogic(t *testing.T) {
	circuit := lowerFunc(t, threeStagePipeline())
	sub := circuit.FindModule("pipeline_0")
	if sub == nil {
		t.Fatalf("expected pipeline sub-module")
	}

	var whens []*firrtl.When
	for _, stmt := range sub.Entry().Stmts {
		if w, ok := stmt.(*firrtl.When); ok {
			whens = append(whens, w)
		}
	}
	if len(whens) != 3 {
		t.Fatalf("expected one flush scope per stage, got %d", len(whens))
	}

	for s, w := range whens {
		if w.Else == nil {
			t.Fatalf("stage %d flush scope needs a bubble branch", s)
		}
		cond := firrtl.ExprString(w.Cond)
		if !strings.HasPrefix(cond, "valid") {
			t.Fatalf("stage %d flush scope must test the valid register, got %s", s, cond)
		}

		// Occupied stage: data refills when the next stage drains and the
		// previous stage delivers; the valid bit clears on drain without
		// refill; ready passes through.
		var inner []*firrtl.When
		for _, stmt := range w.Then.Stmts {
			if iw, ok := stmt.(*firrtl.When); ok {
				inner = append(inner, iw)
			}
		}
		if len(inner) != 2 {
			t.Fatalf("stage %d: expected data-update and valid-clear scopes, got %d", s, len(inner))
		}
		clear := firrtl.ExprString(inner[1].Cond)
		if !strings.Contains(clear, "not(") {
			t.Fatalf("stage %d: valid-clear condition must negate the upstream valid, got %s", s, clear)
		}

		// Bubble branch: valid tracks upstream, ready is asserted.
		last := w.Else.Stmts[len(w.Else.Stmts)-1]
		conn, ok := last.(*firrtl.Connect)
		if !ok || firrtl.ExprString(conn.Src) != "UInt<1>(1)" {
			t.Fatalf("stage %d bubble branch must assert its ready wire", s)
		}
	}

	// The middle stage's ready wire is driven once in each flush branch:
	// the pass-through when occupied, the constant 1 on a bubble.
	drives := driveCounts(sub.Entry())
	if drives["ready1"] != 2 {
		t.Fatalf("ready1 must be driven in both flush branches, got %d", drives["ready1"])
	}
	conn := findConnect(t, sub.Entry(), "arg3.data")
	if firrtl.ExprString(conn.Src) != "data2_0" {
		t.Fatalf("pipeline output must read the final stage register, got %s", firrtl.ExprString(conn.Src))
	}
}

func TestPipelineInstanceWiring(t *testing.T) {
	circuit := lowerFunc(t, threeStagePipeline())
	top := circuit.Top
	insts := instances(top.Entry())
	if len(insts) != 1 {
		t.Fatalf("expected one pipeline instance, got %d", len(insts))
	}
	inst := insts[0]
	if inst.Module != "pipeline_0" {
		t.Fatalf("instance must reference pipeline_0, got %s", inst.Module)
	}
	drives := driveCounts(top.Entry())
	for _, port := range []string{"arg0", "arg1", "arg2", "clock", "reset"} {
		if drives[inst.Name+"."+port] != 1 {
			t.Fatalf("pipeline instance port %s must be connected exactly once", port)
		}
	}
}

func TestTwoPipelinesGetDistinctModules(t *testing.T) {
	u32 := handshake.UInt(32)
	mk := func(fa, fb *handshake.Arg) *staticlogic.PipelineOp {
		aa := &handshake.Arg{Name: "a", Typ: u32}
		bb := &handshake.Arg{Name: "b", Typ: u32}
		sum := &handshake.ArithOp{Kind: handshake.Add, Lhs: aa, Rhs: bb, Out: handshake.NewResult(u32)}
		ret := &staticlogic.Block{Term: &staticlogic.ReturnOp{Ins: []handshake.Value{sum.Out}}}
		entry := &staticlogic.Block{
			Args: []*handshake.Arg{aa, bb},
			Ops:  []handshake.Operation{sum},
			Term: &staticlogic.BranchOp{Dest: ret},
		}
		return &staticlogic.PipelineOp{
			Ins:    []handshake.Value{fa, fb},
			Outs:   []*handshake.Result{handshake.NewResult(u32)},
			Region: []*staticlogic.Block{entry, ret},
		}
	}

	fa := &handshake.Arg{Name: "a", Typ: u32}
	fb := &handshake.Arg{Name: "b", Typ: u32}
	fc := &handshake.Arg{Name: "c", Typ: u32}
	fd := &handshake.Arg{Name: "d", Typ: u32}
	p0 := mk(fa, fb)
	p1 := mk(fc, fd)
	ret := &handshake.ReturnOp{Ins: []handshake.Value{p0.Outs[0], p1.Outs[0]}}
	fn := &handshake.Func{
		Name:        "twin",
		Args:        []*handshake.Arg{fa, fb, fc, fd},
		ResultTypes: []handshake.Type{u32, u32},
		Ops:         []handshake.Operation{p0, p1, ret},
	}

	circuit := lowerFunc(t, fn)
	if circuit.FindModule("pipeline_0") == nil || circuit.FindModule("pipeline_1") == nil {
		t.Fatalf("each pipeline must get its own indexed sub-module")
	}
}

func TestPipelineRejectsNonAddOps(t *testing.T) {
	u32 := handshake.UInt(32)
	fa := &handshake.Arg{Name: "a", Typ: u32}
	fb := &handshake.Arg{Name: "b", Typ: u32}
	aa := &handshake.Arg{Name: "a", Typ: u32}
	bb := &handshake.Arg{Name: "b", Typ: u32}
	mul := &handshake.ArithOp{Kind: handshake.Mul, Lhs: aa, Rhs: bb, Out: handshake.NewResult(u32)}
	retBlock := &staticlogic.Block{Term: &staticlogic.ReturnOp{Ins: []handshake.Value{mul.Out}}}
	entry := &staticlogic.Block{
		Args: []*handshake.Arg{aa, bb},
		Ops:  []handshake.Operation{mul},
		Term: &staticlogic.BranchOp{Dest: retBlock},
	}
	pipe := &staticlogic.PipelineOp{
		Ins:    []handshake.Value{fa, fb},
		Outs:   []*handshake.Result{handshake.NewResult(u32)},
		Region: []*staticlogic.Block{entry, retBlock},
	}
	ret := &handshake.ReturnOp{Ins: []handshake.Value{pipe.Outs[0]}}
	fn := &handshake.Func{
		Name:        "badpipe",
		Args:        []*handshake.Arg{fa, fb},
		ResultTypes: []handshake.Type{u32},
		Ops:         []handshake.Operation{pipe, ret},
	}

	reporter := diag.NewReporter(io.Discard, "text")
	design := &passes.Design{Func: fn}
	if err := New(reporter).Run(design); err == nil {
		t.Fatalf("expected failure for non-add op inside a pipeline stage")
	}
	if !reporter.HasErrors() {
		t.Fatalf("expected a diagnostic for the unsupported stage operation")
	}
}

func TestPipelineRejectsBadTerminator(t *testing.T) {
	u32 := handshake.UInt(32)
	fa := &handshake.Arg{Name: "a", Typ: u32}
	aa := &handshake.Arg{Name: "a", Typ: u32}
	entry := &staticlogic.Block{Args: []*handshake.Arg{aa}}
	pipe := &staticlogic.PipelineOp{
		Ins:    []handshake.Value{fa},
		Outs:   []*handshake.Result{handshake.NewResult(u32)},
		Region: []*staticlogic.Block{entry},
	}
	ret := &handshake.ReturnOp{Ins: []handshake.Value{pipe.Outs[0]}}
	fn := &handshake.Func{
		Name:        "untermed",
		Args:        []*handshake.Arg{fa},
		ResultTypes: []handshake.Type{u32},
		Ops:         []handshake.Operation{pipe, ret},
	}

	reporter := diag.NewReporter(io.Discard, "text")
	design := &passes.Design{Func: fn}
	if err := New(reporter).Run(design); err == nil {
		t.Fatalf("expected failure for a block without a pipeline terminator")
	}
}

func contains(list []string, name string) bool {
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}
