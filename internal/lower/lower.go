// Package lower implements the lower-handshake-to-firrtl pass: it rewrites
// a handshake function into a FIRRTL circuit containing a top module plus
// one sub-module per distinct operator signature, instantiating a sub-module
// for every operation and wiring instances along the original dataflow.
package lower

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"elastic/internal/diag"
	"elastic/internal/firrtl"
	"elastic/internal/handshake"
	"elastic/internal/passes"
	"elastic/internal/staticlogic"
)

// PassName is the public name the pass is registered under.
const PassName = "lower-handshake-to-firrtl"

func init() {
	passes.Register(PassName, func(reporter *diag.Reporter) passes.Pass {
		return New(reporter)
	})
}

// Pass lowers handshake functions to FIRRTL circuits.
type Pass struct {
	reporter *diag.Reporter

	// NumClocks is the number of clock domains exposed by the top module.
	NumClocks int
}

// New returns the pass with a single clock domain.
func New(reporter *diag.Reporter) *Pass {
	return &Pass{reporter: reporter, NumClocks: 1}
}

// Name implements the Pass interface.
func (p *Pass) Name() string { return PassName }

// Run lowers design.Func and stores the resulting circuit in
// design.Circuit. On failure the circuit is left nil.
func (p *Pass) Run(design *passes.Design) error {
	if design == nil || design.Func == nil {
		return errors.New("lowering requires a handshake function")
	}
	numClocks := p.NumClocks
	if numClocks < 1 {
		numClocks = 1
	}
	l := &lowering{
		reporter:  p.reporter,
		fn:        design.Func,
		numClocks: numClocks,
		cache:     make(map[string]*firrtl.Module),
		vmap:      make(map[handshake.Value]firrtl.Expression),
		insts:     make(map[handshake.Operation]*firrtl.Instance),
	}
	circuit, err := l.lowerFunc()
	if err != nil {
		return err
	}
	design.Circuit = circuit
	return nil
}

type lowering struct {
	reporter  *diag.Reporter
	fn        *handshake.Func
	numClocks int

	circuit *firrtl.Circuit
	top     *firrtl.Module

	// cache maps operator signatures to their sub-modules. Pipelines are
	// never cached; each gets a fresh module keyed by pipelineIdx.
	cache       map[string]*firrtl.Module
	pipelineIdx int

	// vmap maps handshake values to the expressions that carry them in the
	// top module: function arguments to ports, operation results to
	// instance subfields.
	vmap  map[handshake.Value]firrtl.Expression
	insts map[handshake.Operation]*firrtl.Instance
	nInst int
}

// lowerFunc drives the conversion: build the top module, then sweep the
// function body twice. The first sweep creates one sub-module per signature
// and one instance per operation, recording where every operation result
// now lives. The second sweep connects instance operand ports and converts
// returns; splitting the sweeps lets instance inputs reference producers
// that appear later in the body (the dataflow graph may be cyclic).
func (l *lowering) lowerFunc() (*firrtl.Circuit, error) {
	top, err := l.buildTopModule()
	if err != nil {
		return nil, err
	}
	l.top = top
	l.circuit = &firrtl.Circuit{Name: l.fn.Name, Top: top}

	for _, op := range l.fn.Ops {
		switch t := op.(type) {
		case *handshake.ReturnOp:
			// Converted in the wiring sweep.
		case *staticlogic.PipelineOp:
			sub, err := l.lowerPipeline(t)
			if err != nil {
				return nil, err
			}
			l.circuit.AddModule(sub)
			l.createInstance(op, sub)
		default:
			sub, err := l.ensureSubModule(op)
			if err != nil {
				return nil, err
			}
			l.createInstance(op, sub)
		}
	}

	for _, op := range l.fn.Ops {
		if ret, ok := op.(*handshake.ReturnOp); ok {
			if err := l.convertReturn(ret); err != nil {
				return nil, err
			}
			continue
		}
		if err := l.wireInstance(op, l.insts[op], 0); err != nil {
			return nil, err
		}
	}

	l.circuit.AddModule(top)
	return l.circuit, nil
}

// buildTopModule creates the circuit's outer module: one non-flipped bundle
// port per function argument, one flipped bundle port per function result,
// then one clock/reset pair per clock domain.
func (l *lowering) buildTopModule() (*firrtl.Module, error) {
	ports := make([]*firrtl.Port, 0, len(l.fn.Args)+len(l.fn.ResultTypes)+2*l.numClocks)
	idx := 0
	for _, arg := range l.fn.Args {
		bt, ok := bundleType(arg.Typ, false)
		if !ok {
			l.reporter.Error(l.fn.Source, unsupportedTypeMsg)
			return nil, errors.Errorf("function argument %d: unsupported type %s", idx, arg.Typ)
		}
		ports = append(ports, &firrtl.Port{Name: "arg" + strconv.Itoa(idx), Typ: bt})
		idx++
	}
	for i, rt := range l.fn.ResultTypes {
		bt, ok := bundleType(rt, true)
		if !ok {
			l.reporter.Error(l.fn.Source, unsupportedTypeMsg)
			return nil, errors.Errorf("function result %d: unsupported type %s", i, rt)
		}
		ports = append(ports, &firrtl.Port{Name: "arg" + strconv.Itoa(idx), Typ: bt})
		idx++
	}
	ports = append(ports, clockPorts(l.numClocks)...)

	mod := firrtl.NewModule(l.fn.Name, ports)
	for i, arg := range l.fn.Args {
		l.vmap[arg] = mod.Port(i)
	}
	return mod, nil
}

func clockPorts(numClocks int) []*firrtl.Port {
	if numClocks == 1 {
		return []*firrtl.Port{
			{Name: "clock", Typ: firrtl.ClockType{}},
			{Name: "reset", Typ: firrtl.UInt1},
		}
	}
	ports := make([]*firrtl.Port, 0, 2*numClocks)
	for i := 0; i < numClocks; i++ {
		ports = append(ports,
			&firrtl.Port{Name: "clock" + strconv.Itoa(i), Typ: firrtl.ClockType{}},
			&firrtl.Port{Name: "reset" + strconv.Itoa(i), Typ: firrtl.UInt1})
	}
	return ports
}

// ensureSubModule returns the sub-module for op's signature, building it on
// a cache miss.
func (l *lowering) ensureSubModule(op handshake.Operation) (*firrtl.Module, error) {
	name := subModuleName(op)
	if sub, ok := l.cache[name]; ok {
		return sub, nil
	}

	_, hasClock := op.(*handshake.BufferOp)
	sub, err := l.createSubModule(op, name, hasClock)
	if err != nil {
		return nil, err
	}
	if err := l.buildLogic(op, sub, extractPortSignals(sub)); err != nil {
		return nil, err
	}

	l.cache[name] = sub
	l.circuit.AddModule(sub)
	return sub, nil
}

// createSubModule creates an empty module whose ports mirror op: operand
// channels, then result channels, then clock/reset when requested.
func (l *lowering) createSubModule(op handshake.Operation, name string, hasClock bool) (*firrtl.Module, error) {
	operands := op.Operands()
	results := op.Results()
	ports := make([]*firrtl.Port, 0, len(operands)+len(results)+2)
	idx := 0
	for _, operand := range operands {
		bt, ok := bundleType(operand.Type(), false)
		if !ok {
			l.reporter.Error(op.Pos(), unsupportedTypeMsg)
			return nil, errors.Errorf("%s: unsupported operand type %s", op.Mnemonic(), operand.Type())
		}
		ports = append(ports, &firrtl.Port{Name: "arg" + strconv.Itoa(idx), Typ: bt})
		idx++
	}
	for _, res := range results {
		bt, ok := bundleType(res.Type(), true)
		if !ok {
			l.reporter.Error(op.Pos(), unsupportedTypeMsg)
			return nil, errors.Errorf("%s: unsupported result type %s", op.Mnemonic(), res.Type())
		}
		ports = append(ports, &firrtl.Port{Name: "arg" + strconv.Itoa(idx), Typ: bt})
		idx++
	}
	if hasClock {
		ports = append(ports,
			&firrtl.Port{Name: "clock", Typ: firrtl.ClockType{}},
			&firrtl.Port{Name: "reset", Typ: firrtl.UInt1})
	}
	return firrtl.NewModule(name, ports), nil
}

// portSignals holds the subfield handles of one sub-module port: valid and
// ready always, data unless the channel is control-only. Clock and reset
// ports carry the bare port in raw instead.
type portSignals struct {
	valid firrtl.Expression
	ready firrtl.Expression
	data  firrtl.Expression
	raw   firrtl.Expression
}

// extractPortSignals resolves the per-port subfield handles used by every
// logic builder. The returned slice is index-aligned with the module ports.
func extractPortSignals(mod *firrtl.Module) []portSignals {
	list := make([]portSignals, 0, len(mod.Ports))
	for _, port := range mod.Ports {
		bundle, ok := port.Typ.(*firrtl.BundleType)
		if !ok {
			list = append(list, portSignals{raw: port})
			continue
		}
		ps := portSignals{
			valid: firrtl.NewSubfield(port, "valid"),
			ready: firrtl.NewSubfield(port, "ready"),
		}
		if _, ok := bundle.Element("data"); ok {
			ps.data = firrtl.NewSubfield(port, "data")
		}
		list = append(list, ps)
	}
	return list
}

// createInstance adds an instance of sub to the top module and records the
// subfields that now carry op's results. All instance ports are flipped
// relative to the sub-module's view.
func (l *lowering) createInstance(op handshake.Operation, sub *firrtl.Module) {
	elements := make([]firrtl.BundleElement, len(sub.Ports))
	for i, port := range sub.Ports {
		typ := port.Typ
		flip := true
		if bundle, ok := typ.(*firrtl.BundleType); ok {
			typ = firrtl.FlipBundle(bundle)
			flip = false
		}
		elements[i] = firrtl.BundleElement{Name: port.Name, Flip: flip, Type: typ}
	}
	inst := &firrtl.Instance{
		Name:   fmt.Sprintf("%s_%d", sub.Name, l.nInst),
		Module: sub.Name,
		Typ:    &firrtl.BundleType{Elements: elements},
	}
	l.nInst++
	l.top.Entry().Add(inst)
	l.insts[op] = inst

	numIns := len(op.Operands())
	for k, res := range op.Results() {
		l.vmap[res] = firrtl.NewSubfield(inst, "arg"+strconv.Itoa(numIns+k))
	}
}

// wireInstance connects the instance ports: operand ports from their
// producing values, then clock and reset from the requested clock domain.
// Result ports need no connect; consumers read the recorded subfields.
func (l *lowering) wireInstance(op handshake.Operation, inst *firrtl.Instance, clockDomain int) error {
	if inst == nil {
		return errors.Errorf("%s: operation was never instantiated", op.Mnemonic())
	}
	entry := l.top.Entry()
	numIns := len(op.Operands())
	numOuts := len(op.Results())

	for i, operand := range op.Operands() {
		src, ok := l.vmap[operand]
		if !ok {
			l.reporter.Error(op.Pos(), fmt.Sprintf("operand %d of %s has no producer", i, op.Mnemonic()))
			return errors.Errorf("%s: unresolved operand %d", op.Mnemonic(), i)
		}
		entry.Add(&firrtl.Connect{
			Dest: firrtl.NewSubfield(inst, "arg"+strconv.Itoa(i)),
			Src:  src,
		})
	}

	if len(inst.Typ.Elements) > numIns+numOuts {
		firstClock := len(l.fn.Args) + len(l.fn.ResultTypes)
		clk := l.top.Port(firstClock + 2*clockDomain)
		rst := l.top.Port(firstClock + 2*clockDomain + 1)
		entry.Add(&firrtl.Connect{Dest: firrtl.NewSubfield(inst, "clock"), Src: clk})
		entry.Add(&firrtl.Connect{Dest: firrtl.NewSubfield(inst, "reset"), Src: rst})
	}
	return nil
}

// convertReturn rewrites the function return into one connect per returned
// value onto the matching top-module output port.
func (l *lowering) convertReturn(ret *handshake.ReturnOp) error {
	numIns := len(l.fn.Args)
	if len(ret.Ins) != len(l.fn.ResultTypes) {
		l.reporter.Error(ret.Pos(), fmt.Sprintf(
			"return carries %d values but the function declares %d results",
			len(ret.Ins), len(l.fn.ResultTypes)))
		return errors.New("return arity mismatch")
	}
	for k, v := range ret.Ins {
		src, ok := l.vmap[v]
		if !ok {
			l.reporter.Error(ret.Pos(), fmt.Sprintf("returned value %d has no producer", k))
			return errors.Errorf("return: unresolved value %d", k)
		}
		l.top.Entry().Add(&firrtl.Connect{Dest: l.top.Port(numIns + k), Src: src})
	}
	return nil
}
