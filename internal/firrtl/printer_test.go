package firrtl

import (
	"strings"
	"testing"
)

func TestFprintModule(t *testing.T) {
	bundle := &BundleType{Elements: []BundleElement{
		{Name: "valid", Type: UInt1},
		{Name: "ready", Flip: true, Type: UInt1},
		{Name: "data", Type: UIntType{Width: 8}},
	}}
	in := &Port{Name: "arg0", Typ: bundle}
	out := &Port{Name: "arg1", Typ: FlipBundle(bundle)}
	mod := NewModule("echo", []*Port{in, out})

	inData := NewSubfield(in, "data")
	outData := NewSubfield(out, "data")
	mod.Entry().Add(
		&Connect{Dest: outData, Src: inData},
		&Connect{Dest: NewSubfield(out, "valid"), Src: NewSubfield(in, "valid")},
		&When{
			Cond: NewSubfield(in, "valid"),
			Then: &Block{Stmts: []Statement{
				&Connect{Dest: NewSubfield(in, "ready"), Src: &Constant{Typ: UInt1, Value: 1}},
			}},
		},
	)

	circuit := &Circuit{Name: "echo", Top: mod, Modules: []*Module{mod}}
	var sb strings.Builder
	if err := Fprint(&sb, circuit); err != nil {
		t.Fatalf("Fprint failed: %v", err)
	}
	text := sb.String()

	for _, want := range []string{
		"circuit echo:",
		"module echo:",
		"input arg0: {valid: UInt<1>, flip ready: UInt<1>, data: UInt<8>}",
		"input arg1: {flip valid: UInt<1>, ready: UInt<1>, flip data: UInt<8>}",
		"connect arg1.data, arg0.data",
		"when arg0.valid:",
		"connect arg0.ready, UInt<1>(1)",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("printed circuit missing %q:\n%s", want, text)
		}
	}
}

func TestExprStringNesting(t *testing.T) {
	w := &Wire{Name: "ready0", Typ: UInt1}
	r := &RegInit{Name: "valid0", Typ: UInt1}
	expr := And(w, Not(r))
	if got := ExprString(expr); got != "and(ready0, not(valid0))" {
		t.Fatalf("unexpected rendering %q", got)
	}
}

func TestBundleElementLookup(t *testing.T) {
	bundle := &BundleType{Elements: []BundleElement{
		{Name: "valid", Type: UInt1},
		{Name: "ready", Flip: true, Type: UInt1},
	}}
	if _, ok := bundle.Element("data"); ok {
		t.Fatalf("control bundle must not expose a data field")
	}
	flipped := FlipBundle(bundle)
	valid, _ := flipped.Element("valid")
	ready, _ := flipped.Element("ready")
	if !valid.Flip || ready.Flip {
		t.Fatalf("FlipBundle must reverse every field direction")
	}
}
