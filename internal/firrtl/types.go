package firrtl

import (
	"fmt"
	"strings"
)

// Type is a FIRRTL ground or aggregate type.
type Type interface {
	String() string
}

// UIntType is an unsigned integer of fixed width.
type UIntType struct {
	Width int
}

func (t UIntType) String() string { return fmt.Sprintf("UInt<%d>", t.Width) }

// SIntType is a signed integer of fixed width.
type SIntType struct {
	Width int
}

func (t SIntType) String() string { return fmt.Sprintf("SInt<%d>", t.Width) }

// ClockType is the clock signal type.
type ClockType struct{}

func (ClockType) String() string { return "Clock" }

// BundleElement is one named field of a bundle. Flip reverses the field's
// direction relative to the enclosing bundle.
type BundleElement struct {
	Name string
	Flip bool
	Type Type
}

// BundleType is a record of named, possibly flipped fields.
type BundleType struct {
	Elements []BundleElement
}

func (t *BundleType) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, e := range t.Elements {
		if i > 0 {
			b.WriteString(", ")
		}
		if e.Flip {
			b.WriteString("flip ")
		}
		b.WriteString(e.Name)
		b.WriteString(": ")
		b.WriteString(e.Type.String())
	}
	b.WriteString("}")
	return b.String()
}

// Element looks up a field by name.
func (t *BundleType) Element(name string) (BundleElement, bool) {
	for _, e := range t.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return BundleElement{}, false
}

// FlipBundle returns a copy of t with every field direction reversed.
func FlipBundle(t *BundleType) *BundleType {
	elements := make([]BundleElement, len(t.Elements))
	for i, e := range t.Elements {
		elements[i] = BundleElement{Name: e.Name, Flip: !e.Flip, Type: e.Type}
	}
	return &BundleType{Elements: elements}
}

// UInt1 is the type of handshake control signals.
var UInt1 = UIntType{Width: 1}
