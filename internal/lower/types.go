package lower

import (
	"elastic/internal/firrtl"
	"elastic/internal/handshake"
)

const unsupportedTypeMsg = "unsupported data type; supported data types: integer (signed, unsigned, signless), index, none"

// dataType maps a handshake channel element type to the FIRRTL type of its
// data subfield. A nil type with ok=true marks a control-only channel.
func dataType(t handshake.Type) (firrtl.Type, bool) {
	switch tt := t.(type) {
	case handshake.IntType:
		if tt.Signedness == handshake.Signed {
			return firrtl.SIntType{Width: tt.Width}, true
		}
		// Signless integers are treated as unsigned. Whether an explicit
		// sign-cast primitive should be emitted instead is unresolved.
		return firrtl.UIntType{Width: tt.Width}, true
	case handshake.IndexType:
		return firrtl.UIntType{Width: handshake.IndexStorageBits}, true
	case handshake.NoneType:
		return nil, true
	}
	return nil, false
}

// bundleType maps a channel element type to its handshaked bundle: valid,
// ready, and (unless control-only) data. flip selects the producer view used
// for result ports.
func bundleType(t handshake.Type, flip bool) (*firrtl.BundleType, bool) {
	dt, ok := dataType(t)
	if !ok {
		return nil, false
	}
	elements := []firrtl.BundleElement{
		{Name: "valid", Flip: flip, Type: firrtl.UInt1},
		{Name: "ready", Flip: !flip, Type: firrtl.UInt1},
	}
	if dt != nil {
		elements = append(elements, firrtl.BundleElement{Name: "data", Flip: flip, Type: dt})
	}
	return &firrtl.BundleType{Elements: elements}, true
}
