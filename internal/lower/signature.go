package lower

import (
	"fmt"

	"elastic/internal/handshake"
)

// subModuleName builds the canonical signature string that keys the
// sub-module cache: operator mnemonic, operand and result counts, and the
// qualifiers that change the generated logic (comparison predicate, buffer
// geometry, control-path variant).
func subModuleName(op handshake.Operation) string {
	name := fmt.Sprintf("%s_%dins_%douts", op.Mnemonic(), len(op.Operands()), len(op.Results()))

	if cmp, ok := op.(*handshake.CmpOp); ok {
		name += "_" + cmp.Pred.String()
	}

	if buf, ok := op.(*handshake.BufferOp); ok {
		name += fmt.Sprintf("_%dslots", buf.Slots)
		if buf.Sequential {
			name += "_seq"
		}
	}

	if cc, ok := op.(handshake.ControlCarrier); ok && cc.IsControl() {
		name += "_ctrl"
	}

	return name
}
