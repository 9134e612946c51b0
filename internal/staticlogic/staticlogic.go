// Package staticlogic defines the statically scheduled pipeline operation.
// A pipeline wraps a multi-block region: the entry block's arguments are the
// pipeline inputs, every block ends in an unconditional branch or a pipeline
// return, and each branch-terminated block is one pipeline stage.
package staticlogic

import (
	"go/token"

	"elastic/internal/handshake"
)

// Block is one basic block of a pipeline region.
type Block struct {
	Args []*handshake.Arg
	Ops  []handshake.Operation
	Term handshake.Operation
}

// BranchOp is the unconditional terminator between pipeline stages.
type BranchOp struct {
	Dest   *Block
	Source token.Pos
}

func (o *BranchOp) Mnemonic() string { return "br" }
func (o *BranchOp) Operands() []handshake.Value { return nil }
func (o *BranchOp) Results() []*handshake.Result { return nil }
func (o *BranchOp) Pos() token.Pos { return o.Source }

// ReturnOp terminates a pipeline region; its operands are the pipeline
// outputs.
type ReturnOp struct {
	Ins    []handshake.Value
	Source token.Pos
}

func (o *ReturnOp) Mnemonic() string { return "return" }
func (o *ReturnOp) Operands() []handshake.Value { return o.Ins }
func (o *ReturnOp) Results() []*handshake.Result { return nil }
func (o *ReturnOp) Pos() token.Pos { return o.Source }

// PipelineOp is a statically scheduled pipeline embedded in a handshake
// function. Ins are the values fed into the region entry block; Outs mirror
// the region return's operand types.
type PipelineOp struct {
	Ins    []handshake.Value
	Outs   []*handshake.Result
	Region []*Block
	Source token.Pos
}

func (o *PipelineOp) Mnemonic() string { return "pipeline" }
func (o *PipelineOp) Operands() []handshake.Value { return o.Ins }
func (o *PipelineOp) Results() []*handshake.Result { return o.Outs }
func (o *PipelineOp) Pos() token.Pos { return o.Source }

// Entry returns the region entry block.
func (o *PipelineOp) Entry() *Block {
	if len(o.Region) == 0 {
		return nil
	}
	return o.Region[0]
}
