package firrtl

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Emit writes the textual form of the circuit to outputPath. When outputPath
// is empty or "-", the result is written to stdout.
func Emit(circuit *Circuit, outputPath string) error {
	if outputPath == "" || outputPath == "-" {
		return Fprint(os.Stdout, circuit)
	}
	f, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return Fprint(f, circuit)
}

// Fprint writes the textual form of the circuit to w.
func Fprint(w io.Writer, circuit *Circuit) error {
	if circuit == nil {
		_, err := fmt.Fprintln(w, "<nil circuit>")
		return err
	}
	pr := &printer{w: w}
	pr.printf("circuit %s:\n", circuit.Name)
	pr.indent++
	for _, mod := range circuit.Modules {
		pr.printModule(mod)
	}
	pr.indent--
	return pr.err
}

type printer struct {
	w      io.Writer
	indent int
	err    error
}

func (p *printer) printModule(mod *Module) {
	p.printf("module %s:\n", mod.Name)
	p.indent++
	for _, port := range mod.Ports {
		p.printf("input %s: %s\n", port.Name, port.Typ.String())
	}
	for _, block := range mod.Blocks {
		p.printBlock(block)
	}
	p.indent--
	p.printf("\n")
}

func (p *printer) printBlock(block *Block) {
	for _, stmt := range block.Stmts {
		p.printStmt(stmt)
	}
}

func (p *printer) printStmt(stmt Statement) {
	switch s := stmt.(type) {
	case *Wire:
		p.printf("wire %s: %s\n", s.Name, s.Typ.String())
	case *Reg:
		p.printf("reg %s: %s, %s\n", s.Name, s.Typ.String(), ExprString(s.Clock))
	case *RegInit:
		p.printf("regreset %s: %s, %s, %s, %s\n", s.Name, s.Typ.String(),
			ExprString(s.Clock), ExprString(s.Reset), ExprString(s.Init))
	case *Instance:
		p.printf("inst %s of %s\n", s.Name, s.Module)
	case *Connect:
		p.printf("connect %s, %s\n", ExprString(s.Dest), ExprString(s.Src))
	case *When:
		p.printf("when %s:\n", ExprString(s.Cond))
		p.indent++
		p.printBlock(s.Then)
		p.indent--
		if s.Else != nil {
			p.printf("else:\n")
			p.indent++
			p.printBlock(s.Else)
			p.indent--
		}
	default:
		p.printf("; unknown statement %T\n", stmt)
	}
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	if format != "\n" {
		if _, err := io.WriteString(p.w, strings.Repeat("  ", p.indent)); err != nil {
			p.err = err
			return
		}
	}
	if _, err := fmt.Fprintf(p.w, format, args...); err != nil {
		p.err = err
	}
}

// ExprString renders an expression the way the printer references it.
func ExprString(e Expression) string {
	switch x := e.(type) {
	case *Port:
		return x.Name
	case *Wire:
		return x.Name
	case *Reg:
		return x.Name
	case *RegInit:
		return x.Name
	case *Instance:
		return x.Name
	case *Subfield:
		return ExprString(x.Base) + "." + x.Name
	case *Constant:
		return fmt.Sprintf("%s(%d)", x.Typ.String(), x.Value)
	case *Prim:
		args := make([]string, 0, len(x.Args))
		for _, arg := range x.Args {
			args = append(args, ExprString(arg))
		}
		return fmt.Sprintf("%s(%s)", x.Kind.String(), strings.Join(args, ", "))
	case nil:
		return "<nil>"
	default:
		return fmt.Sprintf("<unknown expr %T>", e)
	}
}
