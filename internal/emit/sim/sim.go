// Package sim executes the ARMLite subset produced by the emit backend and
// captures the screen at every frame boundary.
package sim

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/armlite-video/framepack/internal/mask"
)

// Memory map
const (
	DataBase   = 0x10000
	ScreenBase = 0x1000000
	Black      = 0x000000
)

// DefaultMaxSteps bounds a run so a broken program cannot spin forever
const DefaultMaxSteps = 500_000_000

var (
	ErrSyntax    = errors.New("syntax error")
	ErrStepLimit = errors.New("step limit reached")
)

type operand struct {
	reg   int // -1 when not a register
	imm   int
	label string
	port  string // .PixelScreen, .ClearScreen

	// memory operand [reg] or [reg+index]
	mem   bool
	index int
}

type instr struct {
	line int
	op   string
	args []operand
}

// Program is a parsed ARMLite source
type Program struct {
	code   []instr
	labels map[string]int // code labels -> instruction index
	data   []byte
	addrs  map[string]int // data labels -> absolute address
}

// Parse reads an ARMLite program
func Parse(r io.Reader) (*Program, error) {
	p := &Program{labels: map[string]int{}, addrs: map[string]int{}}
	var pending []instr
	inData := false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			name := strings.TrimSuffix(line, ":")
			if inData {
				p.addrs[name] = DataBase + len(p.data)
			} else {
				p.labels[name] = len(pending)
			}
			continue
		}
		if line == ".DATA" {
			inData = true
			continue
		}

		fields := strings.SplitN(line, " ", 2)
		op := strings.ToUpper(fields[0])
		rest := ""
		if len(fields) > 1 {
			rest = fields[1]
		}

		if inData {
			if err := p.directive(op, rest); err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrSyntax, lineNo, err)
			}
			continue
		}
		in := instr{line: lineNo, op: op}
		if rest != "" {
			for _, s := range strings.Split(rest, ",") {
				in.args = append(in.args, parseOperand(strings.TrimSpace(s)))
			}
		}
		pending = append(pending, in)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	p.code = pending
	return p, nil
}

func (p *Program) directive(op, rest string) error {
	switch op {
	case ".WORD":
		v, err := strconv.ParseInt(strings.TrimSpace(rest), 0, 64)
		if err != nil {
			return err
		}
		p.data = binary.LittleEndian.AppendUint32(p.data, uint32(int32(v)))
	case ".BYTE":
		for _, s := range strings.Split(rest, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
			if err != nil {
				return err
			}
			p.data = append(p.data, byte(v))
		}
	default:
		return fmt.Errorf("unknown directive %s", op)
	}
	return nil
}

func parseRegister(s string) int {
	if len(s) < 2 || (s[0] != 'R' && s[0] != 'r') {
		return -1
	}
	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 || n > 12 {
		return -1
	}
	return n
}

func parseOperand(s string) operand {
	o := operand{reg: parseRegister(s), index: -1}
	switch {
	case o.reg >= 0:
	case strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]"):
		o.mem = true
		inner := s[1 : len(s)-1]
		base, idx, _ := strings.Cut(inner, "+")
		o.reg = parseRegister(strings.TrimSpace(base))
		if idx != "" {
			o.index = parseRegister(strings.TrimSpace(idx))
		}
	case strings.HasPrefix(s, "#"):
		s = s[1:]
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			o.imm = int(v)
		} else {
			o.label = s
		}
	case strings.HasPrefix(s, "."):
		o.port = s
	default:
		o.label = s
	}
	return o
}

// Options bounds a run
type Options struct {
	MaxSteps int
}

// Result holds the captured frames
type Result struct {
	Frames []*mask.PixelSet
	Steps  int
	// Stray counts pixel writes that fell outside the screen
	Stray int
}

type machine struct {
	prog   *Program
	regs   [13]int
	flagN  bool
	flagZ  bool
	screen []int
	width  int
	height int
	res    *Result

	// started is set by the first screen clear
	started bool
}

// Run executes the program on a width x height screen. A frame is captured
// before every screen clear that follows drawing, and at HALT.
func (p *Program) Run(width, height int, opts Options) (*Result, error) {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	m := &machine{
		prog:   p,
		screen: make([]int, width*height),
		width:  width,
		height: height,
		res:    &Result{},
	}
	m.clear()

	pc := 0
	for pc < len(p.code) {
		if m.res.Steps >= opts.MaxSteps {
			return m.res, ErrStepLimit
		}
		m.res.Steps++
		in := p.code[pc]
		next, halt, err := m.step(in, pc)
		if err != nil {
			return m.res, fmt.Errorf("line %d: %s: %w", in.line, in.op, err)
		}
		if halt {
			m.capture()
			return m.res, nil
		}
		pc = next
	}
	return m.res, fmt.Errorf("%w: program ran past its last instruction", ErrSyntax)
}

func (m *machine) clear() {
	for i := range m.screen {
		m.screen[i] = 0xFFFFFF
	}
}

func (m *machine) capture() {
	s := mask.NewPixelSet()
	for i, v := range m.screen {
		if v == Black {
			s.Add(i)
		}
	}
	m.res.Frames = append(m.res.Frames, s)
}

func (m *machine) value(o operand) (int, error) {
	switch {
	case o.mem:
		return 0, fmt.Errorf("%w: unexpected memory operand", ErrSyntax)
	case o.reg >= 0:
		return m.regs[o.reg], nil
	case o.port == ".PixelScreen" || o.label == ".PixelScreen":
		return ScreenBase, nil
	case o.label != "":
		addr, ok := m.prog.addrs[o.label]
		if !ok {
			return 0, fmt.Errorf("%w: unknown data label %q", ErrSyntax, o.label)
		}
		return addr, nil
	default:
		return o.imm, nil
	}
}

func (m *machine) address(o operand) (int, error) {
	if !o.mem || o.reg < 0 {
		return 0, fmt.Errorf("%w: expected [Rn] or [Rn+Rm]", ErrSyntax)
	}
	addr := m.regs[o.reg]
	if o.index >= 0 {
		addr += m.regs[o.index]
	}
	return addr, nil
}

func (m *machine) load(addr, size int) (int, error) {
	off := addr - DataBase
	if off < 0 || off+size > len(m.prog.data) {
		return 0, fmt.Errorf("load outside data at %#x", addr)
	}
	if size == 1 {
		return int(m.prog.data[off]), nil
	}
	return int(int32(binary.LittleEndian.Uint32(m.prog.data[off:]))), nil
}

func (m *machine) store(addr, v int) {
	off := addr - ScreenBase
	if off < 0 || off%4 != 0 || off/4 >= len(m.screen) {
		m.res.Stray++
		return
	}
	m.screen[off/4] = v
}

func (m *machine) branch(label string) (int, error) {
	target, ok := m.prog.labels[label]
	if !ok {
		return 0, fmt.Errorf("%w: unknown code label %q", ErrSyntax, label)
	}
	return target, nil
}

func (m *machine) step(in instr, pc int) (next int, halt bool, err error) {
	next = pc + 1
	arg := func(i int) (int, error) {
		if i >= len(in.args) {
			return 0, fmt.Errorf("%w: missing operand %d", ErrSyntax, i+1)
		}
		return m.value(in.args[i])
	}
	dst := func() (int, error) {
		if len(in.args) == 0 || in.args[0].reg < 0 || in.args[0].mem {
			return 0, fmt.Errorf("%w: destination must be a register", ErrSyntax)
		}
		return in.args[0].reg, nil
	}

	switch in.op {
	case "HALT":
		return next, true, nil

	case "MOV":
		d, err := dst()
		if err != nil {
			return 0, false, err
		}
		v, err := arg(1)
		if err != nil {
			return 0, false, err
		}
		m.regs[d] = v

	case "ADD", "SUB", "AND", "LSL", "LSR":
		d, err := dst()
		if err != nil {
			return 0, false, err
		}
		a, err := arg(1)
		if err != nil {
			return 0, false, err
		}
		b, err := arg(2)
		if err != nil {
			return 0, false, err
		}
		switch in.op {
		case "ADD":
			m.regs[d] = a + b
		case "SUB":
			m.regs[d] = a - b
		case "AND":
			m.regs[d] = a & b
		case "LSL":
			m.regs[d] = a << uint(b)
		case "LSR":
			m.regs[d] = int(uint32(a) >> uint(b))
		}

	case "CMP":
		a, err := arg(0)
		if err != nil {
			return 0, false, err
		}
		b, err := arg(1)
		if err != nil {
			return 0, false, err
		}
		m.flagZ = a == b
		m.flagN = a < b

	case "B", "BEQ", "BNE", "BLT", "BGE":
		if len(in.args) != 1 {
			return 0, false, fmt.Errorf("%w: branch needs a label", ErrSyntax)
		}
		take := map[string]bool{
			"B":   true,
			"BEQ": m.flagZ,
			"BNE": !m.flagZ,
			"BLT": m.flagN,
			"BGE": !m.flagN,
		}[in.op]
		if take {
			target, err := m.branch(in.args[0].label)
			return target, false, err
		}

	case "LDR", "LDRB":
		d, err := dst()
		if err != nil {
			return 0, false, err
		}
		if len(in.args) < 2 {
			return 0, false, fmt.Errorf("%w: missing address", ErrSyntax)
		}
		addr, err := m.address(in.args[1])
		if err != nil {
			return 0, false, err
		}
		size := 4
		if in.op == "LDRB" {
			size = 1
		}
		v, err := m.load(addr, size)
		if err != nil {
			return 0, false, err
		}
		m.regs[d] = v

	case "STR":
		v, err := arg(0)
		if err != nil {
			return 0, false, err
		}
		if len(in.args) < 2 {
			return 0, false, fmt.Errorf("%w: missing address", ErrSyntax)
		}
		if in.args[1].port == ".ClearScreen" {
			if m.started {
				m.capture()
			}
			m.clear()
			m.started = true
			return next, false, nil
		}
		addr, err := m.address(in.args[1])
		if err != nil {
			return 0, false, err
		}
		m.store(addr, v)

	default:
		return 0, false, fmt.Errorf("%w: unsupported instruction", ErrSyntax)
	}
	return next, false, nil
}
