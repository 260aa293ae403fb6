// program.go - programs: a set of named methods and an entry point
//
// Programs are written as TOML:
//
//	entry = "main"
//
//	[[method]]
//	name = "main"
//	argc = 0
//	body = """
//	putself
//	putobject 10
//	opt_send_without_block double 1
//	leave
//	"""

package bytecode

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// Program is a linked set of methods.
type Program struct {
	Entry   string
	Methods []*Method

	byName map[string]*Method
}

// Method looks up a method by name.
func (p *Program) Method(name string) (*Method, bool) {
	m, ok := p.byName[name]
	return m, ok
}

// EntryMethod returns the method named by Entry.
func (p *Program) EntryMethod() (*Method, error) {
	m, ok := p.byName[p.Entry]
	if !ok {
		return nil, fmt.Errorf("bytecode: entry method %q not defined", p.Entry)
	}
	return m, nil
}

// programFile is the TOML shape of a program.
type programFile struct {
	Entry   string       `toml:"entry"`
	Methods []methodFile `toml:"method"`
}

type methodFile struct {
	Name string `toml:"name"`
	Argc int    `toml:"argc"`
	Body string `toml:"body"`
}

// LoadProgram reads a TOML program file.
func LoadProgram(path string, enc Coding) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProgram(data, enc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParseProgram decodes a TOML program, assembles every method body and
// verifies it. All methods are declared before any body is assembled, so
// sends may name methods defined later in the file and methods may call
// themselves.
func ParseProgram(data []byte, enc Coding) (*Program, error) {
	var pf programFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pf); err != nil {
		return nil, err
	}

	p := &Program{Entry: pf.Entry, byName: make(map[string]*Method, len(pf.Methods))}
	var errs error
	for _, mf := range pf.Methods {
		if err := p.declare(mf.Name, mf.Argc); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return nil, errs
	}
	for i, mf := range pf.Methods {
		m := p.Methods[i]
		if err := Assemble(m, mf.Body, enc, p.byName); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, Verify(m, enc))
	}
	errs = multierr.Append(errs, p.validateEntry())
	if errs != nil {
		return nil, errs
	}
	return p, nil
}

func (p *Program) declare(name string, argc int) error {
	if name == "" {
		return fmt.Errorf("bytecode: method %d has no name", len(p.Methods))
	}
	if _, dup := p.byName[name]; dup {
		return fmt.Errorf("bytecode: method %q defined twice", name)
	}
	if argc < 0 {
		return fmt.Errorf("bytecode: method %q has negative argc %d", name, argc)
	}
	m := NewMethod(name, argc, nil)
	p.Methods = append(p.Methods, m)
	p.byName[name] = m
	return nil
}

func (p *Program) validateEntry() error {
	if p.Entry == "" {
		return fmt.Errorf("bytecode: program has no entry")
	}
	_, err := p.EntryMethod()
	return err
}

// NewProgram links already built methods into a program.
func NewProgram(entry string, methods ...*Method) (*Program, error) {
	p := &Program{Entry: entry, byName: make(map[string]*Method, len(methods))}
	var errs error
	for _, m := range methods {
		if _, dup := p.byName[m.Name]; dup {
			errs = multierr.Append(errs, fmt.Errorf("bytecode: method %q defined twice", m.Name))
			continue
		}
		p.Methods = append(p.Methods, m)
		p.byName[m.Name] = m
	}
	errs = multierr.Append(errs, p.validateEntry())
	if errs != nil {
		return nil, errs
	}
	return p, nil
}
