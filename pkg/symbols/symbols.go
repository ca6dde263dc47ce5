// Package symbols loads a kernel symbol map and resolves code addresses to
// the containing function for the monitor's backtrace and kerninfo commands.
//
// The map format is one symbol per line, System.map style with an optional
// source location:
//
//	f0100000 T entry kern/entry.S:44
//	f0100040 t i386_init kern/init.c:24
//	f0117950 D kern_pgdir
//
// Lines starting with '#' and blank lines are ignored.
package symbols

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"github.com/ianlancetaylor/demangle"

	"github.com/go-kmon/kmon/pkg/logflags"
	"github.com/go-kmon/kmon/pkg/machine"
)

const resolveCacheSize = 256

// Sym is one entry of the symbol map.
type Sym struct {
	Addr uint32
	// Code is true for text symbols (map type letter t/T); only code
	// symbols take part in address resolution.
	Code bool
	Name string
	File string
	Line int
}

// Table is a searchable symbol table. Resolve never fails: addresses not
// covered by any code symbol get a placeholder instead of an error, so a
// backtrace keeps going when symbolization comes up empty.
type Table struct {
	code   []Sym // sorted by Addr
	byName map[string]uint32
	cache  *lru.Cache
}

// New builds a Table from syms.
func New(syms []Sym) *Table {
	t := &Table{byName: make(map[string]uint32, len(syms))}
	for _, s := range syms {
		if s.Code {
			t.code = append(t.code, s)
		}
		if _, ok := t.byName[s.Name]; !ok {
			t.byName[s.Name] = s.Addr
		}
	}
	sort.Slice(t.code, func(i, j int) bool { return t.code[i].Addr < t.code[j].Addr })
	t.cache, _ = lru.New(resolveCacheSize)
	return t
}

// LoadMap parses the symbol map at path.
func LoadMap(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	logflags.SymbolsLogger().Debugf("loaded %s: %d code symbols", path, len(t.code))
	return t, nil
}

// Parse reads a symbol map from r.
func Parse(r io.Reader) (*Table, error) {
	var syms []Sym
	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: expected \"addr type name [file:line]\"", lineno)
		}
		addr, err := strconv.ParseUint(fields[0], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad address %q", lineno, fields[0])
		}
		if len(fields[1]) != 1 {
			return nil, fmt.Errorf("line %d: bad symbol type %q", lineno, fields[1])
		}
		s := Sym{
			Addr: uint32(addr),
			Code: fields[1] == "t" || fields[1] == "T",
			Name: demangle.Filter(fields[2]),
		}
		if len(fields) >= 4 {
			loc := fields[3]
			if colon := strings.LastIndex(loc, ":"); colon >= 0 {
				s.File = loc[:colon]
				s.Line, _ = strconv.Atoi(loc[colon+1:])
			} else {
				s.File = loc
			}
		}
		syms = append(syms, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return New(syms), nil
}

// Resolve implements machine.Resolver: it returns the code symbol with the
// greatest address not above addr. Results are cached.
func (t *Table) Resolve(addr uint32) machine.FuncInfo {
	if v, ok := t.cache.Get(addr); ok {
		return v.(machine.FuncInfo)
	}
	i := sort.Search(len(t.code), func(i int) bool { return t.code[i].Addr > addr }) - 1
	if i < 0 {
		return machine.UnknownFuncInfo(addr)
	}
	s := t.code[i]
	fi := machine.FuncInfo{Name: s.Name, File: s.File, Line: s.Line, Start: s.Addr}
	if fi.File == "" {
		fi.File = "<unknown>"
	}
	t.cache.Add(addr, fi)
	return fi
}

// LookupName returns the address of the named symbol, code or data.
func (t *Table) LookupName(name string) (uint32, bool) {
	addr, ok := t.byName[name]
	return addr, ok
}

// Count returns the number of code symbols in the table.
func (t *Table) Count() int {
	return len(t.code)
}
