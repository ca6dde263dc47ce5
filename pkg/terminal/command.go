// Package terminal implements the interactive monitor console: it reads
// command lines, dispatches to the inspector commands and formats their
// records for the output sink.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cosiner/argv"

	"github.com/go-kmon/kmon/pkg/addrutil"
	"github.com/go-kmon/kmon/pkg/config"
	"github.com/go-kmon/kmon/pkg/logflags"
	"github.com/go-kmon/kmon/pkg/machine"
	"github.com/go-kmon/kmon/pkg/memlayout"
)

// maxArgs bounds the argument list of a single command line.
const maxArgs = 16

type cmdfunc func(t *Term, args []string) error

type command struct {
	aliases        []string
	builtinAliases []string
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this
// command.
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the monitor console. The registry is
// built once at startup and read-only afterwards except for alias merging
// and script-defined commands.
type Commands struct {
	cmds []command
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Display this list of commands.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"kerninfo"}, cmdFn: kerninfo, helpMsg: `Display information about the kernel.

Prints the special kernel symbols (_start, entry, etext, edata, end) with
their virtual and physical addresses, and the kernel's memory footprint.`},
		{aliases: []string{"backtrace", "bt"}, cmdFn: backtrace, helpMsg: `Display backtrace of the saved frame-pointer chain.

One record per frame: the frame base, the return address, the five recorded
argument words, and the source location resolved from the symbol map. The
chain carries no validity information; set max-stack-depth in the config
file to bound walks over corrupted stacks.`},
		{aliases: []string{"showmapping"}, cmdFn: showmapping, helpMsg: `Display the physical page mappings applying to a range of virtual addresses.

	showmapping 0x<start_addr> 0x<end_addr>

Both addresses are rounded down to page boundaries. One line per page with
the backing physical address and the writable/user permission bits, or
"No Mapping".`},
		{aliases: []string{"setperm"}, cmdFn: setperm, helpMsg: `Explicitly set permissions of any mapping.

	setperm 0x<virtual address> 0x<permission>

Only the low 12 bits of the permission word are used. The physical frame is
preserved and the present bit is always re-asserted: this command cannot
unmap a page.`},
		{aliases: []string{"dumpmem"}, cmdFn: dumpmem, helpMsg: `Dump the contents of a range of memory (va/pa).

	dumpmem <p/v> 0x<address> <n>

Prints n 4-byte units starting at the given address, one unit per line.
Virtual dumps report "No mapping" for units whose page is not mapped;
physical dumps reject ranges extending past installed memory.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list
	config -save
	config max-stack-depth <n>

-list shows the current configuration values. -save writes them back to the
config file. Setting max-stack-depth bounds the number of frames backtrace
will walk; 0 removes the bound.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of monitor commands.

	source <path>

If path ends with the .star extension it is interpreted as a starlark
script.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the monitor.`},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input. It
// returns nil if no command matches.
func (c *Commands) Find(cmdstr string) cmdfunc {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}
	return nil
}

// Call tokenizes the command line and invokes the matching command. Unknown
// commands and over-long argument lists produce a diagnostic on the console
// and a nil error: they never stop the read loop.
func (c *Commands) Call(cmdstr string, t *Term) error {
	if logflags.Monitor() {
		logflags.MonitorLogger().Debugf("command %q", cmdstr)
	}
	args, err := parseCommandLine(cmdstr)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return nil
	}
	if len(args) > maxArgs {
		fmt.Fprintf(t.stdout, "Too many arguments (max %d)\n", maxArgs)
		return nil
	}
	cmdFn := c.Find(args[0])
	if cmdFn == nil {
		fmt.Fprintf(t.stdout, "Unknown command '%s'\n", args[0])
		return nil
	}
	return cmdFn(t, args[1:])
}

// parseCommandLine splits one input line into tokens. The input line is
// never mutated; tokens are fresh strings.
func parseCommandLine(cmdstr string) ([]string, error) {
	v, err := argv.Argv(cmdstr,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return v[0], nil
}

// Merge takes aliases defined in the config struct and merges them with the
// default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var noCmdError = errors.New("command not available")

func (c *Commands) help(t *Term, args []string) error {
	if len(args) > 0 {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args[0] {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return noCmdError
	}

	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		fmt.Fprintf(t.stdout, "%s - %s\n", cmd.aliases[0], h)
	}
	return nil
}

func kerninfo(t *Term, args []string) error {
	kb := t.machine.Layout.KernBase
	start := t.lookupName("_start")
	entry := t.lookupName("entry")
	etext := t.lookupName("etext")
	edata := t.lookupName("edata")
	end := t.lookupName("end")

	fmt.Fprintf(t.stdout, "Special kernel symbols:\n")
	fmt.Fprintf(t.stdout, "  _start                  %08x (phys)\n", start)
	fmt.Fprintf(t.stdout, "  entry  %08x (virt)  %08x (phys)\n", entry, entry-kb)
	fmt.Fprintf(t.stdout, "  etext  %08x (virt)  %08x (phys)\n", etext, etext-kb)
	fmt.Fprintf(t.stdout, "  edata  %08x (virt)  %08x (phys)\n", edata, edata-kb)
	fmt.Fprintf(t.stdout, "  end    %08x (virt)  %08x (phys)\n", end, end-kb)
	fmt.Fprintf(t.stdout, "Kernel executable memory footprint: %dKB\n",
		addrutil.RoundUp(end-entry, 1024)/1024)
	return nil
}

func backtrace(t *Term, args []string) error {
	maxDepth := 0
	if t.conf != nil && t.conf.MaxStackDepth != nil {
		maxDepth = *t.conf.MaxStackDepth
	}

	t.pageMaybe()
	fmt.Fprintf(t.stdout, "Stack backtrace:\n")
	it := machine.Unwind(t.machine.VirtMemory(), t.resolver(), t.machine.Regs.EBP, maxDepth)
	for it.Next() {
		f := it.Frame()
		fmt.Fprintf(t.stdout, "  ebp %08x  eip %08x  args %08x %08x %08x %08x %08x\n",
			f.FrameBase, f.Ret, f.Args[0], f.Args[1], f.Args[2], f.Args[3], f.Args[4])
		fmt.Fprintf(t.stdout, "         %s:%d: %s+%d\n", f.Fn.File, f.Fn.Line, f.Fn.Name, f.FnOffset())
	}
	return it.Err()
}

func showmapping(t *Term, args []string) error {
	if len(args) != 2 {
		fmt.Fprintf(t.stdout, "usage: showmapping 0x<start_addr> 0x<end_addr>\n")
		return nil
	}
	startAddr := addrutil.RoundDown(addrutil.ParseHex(args[0]), memlayout.PageSize)
	endAddr := addrutil.RoundDown(addrutil.ParseHex(args[1]), memlayout.PageSize)
	fmt.Fprintf(t.stdout, "start_addr: %08x\tend_addr: %08x\n", startAddr, endAddr)

	t.pageMaybe()
	pt := t.machine.PageTable()
	for va := startAddr; va <= endAddr; va += memlayout.PageSize {
		entry, err := pt.Probe(va)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "VA: 0x%08x\t", va)
		if entry.Present {
			fmt.Fprintf(t.stdout, "PA: 0x%08x\tPTE_W: %d\tPTE_U: %d\n",
				entry.PhysAddr, boolBit(entry.Writable), boolBit(entry.UserAccessible))
		} else {
			fmt.Fprintf(t.stdout, "PA: No Mapping\n")
		}
		if va > ^uint32(0)-memlayout.PageSize {
			break // next page would wrap past the top of the address space
		}
	}
	return nil
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

func setperm(t *Term, args []string) error {
	if len(args) != 2 {
		fmt.Fprintf(t.stdout, "usage: setperm 0x<virtual address> 0x<permission>\n")
		fmt.Fprintf(t.stdout, "permission: PTE_U=0x4, PTE_W=0x2, Clear=0x0, use | to combine bits\n")
		return nil
	}
	va := addrutil.ParseHex(args[0])
	perm := addrutil.ParseHex(args[1]) & memlayout.PermMask

	err := t.machine.PageTable().SetPermission(va, perm)
	var nm machine.NoMappingError
	if errors.As(err, &nm) {
		fmt.Fprintf(t.stdout, "There's no mapping at 0x%08x\n", va)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Permission 0x%08x has been set at 0x%08x\n", perm, va)
	return nil
}

const dumpmemUsage = "usage: dumpmem <p/v> 0x<address> 0x<n: number of 4bytes' memory unit>\n" +
	"p/v: use physical or virtual address\n" +
	"n : display 4n bytes, since we consider 4Bytes as a memory unit\n"

func dumpmem(t *Term, args []string) error {
	if len(args) != 3 {
		fmt.Fprint(t.stdout, dumpmemUsage)
		return nil
	}
	if len(args[0]) == 0 || (args[0][0] != 'p' && args[0][0] != 'v') {
		fmt.Fprint(t.stdout, dumpmemUsage)
		return nil
	}

	space := machine.Virtual
	if args[0][0] == 'p' {
		space = machine.Physical
	}
	startAddr := addrutil.RoundDown(addrutil.ParseHex(args[1]), machine.UnitLen)
	n := addrutil.ParseDec(args[2]) * machine.UnitLen

	it, err := machine.NewDump(t.machine, machine.AddressRange{Start: startAddr, Length: n, Space: space})
	var re machine.RangeError
	if errors.As(err, &re) {
		fmt.Fprintf(t.stdout, "Range out of memory!\n")
		return nil
	}
	if err != nil {
		return err
	}

	t.pageMaybe()
	for it.Next() {
		rec := it.Record()
		switch {
		case space == machine.Physical:
			fmt.Fprintf(t.stdout, "PA: 0x%08x\tContent: %02x\n", rec.Addr, rec.Content)
		case rec.Mapped:
			fmt.Fprintf(t.stdout, "VA: 0x%08x\tPA: 0x%08x\tContent: %02x\n", rec.Addr, rec.PhysAddr, rec.Content)
		default:
			fmt.Fprintf(t.stdout, "VA: 0x%08x\tPA: No mapping\tContent: None\n", rec.Addr)
		}
	}
	return it.Err()
}

func configureCmd(t *Term, args []string) error {
	switch {
	case len(args) == 0 || args[0] == "-list":
		return configureList(t)
	case args[0] == "-save":
		return config.SaveConfig(t.conf)
	case args[0] == "max-stack-depth" && len(args) == 2:
		depth := int(addrutil.ParseDec(args[1]))
		if depth == 0 {
			t.conf.MaxStackDepth = nil
		} else {
			t.conf.MaxStackDepth = &depth
		}
		return nil
	}
	return errors.New("usage: config -list | config -save | config max-stack-depth <n>")
}

func configureList(t *Term) error {
	if t.conf.MaxStackDepth != nil {
		fmt.Fprintf(t.stdout, "max-stack-depth\t%d\n", *t.conf.MaxStackDepth)
	} else {
		fmt.Fprintf(t.stdout, "max-stack-depth\t<not defined>\n")
	}
	for name, aliases := range t.conf.Aliases {
		fmt.Fprintf(t.stdout, "alias %s\t%v\n", name, aliases)
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, args []string) error {
	if len(args) != 1 {
		return errors.New("wrong number of arguments: source <filename>")
	}
	if strings.HasSuffix(args[0], ".star") {
		_, err := t.starlarkEnv.Execute(args[0], nil, "main")
		return err
	}
	return c.executeFile(t, args[0])
}

// ExitRequestError is returned when the user exits the monitor.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args []string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
