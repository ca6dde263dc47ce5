package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/go-delve/liner"

	"github.com/go-kmon/kmon/pkg/config"
	"github.com/go-kmon/kmon/pkg/machine"
	"github.com/go-kmon/kmon/pkg/symbols"
	"github.com/go-kmon/kmon/pkg/terminal/starbind"
)

const historyFile string = ".kmon_history"

// Term represents the terminal running the monitor.
type Term struct {
	machine  *machine.Machine
	syms     *symbols.Table
	conf     *config.Config
	prompt   string
	line     *liner.State
	cmds     *Commands
	dumb     bool
	stdout   *pagingWriter
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term operating on m. syms may be nil, in which case
// backtraces carry the unknown placeholder and kerninfo prints zeros.
func New(m *machine.Machine, syms *symbols.Table, conf *config.Config) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
	} else {
		w = getColorableWriter()
	}

	t := &Term{
		machine: m,
		syms:    syms,
		conf:    conf,
		prompt:  "K> ",
		line:    liner.NewLiner(),
		cmds:    cmds,
		dumb:    dumb,
		stdout:  &pagingWriter{w: w},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(os.Stderr, "received SIGINT\n")
	}
}

// Run begins running the monitor in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	go t.sigintGuard(ch)

	cmdTrie := trie.New()
	for _, cmd := range t.cmds.cmds {
		for _, alias := range cmd.aliases {
			cmdTrie.Add(alias, nil)
		}
	}
	t.line.SetCompleter(func(line string) []string {
		return cmdTrie.PrefixSearch(strings.ToLower(line))
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}

	fmt.Println("Welcome to the kernel monitor!")
	fmt.Println("Type 'help' for a list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		t.stdout.Reset()
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Println("exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Command failed: %s\n", err)
		}
	}
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
	return 0, nil
}

// resolver returns the symbol service backtraces resolve through, or nil
// when no symbol map was loaded.
func (t *Term) resolver() machine.Resolver {
	if t.syms == nil {
		return nil
	}
	return t.syms
}

func (t *Term) lookupName(name string) uint32 {
	if t.syms == nil {
		return 0
	}
	addr, _ := t.syms.LookupName(name)
	return addr
}

// pageMaybe arranges for large output of the current command to be piped to
// a pager.
func (t *Term) pageMaybe() {
	t.stdout.PageMaybe()
}
