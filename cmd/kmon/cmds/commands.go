// Package cmds implements the kmon command line interface.
package cmds

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-kmon/kmon/pkg/config"
	"github.com/go-kmon/kmon/pkg/logflags"
	"github.com/go-kmon/kmon/pkg/machine"
	"github.com/go-kmon/kmon/pkg/symbols"
	"github.com/go-kmon/kmon/pkg/terminal"
	"github.com/go-kmon/kmon/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce
	// debug output.
	logOutput string
	// initFile is the path to a file containing commands to run on startup.
	initFile string
	// symbolFile is the path to a kernel symbol map.
	symbolFile string

	conf *config.Config
)

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main kmon root command.
	rootCommand := &cobra.Command{
		Use:   "kmon",
		Short: "Kmon is a console for inspecting halted kernel images.",
		Long: `Kmon loads a memory snapshot of a halted 32-bit kernel and drops into an
interactive monitor. The monitor resolves the snapshot's page table and
frame-pointer chain, so mappings, permissions, raw memory and backtraces can
be examined without the machine running.

Pass flags to kmon, e.g. "kmon --log core mem.snap".`,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (eg: --log-output=monitor,machine)
Accepted values:
	monitor		Log command dispatch
	machine		Log snapshot loading and memory access
	symbols		Log symbol map loading`)
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the monitor before the first prompt.")

	coreCommand := &cobra.Command{
		Use:   "core <snapshot>",
		Short: "Examine a halted machine snapshot.",
		Long: `Examine a halted machine snapshot.

Loads the snapshot and starts the monitor on the machine state it records.
With --symbols, backtraces and kerninfo resolve addresses against the given
symbol map.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(coreCmd(args))
		},
	}
	coreCommand.Flags().StringVar(&symbolFile, "symbols", "", "Kernel symbol map (System.map format).")
	rootCommand.AddCommand(coreCommand)

	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Kmon Monitor\n%s\nGo version: %s\n", version.KmonVersion, version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func coreCmd(args []string) int {
	if err := logflags.Setup(log, logOutput); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	m, err := machine.LoadSnapshot(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	var syms *symbols.Table
	if symbolFile != "" {
		syms, err = symbols.LoadMap(symbolFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	term := terminal.New(m, syms, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
