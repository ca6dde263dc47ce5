// Package logflags configures component logging for kmon.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var monitor = false
var machine = false
var symbols = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Monitor returns true if the command console should log.
func Monitor() bool {
	return monitor
}

// MonitorLogger returns a logger for the command console.
func MonitorLogger() *logrus.Entry {
	return makeLogger(monitor, logrus.Fields{"layer": "monitor"})
}

// Machine returns true if the machine model should log.
func Machine() bool {
	return machine
}

// MachineLogger returns a logger for snapshot loading and memory inspection.
func MachineLogger() *logrus.Entry {
	return makeLogger(machine, logrus.Fields{"layer": "machine"})
}

// Symbols returns true if symbol-map loading should log.
func Symbols() bool {
	return symbols
}

// SymbolsLogger returns a logger for the symbol table.
func SymbolsLogger() *logrus.Entry {
	return makeLogger(symbols, logrus.Fields{"layer": "symbols"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets component log flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "monitor"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "monitor":
			monitor = true
		case "machine":
			machine = true
		case "symbols":
			symbols = true
		default:
			return errors.New("unknown log output " + logcmd)
		}
	}
	return nil
}
