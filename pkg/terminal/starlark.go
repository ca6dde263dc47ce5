package terminal

import (
	"strings"

	"github.com/go-kmon/kmon/pkg/terminal/starbind"
)

// starlarkContext implements the starbind.Context interface on top of a
// Term, giving starlark scripts access to the monitor's command table.
type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, cmdfn func(args string) error) {
	cmdfnintl := func(t *Term, args []string) error {
		return cmdfn(strings.Join(args, " "))
	}
	found := false
	for i := range ctx.term.cmds.cmds {
		cmd := &ctx.term.cmds.cmds[i]
		for _, alias := range cmd.aliases {
			if alias == name {
				cmd.cmdFn = cmdfnintl
				cmd.helpMsg = helpMsg
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		newcmd := command{
			aliases: []string{name},
			helpMsg: helpMsg,
			cmdFn:   cmdfnintl,
		}
		ctx.term.cmds.cmds = append(ctx.term.cmds.cmds, newcmd)
	}
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
