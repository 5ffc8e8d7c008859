package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type Options struct {
	ConfigPath string
	Verbose    bool
}

// RootCommand carries the persistent options shared by every subcommand.
type RootCommand struct {
	*cobra.Command
	Options Options
}

func Init(name, short string) *RootCommand {
	cmd := &RootCommand{
		Command: &cobra.Command{
			Use:           name,
			Short:         short,
			SilenceUsage:  true,
			SilenceErrors: true,
		},
	}
	cmd.initFlags()

	return cmd
}

// MustExecute runs the command tree and exits with status 1 on failure.
func (c *RootCommand) MustExecute(ctx context.Context) {
	if err := c.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(c.ErrOrStderr(), "%s: %v\n", c.Name(), err)
		os.Exit(1)
	}
}
