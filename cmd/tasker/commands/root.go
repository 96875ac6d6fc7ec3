// Package commands implements the CLI commands for tasker.
package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/phrazzld/tasker/internal/build"
	"github.com/spf13/cobra"
)

// RunOptions carries the flags of the run command.
type RunOptions struct {
	ConfigPath string
	Tasks      int
	Single     bool
	FailEvery  int
}

// Application represents the application logic interface.
type Application interface {
	Run(ctx context.Context, opts RunOptions) error
}

// CLI represents the command line interface for tasker.
type CLI struct {
	app     Application
	rootCmd *cobra.Command
}

// New creates a new CLI instance with the given app.
func New(a Application) *CLI {
	rootCmd := &cobra.Command{
		Use:           "tasker",
		Short:         "Run a demo workload on the embeddable task engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build.Version,
	}

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"{{.Name}} version {{.Version}} (commit: %s, date: %s)\n",
		build.Commit,
		build.Date,
	))
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file (default ./tasker.yaml if present)")

	c := &CLI{
		app:     a,
		rootCmd: rootCmd,
	}

	rootCmd.AddCommand(c.newRunCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}

// SetOutput sets the output and error streams for the root command. Used for testing.
func (c *CLI) SetOutput(out, err io.Writer) {
	c.rootCmd.SetOut(out)
	c.rootCmd.SetErr(err)
}
