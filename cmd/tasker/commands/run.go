package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *CLI) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a batch of step-flow tasks and wait for them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			tasks, _ := cmd.Flags().GetInt("tasks")
			single, _ := cmd.Flags().GetBool("single")
			failEvery, _ := cmd.Flags().GetInt("fail-every")

			if tasks <= 0 {
				return fmt.Errorf("--tasks must be positive, got %d", tasks)
			}
			if failEvery < 0 {
				return fmt.Errorf("--fail-every must not be negative, got %d", failEvery)
			}

			return c.app.Run(cmd.Context(), RunOptions{
				ConfigPath: configPath,
				Tasks:      tasks,
				Single:     single,
				FailEvery:  failEvery,
			})
		},
	}
	cmd.Flags().IntP("tasks", "n", 10, "Number of tasks to submit")
	cmd.Flags().Bool("single", false, "Give every task the single policy so they run one at a time")
	cmd.Flags().Int("fail-every", 0, "Make every k-th task fail a critical step (0 disables)")
	return cmd
}
