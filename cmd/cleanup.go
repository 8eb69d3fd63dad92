package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// CleanupCommand returns the cleanup command
func CleanupCommand() *cli.Command {
	return &cli.Command{
		Name:   "cleanup",
		Usage:  "Delete finished outbox operations past the retention window",
		Action: runCleanup,
	}
}

func runCleanup(c *cli.Context) error {
	a, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer a.close()

	deleted, err := a.outbox.Cleanup(c.Context)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	fmt.Printf("Deleted %d expired operations\n", deleted)
	return nil
}
