package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// SyncCommand returns the sync command
func SyncCommand() *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Run a one-shot full sync for a file",
		ArgsUsage: "FILE_KEY",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Force full sync: ignore local history and include closed threads",
			},
		},
		Action: runSync,
	}
}

func runSync(c *cli.Context) error {
	fileKey := c.Args().First()
	if fileKey == "" {
		return fmt.Errorf("file key argument is required")
	}

	a, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.engine.FullSync(c.Context, fileKey, c.Bool("force"))
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
