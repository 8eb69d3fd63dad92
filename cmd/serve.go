package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/figsync/internal/httpapi"
)

// ServeCommand returns the serve command
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the figsync HTTP server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	a, err := bootstrap(c)
	if err != nil {
		return err
	}
	defer a.close()

	port := a.cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	server := httpapi.NewServer(a.engine, a.actions, a.outbox)
	return server.Start(port)
}
