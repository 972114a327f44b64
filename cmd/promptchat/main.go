package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "promptchat",
		Usage:          "Serve a conversational prompt endpoint backed by a local language model",
		Commands:       []*cli.Command{serveCommand, modelsCommand},
		DefaultCommand: serveCommand.Name,
	}
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "Start the HTTP server",
	Description: `Serves POST /prompt and the static front-end. Configuration comes from the environment
(and a .env file when present); flags override it.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "port",
			Usage: "Listen port (overrides PORT)",
		},
		&cli.StringFlag{
			Name:  "host",
			Usage: "Listen address (overrides HOST)",
		},
		&cli.StringFlag{
			Name:    "model",
			Aliases: []string{"m"},
			Usage:   "Model identifier (overrides LLM_MODEL)",
		},
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "Backend base URL (overrides OLLAMA_BASE_URL)",
		},
		&cli.StringFlag{
			Name:  "provider",
			Usage: "Backend API, openai or ollama (overrides LLM_PROVIDER)",
		},
		&cli.BoolFlag{
			Name:  "stream",
			Usage: "Stream answers as they are generated (overrides STREAM_RESPONSES)",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return serve(c.Context, cfg)
	},
}

var modelsCommand = &cli.Command{
	Name:  "models",
	Usage: "List the models installed on the Ollama server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "base-url",
			Usage: "Backend base URL (overrides OLLAMA_BASE_URL)",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		return listModels(c.Context, c.App.Writer, cfg)
	},
}
