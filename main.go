package main

import (
	"fmt"
	"os"

	"github.com/allisson/go-env"
	"github.com/urfave/cli/v2"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kdimentionaltree/ton-index-worker/cmd/indexer"
	"github.com/kdimentionaltree/ton-index-worker/cmd/scanner"
	"github.com/kdimentionaltree/ton-index-worker/cmd/tracer"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.InfoLevel
	if env.GetBool("DEBUG_LOGS", false) {
		level = zerolog.DebugLevel
	}

	// add file and line number to log
	log.Logger = log.With().Caller().Logger().Level(level)
}

func main() {
	app := &cli.App{
		Name:  "ton-index-worker",
		Usage: "an indexing worker for TON masterchain blocks",
		Commands: []*cli.Command{
			indexer.Command,
			scanner.Command,
			tracer.Command,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(2)
	}
}
