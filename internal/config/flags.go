package config

import (
	"flag"
	"os"

	"github.com/luyichen/pikapost/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-m string   backend mode: rest or sql
//	-e string   REST endpoint URL
//	-d string   database DSN for sql mode
//	-l string   log level (debug, info, warn, error)
//
// The args are filtered through flagx.FilterArgs so the flag set never sees
// flags owned by other components (cobra owns the rest of the command line).
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-m", "-e", "-d", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.Mode, "m", cfg.Mode, "backend mode: rest or sql")
	fs.StringVar(&cfg.RESTEndpoint, "e", cfg.RESTEndpoint, "REST endpoint URL")
	fs.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "database DSN")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
