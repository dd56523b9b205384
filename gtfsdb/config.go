package gtfsdb

import "transiter.dev/transiter/internal/appconf"

// Config configures a Client.
type Config struct {
	// DBPath is a file path or ":memory:".
	DBPath string
	Env    appconf.Environment
	// verbose enables progress logging during setup.
	verbose bool
}

func NewConfig(dbPath string, env appconf.Environment, verbose bool) Config {
	return Config{
		DBPath:  dbPath,
		Env:     env,
		verbose: verbose,
	}
}
