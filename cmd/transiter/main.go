// Command transiter installs transit systems, runs their feed updates and
// serves the admin API.
package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"transiter.dev/transiter/internal/app"
	"transiter.dev/transiter/internal/appconf"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	env        string
	logLevel   string
	logFormat  string
	apiKeys    string
	rateLimit  int
}

func main() {
	_ = godotenv.Load()
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "transiter",
		Short:         "Import GTFS and GTFS-Realtime feeds into a queryable database",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("TRANSITER_CONFIG"), "path to a YAML configuration file")
	flags.StringVar(&opts.dbPath, "db", envOr("TRANSITER_DB", "transiter.db"), "path to the SQLite database")
	flags.StringVar(&opts.env, "env", envOr("TRANSITER_ENV", "development"), "environment: development, test or production")
	flags.StringVar(&opts.logLevel, "log-level", envOr("TRANSITER_LOG_LEVEL", "info"), "log level: debug, info, warn or error")
	flags.StringVar(&opts.logFormat, "log-format", envOr("TRANSITER_LOG_FORMAT", "text"), "log format: text or json")
	flags.StringVar(&opts.apiKeys, "api-keys", os.Getenv("TRANSITER_API_KEYS"), "comma separated keys accepted by admin endpoints")
	flags.IntVar(&opts.rateLimit, "rate-limit", envInt("TRANSITER_RATE_LIMIT", 0), "admin API requests per second per key, 0 disables limiting")

	var withApp appRunner = func(run func(cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config(cmd)
			if err != nil {
				return err
			}
			a, err := BuildApplication(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return run(cmd, a, args)
		}
	}

	root.AddCommand(
		newInstallCommand(withApp),
		newDeleteSystemCommand(withApp),
		newUpdateCommand(withApp),
		newUpdatesCommand(withApp),
		newParseCommand(),
		newStopsCommand(withApp),
		newAlertsCommand(withApp),
		newTransfersCommand(withApp),
		newDBCommand(withApp),
		newServeCommand(withApp),
	)
	return root
}

// config resolves the configuration file, if any, and applies explicitly set
// flags on top of it.
func (opts *rootOptions) config(cmd *cobra.Command) (appconf.Config, error) {
	cfg := appconf.Config{
		Env:       appconf.EnvFlagToEnvironment(opts.env),
		DBPath:    opts.dbPath,
		LogLevel:  opts.logLevel,
		LogFormat: opts.logFormat,
		ApiKeys:   ParseAPIKeys(opts.apiKeys),
		RateLimit: opts.rateLimit,
	}
	if opts.configPath == "" {
		return cfg, nil
	}

	fileConfig, err := appconf.LoadFromFile(opts.configPath)
	if err != nil {
		return appconf.Config{}, err
	}
	fromFile := fileConfig.ToAppConfig()
	flags := cmd.Flags()
	if flags.Changed("env") {
		fromFile.Env = cfg.Env
	}
	if flags.Changed("db") {
		fromFile.DBPath = cfg.DBPath
	}
	if flags.Changed("log-level") {
		fromFile.LogLevel = cfg.LogLevel
	}
	if flags.Changed("log-format") {
		fromFile.LogFormat = cfg.LogFormat
	}
	if flags.Changed("api-keys") {
		fromFile.ApiKeys = cfg.ApiKeys
	}
	if flags.Changed("rate-limit") {
		fromFile.RateLimit = cfg.RateLimit
	}
	return fromFile, nil
}

// ParseAPIKeys splits a comma separated list of keys. An empty string yields
// no keys.
func ParseAPIKeys(apiKeysFlag string) []string {
	if strings.TrimSpace(apiKeysFlag) == "" {
		return []string{}
	}
	keys := strings.Split(apiKeysFlag, ",")
	for i, key := range keys {
		keys[i] = strings.TrimSpace(key)
	}
	return keys
}

func envOr(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(name string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return fallback
	}
	return v
}
