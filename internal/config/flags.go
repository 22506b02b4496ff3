package config

import (
	"github.com/spf13/pflag"
)

// Flags are command-line overrides applied on top of the environment
type Flags struct {
	EnvFile    string
	Host       string
	Port       int
	LogFormat  string
	PresetsDir string
	Migrations string
}

// ParseFlags parses args for app. Flags that do not apply to app are not registered.
func ParseFlags(app App, args []string) (*Flags, error) {
	f := &Flags{}
	fs := pflag.NewFlagSet(string(app), pflag.ContinueOnError)

	fs.StringVar(&f.EnvFile, "env-file", ".env", "path to a .env file (missing file is ignored)")
	fs.StringVar(&f.Host, "host", "", "listen host (overrides SERVER_HOST)")
	fs.IntVarP(&f.Port, "port", "p", 0, "listen port (overrides SERVER_PORT)")
	fs.StringVar(&f.LogFormat, "log-format", "", "json, text or pretty (overrides LOG_FORMAT)")

	switch app {
	case AppComposer:
		fs.StringVar(&f.PresetsDir, "presets", "", "section presets directory (overrides PRESETS_DIR)")
	case AppStore:
		fs.StringVar(&f.Migrations, "migrations", "", "migrations directory; embedded migrations when empty")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Apply copies set flags into cfg and revalidates
func (f *Flags) Apply(cfg *Config) error {
	if f.Host != "" {
		cfg.Server.Host = f.Host
	}
	if f.Port != 0 {
		cfg.Server.Port = f.Port
	}
	if f.LogFormat != "" {
		cfg.Log.Format = f.LogFormat
	}
	if f.PresetsDir != "" {
		cfg.Presets.Dir = f.PresetsDir
	}
	if f.Migrations != "" {
		cfg.Database.MigrationsDir = f.Migrations
	}
	return cfg.Validate()
}
