package config

import "github.com/spf13/pflag"

// Flags holds command-line overrides. Only flags the user actually set are
// applied, so an unset flag never masks a file or environment value.
type Flags struct {
	fs *pflag.FlagSet

	addr        string
	dbDriver    string
	dbPath      string
	dbURL       string
	maxPerDay   int
	maxPerCycle int
	rabbitURL   string
	logLevel    string
}

// BindFlags registers the override flags on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	def := Default()
	fs.StringVar(&f.addr, "addr", def.Server.Addr, "HTTP listen address")
	fs.StringVar(&f.dbDriver, "db-driver", def.Database.Driver, "store: sqlite, postgres or memory")
	fs.StringVar(&f.dbPath, "db", def.Database.Path, "SQLite database path")
	fs.StringVar(&f.dbURL, "database-url", "", "PostgreSQL connection string")
	fs.IntVar(&f.maxPerDay, "max-per-day", def.DayOff.MaxPerDay, "day-off requests allowed per calendar day")
	fs.IntVar(&f.maxPerCycle, "max-per-cycle", def.DayOff.MaxPerCycle, "day-off requests allowed per driver per billing cycle")
	fs.StringVar(&f.rabbitURL, "rabbitmq-url", "", "RabbitMQ URL; empty disables broker events")
	fs.StringVar(&f.logLevel, "log-level", def.Log.Level, "debug, info, warn or error")
	return f
}

// Apply copies explicitly set flags onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.fs.Changed("addr") {
		cfg.Server.Addr = f.addr
	}
	if f.fs.Changed("db-driver") {
		cfg.Database.Driver = f.dbDriver
	}
	if f.fs.Changed("db") {
		cfg.Database.Path = f.dbPath
	}
	if f.fs.Changed("database-url") {
		cfg.Database.URL = f.dbURL
	}
	if f.fs.Changed("max-per-day") {
		cfg.DayOff.MaxPerDay = f.maxPerDay
	}
	if f.fs.Changed("max-per-cycle") {
		cfg.DayOff.MaxPerCycle = f.maxPerCycle
	}
	if f.fs.Changed("rabbitmq-url") {
		cfg.RabbitMQ.URL = f.rabbitURL
	}
	if f.fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
}
