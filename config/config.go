package config

import (
	"time"
)

type configDefinition struct {
	Port        int         `koanf:"port" env:"KEEPER_PORT"`
	GrpcPort    int         `koanf:"grpc_port" env:"KEEPER_GRPC_PORT"`
	ApiSecret   string      `koanf:"api_secret" env:"KEEPER_API_SECRET"`
	Logging     logging     `koanf:"logging"`
	Store       Store       `koanf:"store"`
	Persistence persistence `koanf:"persistence"`
	Session     session     `koanf:"session"`
	Prometheus  Prometheus  `koanf:"prometheus"`
	Sentry      sentry      `koanf:"sentry"`
	Pyroscope   pyroscope   `koanf:"pyroscope"`
}

// Definition is the fully resolved configuration returned by ReadConfig.
type Definition = configDefinition

func (c configDefinition) GetPrometheus() Prometheus {
	return c.Prometheus
}

type logging struct {
	Debug      bool `koanf:"debug" env:"KEEPER_DEBUG"`
	SaveLogs   bool `koanf:"save_logs"`
	MaxSize    int  `koanf:"max_size"`
	MaxBackups int  `koanf:"max_backups"`
	MaxAge     int  `koanf:"max_age"`
	Compress   bool `koanf:"compress"`
}

// Store selects and addresses the durable key-value backend.
type Store struct {
	Backend  string `koanf:"backend" env:"KEEPER_STORE_BACKEND"`
	Addr     string `koanf:"address" env:"KEEPER_DB_ADDRESS"`
	User     string `koanf:"user" env:"KEEPER_DB_USER"`
	Password string `koanf:"password" env:"KEEPER_DB_PASSWORD"`
	Db       string `koanf:"db" env:"KEEPER_DB_NAME"`
	MaxPool  int    `koanf:"max_pool"`
	Path     string `koanf:"path" env:"KEEPER_SQLITE_PATH"`
}

type persistence struct {
	BaseCapacity       int           `koanf:"base_capacity"`
	PerSessionCapacity int           `koanf:"per_session_capacity"`
	RegenInterval      time.Duration `koanf:"regen_interval"`
	WriteSpacing       time.Duration `koanf:"write_spacing"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	NoTokenWait        time.Duration `koanf:"no_token_wait"`
	IdleWait           time.Duration `koanf:"idle_wait"`
	QueueWarnThreshold int           `koanf:"queue_warn_threshold"`
	WarnInterval       time.Duration `koanf:"warn_interval"`
	LoadAttempts       int           `koanf:"load_attempts"`
	LoadBackoff        time.Duration `koanf:"load_backoff"`
	FlushBudget        time.Duration `koanf:"flush_budget"`
}

type session struct {
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	Entities    []Entity      `koanf:"entities"`
}

// Entity declares an entity type loaded for every session, with the counter
// values a first-time owner starts with.
type Entity struct {
	Name     string           `koanf:"name"`
	Defaults map[string]int64 `koanf:"defaults"`
}

type Prometheus struct {
	Enabled    bool      `koanf:"enabled"`
	Token      string    `koanf:"token"`
	BucketSize []float64 `koanf:"bucket_size"`
}

type sentry struct {
	DSN              string  `koanf:"dsn" env:"KEEPER_SENTRY_DSN"`
	SampleRate       float64 `koanf:"sample_rate"`
	EnableTracing    bool    `koanf:"enable_tracing"`
	TracesSampleRate float64 `koanf:"traces_sample_rate"`
}

type pyroscope struct {
	ApplicationName      string `koanf:"application_name"`
	ServerAddress        string `koanf:"server_address"`
	ApiKey               string `koanf:"api_key" env:"KEEPER_PYROSCOPE_API_KEY"`
	BasicAuthUser        string `koanf:"basic_auth_user"`
	BasicAuthPassword    string `koanf:"basic_auth_password"`
	Logger               bool   `koanf:"logger"`
	MutexProfileFraction int    `koanf:"mutex_profile_fraction"`
	BlockProfileRate     int    `koanf:"block_profile_rate"`
}

var defaultEntities = []Entity{
	{Name: "Inventory", Defaults: map[string]int64{"gold": 0, "treasure": 0}},
	{Name: "Shrine", Defaults: map[string]int64{"offerings": 0}},
}

var defaultConfig = configDefinition{
	Port: 9001,
	Logging: logging{
		SaveLogs:   true,
		MaxSize:    50,
		MaxBackups: 10,
		MaxAge:     30,
	},
	Store: Store{
		Backend: "memory",
		MaxPool: 10,
		Path:    "keeper.db",
	},
	// Store ceiling is 60 + 10 per session writes a minute; stay around 85% of it.
	Persistence: persistence{
		BaseCapacity:       50,
		PerSessionCapacity: 8,
		RegenInterval:      time.Second,
		WriteSpacing:       100 * time.Millisecond,
		WriteTimeout:       5 * time.Second,
		NoTokenWait:        time.Second,
		IdleWait:           500 * time.Millisecond,
		QueueWarnThreshold: 100,
		WarnInterval:       10 * time.Second,
		LoadAttempts:       3,
		LoadBackoff:        500 * time.Millisecond,
		FlushBudget:        28 * time.Second,
	},
	Session: session{
		IdleTimeout: 30 * time.Minute,
	},
	Prometheus: Prometheus{
		BucketSize: []float64{.00005, .000075, .0001, .00025, .0005, .00075, .001, .0025, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
	},
	Sentry: sentry{
		SampleRate:       1.0,
		TracesSampleRate: 1.0,
	},
	Pyroscope: pyroscope{
		ApplicationName:      "keeper",
		MutexProfileFraction: 5,
		BlockProfileRate:     5,
	},
}

var Config = defaultConfig
