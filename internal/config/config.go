// Package config loads the cardengine HCL configuration and applies
// CARDENGINE_* environment overrides.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/lox/cardengine/internal/auth"
	"github.com/lox/cardengine/internal/engine"
	"github.com/lox/cardengine/internal/manager"
	"github.com/lox/cardengine/internal/rng"
	"github.com/lox/cardengine/internal/ruleset"
	"github.com/rs/zerolog"
)

const (
	DefaultAddress        = "localhost"
	DefaultPort           = 8080
	DefaultLogLevel       = "info"
	DefaultOracleWorkers  = 4
	DefaultOracleQueue    = 256
	DefaultSweepInterval  = 30 * time.Second
	DefaultManagerTimeout = 500 * time.Millisecond
)

// Config is the resolved server configuration.
type Config struct {
	Server   ServerSettings
	Engine   EngineSettings
	Sweeper  SweeperSettings
	Storage  StorageSettings
	Auth     AuthSettings
	Managers []ManagerConfig
	Rulesets []RulesetConfig
}

type ServerSettings struct {
	Address  string
	Port     int
	LogLevel string
}

// EngineSettings tunes the engine and its oracle. A zero Seed draws a
// random one at startup.
type EngineSettings struct {
	IdleTimeout   time.Duration
	Seed          int64
	OracleWorkers int
	OracleQueue   int
}

// SweeperSettings configures the idle sweeper. Identity must be a
// registered manager for the sessions it should administer.
type SweeperSettings struct {
	Enabled  bool
	Identity string
	Interval time.Duration
}

// StorageSettings locates the journal and snapshot archive. Empty values
// disable the corresponding component.
type StorageSettings struct {
	JournalPath string
	ArchiveDir  string
}

// AuthSettings selects how websocket clients authenticate: a token
// validation callback at URL, or a fixed token to identity table. With
// neither, clients name their own identity.
type AuthSettings struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Tokens  map[string]string
}

// Enabled reports whether clients must present a token.
func (a AuthSettings) Enabled() bool {
	return a.URL != "" || len(a.Tokens) > 0
}

type ManagerConfig struct {
	Identity    string
	URL         string
	Secret      string
	Permissions []string
	Timeout     time.Duration
}

type RulesetConfig struct {
	Name   string
	Script string
}

// file mirrors the HCL layout; every block is optional.
type file struct {
	Server   *serverBlock   `hcl:"server,block"`
	Engine   *engineBlock   `hcl:"engine,block"`
	Sweeper  *sweeperBlock  `hcl:"sweeper,block"`
	Storage  *storageBlock  `hcl:"storage,block"`
	Auth     *authBlock     `hcl:"auth,block"`
	Managers []managerBlock `hcl:"manager,block"`
	Rulesets []rulesetBlock `hcl:"ruleset,block"`
}

type serverBlock struct {
	Address  string `hcl:"address,optional"`
	Port     int    `hcl:"port,optional"`
	LogLevel string `hcl:"log_level,optional"`
}

type engineBlock struct {
	IdleTimeout   string `hcl:"idle_timeout,optional"`
	Seed          int64  `hcl:"seed,optional"`
	OracleWorkers int    `hcl:"oracle_workers,optional"`
	OracleQueue   int    `hcl:"oracle_queue,optional"`
}

type sweeperBlock struct {
	Enabled  *bool  `hcl:"enabled,optional"`
	Identity string `hcl:"identity"`
	Interval string `hcl:"interval,optional"`
}

type storageBlock struct {
	JournalPath string `hcl:"journal,optional"`
	ArchiveDir  string `hcl:"archive_dir,optional"`
}

type authBlock struct {
	URL     string            `hcl:"url,optional"`
	Secret  string            `hcl:"secret,optional"`
	Timeout string            `hcl:"timeout,optional"`
	Tokens  map[string]string `hcl:"tokens,optional"`
}

type managerBlock struct {
	Identity    string   `hcl:"identity,label"`
	URL         string   `hcl:"url"`
	Secret      string   `hcl:"secret,optional"`
	Permissions []string `hcl:"permissions,optional"`
	Timeout     string   `hcl:"timeout,optional"`
}

type rulesetBlock struct {
	Name   string `hcl:"name,label"`
	Script string `hcl:"script"`
}

// overrides are read from the environment after the file.
type overrides struct {
	Address         string        `env:"CARDENGINE_ADDRESS"`
	Port            int           `env:"CARDENGINE_PORT"`
	LogLevel        string        `env:"CARDENGINE_LOG_LEVEL"`
	IdleTimeout     time.Duration `env:"CARDENGINE_IDLE_TIMEOUT"`
	Seed            int64         `env:"CARDENGINE_SEED"`
	JournalPath     string        `env:"CARDENGINE_JOURNAL"`
	ArchiveDir      string        `env:"CARDENGINE_ARCHIVE_DIR"`
	SweeperIdentity string        `env:"CARDENGINE_SWEEPER_IDENTITY"`
	AuthURL         string        `env:"CARDENGINE_AUTH_URL"`
	AuthSecret      string        `env:"CARDENGINE_AUTH_SECRET"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: ServerSettings{
			Address:  DefaultAddress,
			Port:     DefaultPort,
			LogLevel: DefaultLogLevel,
		},
		Engine: EngineSettings{
			IdleTimeout:   engine.DefaultIdleTimeout,
			OracleWorkers: DefaultOracleWorkers,
			OracleQueue:   DefaultOracleQueue,
		},
		Sweeper: SweeperSettings{
			Interval: DefaultSweepInterval,
		},
		Auth: AuthSettings{
			Timeout: auth.DefaultTimeout,
		},
	}
}

// Load reads filename, falling back to defaults when it does not exist,
// then applies environment overrides.
func Load(filename string) (*Config, error) {
	return LoadWithEnv(filename, nil)
}

// LoadWithEnv is Load with an explicit environment. A nil map reads the
// process environment.
func LoadWithEnv(filename string, environ map[string]string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			if err := cfg.loadFile(filename); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	var o overrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.apply(o)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(filename string) error {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var raw file
	if diags := gohcl.DecodeBody(f.Body, nil, &raw); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL: %s", diags.Error())
	}

	if b := raw.Server; b != nil {
		if b.Address != "" {
			c.Server.Address = b.Address
		}
		if b.Port != 0 {
			c.Server.Port = b.Port
		}
		if b.LogLevel != "" {
			c.Server.LogLevel = b.LogLevel
		}
	}

	if b := raw.Engine; b != nil {
		if err := parseDuration(b.IdleTimeout, "engine.idle_timeout", &c.Engine.IdleTimeout); err != nil {
			return err
		}
		c.Engine.Seed = b.Seed
		if b.OracleWorkers != 0 {
			c.Engine.OracleWorkers = b.OracleWorkers
		}
		if b.OracleQueue != 0 {
			c.Engine.OracleQueue = b.OracleQueue
		}
	}

	if b := raw.Sweeper; b != nil {
		c.Sweeper.Enabled = true
		if b.Enabled != nil {
			c.Sweeper.Enabled = *b.Enabled
		}
		c.Sweeper.Identity = b.Identity
		if err := parseDuration(b.Interval, "sweeper.interval", &c.Sweeper.Interval); err != nil {
			return err
		}
	}

	if b := raw.Storage; b != nil {
		c.Storage.JournalPath = b.JournalPath
		c.Storage.ArchiveDir = b.ArchiveDir
	}

	if b := raw.Auth; b != nil {
		c.Auth.URL = b.URL
		c.Auth.Secret = b.Secret
		c.Auth.Tokens = b.Tokens
		if err := parseDuration(b.Timeout, "auth.timeout", &c.Auth.Timeout); err != nil {
			return err
		}
	}

	for _, m := range raw.Managers {
		mc := ManagerConfig{
			Identity:    m.Identity,
			URL:         m.URL,
			Secret:      m.Secret,
			Permissions: m.Permissions,
			Timeout:     DefaultManagerTimeout,
		}
		if err := parseDuration(m.Timeout, "manager."+m.Identity+".timeout", &mc.Timeout); err != nil {
			return err
		}
		c.Managers = append(c.Managers, mc)
	}

	for _, r := range raw.Rulesets {
		c.Rulesets = append(c.Rulesets, RulesetConfig{Name: r.Name, Script: r.Script})
	}
	return nil
}

func parseDuration(s, field string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	*dst = d
	return nil
}

func (c *Config) apply(o overrides) {
	if o.Address != "" {
		c.Server.Address = o.Address
	}
	if o.Port != 0 {
		c.Server.Port = o.Port
	}
	if o.LogLevel != "" {
		c.Server.LogLevel = o.LogLevel
	}
	if o.IdleTimeout != 0 {
		c.Engine.IdleTimeout = o.IdleTimeout
	}
	if o.Seed != 0 {
		c.Engine.Seed = o.Seed
	}
	if o.JournalPath != "" {
		c.Storage.JournalPath = o.JournalPath
	}
	if o.ArchiveDir != "" {
		c.Storage.ArchiveDir = o.ArchiveDir
	}
	if o.SweeperIdentity != "" {
		c.Sweeper.Enabled = true
		c.Sweeper.Identity = o.SweeperIdentity
	}
	if o.AuthURL != "" {
		c.Auth.URL = o.AuthURL
	}
	if o.AuthSecret != "" {
		c.Auth.Secret = o.AuthSecret
	}
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := zerolog.ParseLevel(c.Server.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.Server.LogLevel)
	}
	if c.Engine.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", c.Engine.IdleTimeout)
	}
	if c.Engine.OracleWorkers < 1 {
		return fmt.Errorf("oracle workers must be at least 1, got %d", c.Engine.OracleWorkers)
	}
	if c.Engine.OracleQueue < 1 {
		return fmt.Errorf("oracle queue must be at least 1, got %d", c.Engine.OracleQueue)
	}
	if c.Sweeper.Enabled {
		if c.Sweeper.Identity == "" {
			return fmt.Errorf("sweeper requires an identity")
		}
		if c.Sweeper.Interval <= 0 {
			return fmt.Errorf("sweeper interval must be positive, got %s", c.Sweeper.Interval)
		}
	}

	if c.Auth.URL != "" && len(c.Auth.Tokens) > 0 {
		return fmt.Errorf("auth accepts either a url or tokens, not both")
	}
	for tok, id := range c.Auth.Tokens {
		if tok == "" || id == "" {
			return fmt.Errorf("auth tokens must map a non-empty token to a non-empty identity")
		}
	}

	seen := make(map[string]bool)
	for _, m := range c.Managers {
		if m.Identity == "" {
			return fmt.Errorf("manager identity is required")
		}
		if seen[m.Identity] {
			return fmt.Errorf("duplicate manager %q", m.Identity)
		}
		seen[m.Identity] = true
		if m.URL == "" {
			return fmt.Errorf("manager %q requires a url", m.Identity)
		}
		if _, err := manager.ParsePermissions(m.Permissions); err != nil {
			return fmt.Errorf("manager %q: %w", m.Identity, err)
		}
	}

	names := map[string]bool{ruleset.Whot{}.Name(): true}
	for _, r := range c.Rulesets {
		if r.Name == "" || r.Script == "" {
			return fmt.Errorf("ruleset requires a name and a script")
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate ruleset %q", r.Name)
		}
		names[r.Name] = true
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// BuildValidator returns the connection validator, or nil when clients
// may name their own identity.
func (c *Config) BuildValidator() auth.Validator {
	switch {
	case c.Auth.URL != "":
		return auth.NewHTTPValidator(c.Auth.URL, c.Auth.Secret, c.Auth.Timeout)
	case len(c.Auth.Tokens) > 0:
		return auth.NewStaticValidator(c.Auth.Tokens)
	}
	return nil
}

// BuildRulesets returns the built-in rulesets plus every configured Lua
// script.
func (c *Config) BuildRulesets() (*ruleset.Registry, error) {
	reg := ruleset.NewRegistry(ruleset.Whot{})
	for _, r := range c.Rulesets {
		rs, err := ruleset.LoadLuaFile(r.Name, r.Script)
		if err != nil {
			return nil, fmt.Errorf("ruleset %q: %w", r.Name, err)
		}
		reg.Register(rs)
	}
	return reg, nil
}

// BuildManagers registers an HTTP authorizer per configured manager. A
// non-empty permission list caps what the manager may ever be asked to
// approve; sessions can only narrow it further.
func (c *Config) BuildManagers() (*manager.Registry, error) {
	reg := manager.NewRegistry()
	for _, m := range c.Managers {
		perms, err := manager.ParsePermissions(m.Permissions)
		if err != nil {
			return nil, fmt.Errorf("manager %q: %w", m.Identity, err)
		}
		var a manager.Authorizer = manager.NewHTTPAuthorizer(m.URL, m.Secret, m.Timeout)
		if len(m.Permissions) > 0 {
			a = limit(a, perms)
		}
		reg.Register(m.Identity, a)
	}
	if c.Sweeper.Enabled {
		if _, ok := reg.Lookup(c.Sweeper.Identity); !ok {
			reg.Register(c.Sweeper.Identity, manager.Static(true))
		}
	}
	return reg, nil
}

func limit(inner manager.Authorizer, perms manager.Permission) manager.Authorizer {
	return manager.AuthorizerFunc(func(ctx context.Context, session uint64, op manager.Operation, opCtx manager.OperationContext) (bool, error) {
		if !perms.Has(op.Required()) {
			return false, nil
		}
		return inner.Authorize(ctx, session, op, opCtx)
	})
}

// EngineOptions translates the configuration into engine options. The
// oracle is wired separately by the caller.
func (c *Config) EngineOptions() ([]engine.Option, error) {
	rulesets, err := c.BuildRulesets()
	if err != nil {
		return nil, err
	}
	managers, err := c.BuildManagers()
	if err != nil {
		return nil, err
	}
	opts := []engine.Option{
		engine.WithRulesets(rulesets),
		engine.WithManagers(managers),
		engine.WithIdleTimeout(c.Engine.IdleTimeout),
	}
	if c.Engine.Seed != 0 {
		opts = append(opts, engine.WithRNG(rng.NewPCG(c.Engine.Seed)))
	}
	return opts, nil
}
