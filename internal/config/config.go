package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/securecookie"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/protezlab/reportgate/keycloak"
	"github.com/protezlab/reportgate/shell"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every configuration problem Validate
// reports.
var ErrInvalidConfig = errors.New("invalid config")

// The request store backends.
const (
	SessionCookie = "cookie"
	SessionMemory = "memory"
	SessionRedis  = "redis"
)

const redacted = "[REDACTED]"

// Config is reportgate's configuration. Values are layered: defaults, then
// the YAML file, then the .env file, then the process environment.
type Config struct {
	Keycloak     Keycloak  `yaml:"keycloak"`
	BaseURL      string    `yaml:"base_url" env:"BASE_URL"`
	ListenAddr   string    `yaml:"listen_addr" env:"LISTEN_ADDR"`
	DatabasePath string    `yaml:"database_path" env:"DATABASE_PATH"`
	Production   bool      `yaml:"production" env:"PRODUCTION"`
	Cookies      Cookies   `yaml:"cookies"`
	Session      Session   `yaml:"session"`
	Auth         Auth      `yaml:"auth"`
	Log          Log       `yaml:"log"`
	RateLimit    RateLimit `yaml:"rate_limit"`
}

// Keycloak locates the realm and the client registered in it.
type Keycloak struct {
	URL                string `yaml:"url" env:"KEYCLOAK_URL"`
	Realm              string `yaml:"realm" env:"KEYCLOAK_REALM"`
	ClientID           string `yaml:"client_id" env:"KEYCLOAK_CLIENT_ID"`
	ClientSecret       string `yaml:"client_secret" env:"KEYCLOAK_CLIENT_SECRET"`
	CAPEMFile          string `yaml:"ca_pem_file" env:"KEYCLOAK_CA_PEM_FILE"`
	AdminRole          string `yaml:"admin_role" env:"KEYCLOAK_ADMIN_ROLE"`
	ProstheticUserRole string `yaml:"prosthetic_user_role" env:"KEYCLOAK_PROTHETIC_USER_ROLE"`
}

// Cookies are the token cookie attributes. Production overrides Secure and
// SameSite.
type Cookies struct {
	Secure   bool   `yaml:"secure" env:"COOKIE_SECURE"`
	SameSite string `yaml:"same_site" env:"COOKIE_SAMESITE"`
	Domain   string `yaml:"domain" env:"COOKIE_DOMAIN"`
}

// Session configures where pending login requests are kept.
type Session struct {
	Backend       string `yaml:"backend" env:"SESSION_BACKEND"`
	Key           string `yaml:"key" env:"SESSION_KEY"`
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
}

// Auth holds the auth client's init options.
type Auth struct {
	OnLoad           string        `yaml:"on_load" env:"ON_LOAD"`
	LoginStateTTL    time.Duration `yaml:"login_state_ttl" env:"LOGIN_STATE_TTL"`
	TokenMinValidity time.Duration `yaml:"token_min_validity" env:"TOKEN_MIN_VALIDITY"`
}

// Log configures the root logger.
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"LOG_JSON"`
}

// RateLimit limits the login routes per client address.
type RateLimit struct {
	RPS   float64 `yaml:"rps" env:"RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	defaults := keycloak.DefaultInitOptions()
	return Config{
		BaseURL:      "http://localhost:8080",
		ListenAddr:   ":8080",
		DatabasePath: "backend-data/db.sqlite3",
		Cookies:      Cookies{SameSite: "Lax"},
		Session:      Session{Backend: SessionCookie},
		Auth: Auth{
			OnLoad:           string(defaults.OnLoad),
			LoginStateTTL:    defaults.StateTTL,
			TokenMinValidity: defaults.MinValidity,
		},
		Log:       Log{Level: "debug"},
		RateLimit: RateLimit{RPS: 5, Burst: 10},
	}
}

// Load builds the Config from the defaults and whatever sources the options
// name. Without WithEnvironment, the process environment is used.
//
// Supported options: WithFile, WithEnvFile, WithEnvironment
func Load(opt ...Option) (*Config, error) {
	const op = "config.Load"
	opts := getOpts(opt...)
	cfg := Default()

	if opts.withFile != "" {
		b, err := os.ReadFile(opts.withFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read config file: %w", op, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: unable to parse config file %s: %w", op, opts.withFile, err)
		}
	}

	environ := opts.withEnvironment
	if environ == nil {
		environ = environMap(os.Environ())
	} else {
		environ = cloneEnv(environ)
	}
	if opts.withEnvFile != "" {
		dotenv, err := godotenv.Read(opts.withEnvFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read env file: %w", op, err)
		}
		// the environment wins over the .env file
		for k, v := range dotenv {
			if _, ok := environ[k]; !ok {
				environ[k] = v
			}
		}
	}
	if _, ok := environ["KEYCLOAK_URL"]; !ok {
		if v, ok := environ["KEYCLOAK_BASE_URL"]; ok {
			environ["KEYCLOAK_URL"] = v
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("%s: unable to parse environment: %w", op, err)
	}
	return &cfg, nil
}

// Validate checks the configuration the serve command needs. It reports
// every problem, not just the first.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	var result *multierror.Error
	fail := func(format string, args ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format+": %w", append(args, ErrInvalidConfig)...))
	}
	if err := c.Realm().Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		fail("base url %q is not an absolute URL", c.BaseURL)
	}
	if c.ListenAddr == "" {
		fail("listen address is empty")
	}
	if c.DatabasePath == "" {
		fail("database path is empty")
	}
	if _, err := shell.ParseSameSite(c.Cookies.SameSite); err != nil {
		result = multierror.Append(result, err)
	}
	switch c.Session.Backend {
	case SessionCookie, SessionMemory:
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			fail("redis session backend needs a redis address")
		}
	default:
		fail("unknown session backend %q", c.Session.Backend)
	}
	switch keycloak.OnLoad(c.Auth.OnLoad) {
	case keycloak.CheckSSO, keycloak.LoginRequired:
	default:
		fail("unknown on_load %q", c.Auth.OnLoad)
	}
	if c.Auth.LoginStateTTL <= 0 {
		fail("login state ttl must be positive")
	}
	if c.Auth.TokenMinValidity < 0 {
		fail("token min validity must not be negative")
	}
	if hclog.LevelFromString(c.Log.Level) == hclog.NoLevel {
		fail("unknown log level %q", c.Log.Level)
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		fail("rate limit must be positive")
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Realm returns the realm the auth client talks to.
func (c *Config) Realm() keycloak.RealmConfig {
	return keycloak.RealmConfig{
		URL:      c.Keycloak.URL,
		Realm:    c.Keycloak.Realm,
		ClientID: c.Keycloak.ClientID,
	}
}

// RedirectURL is where the realm sends the browser back to.
func (c *Config) RedirectURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/api/login/callback"
}

// InitOptions returns the auth client's init options. PKCE is always S256.
func (c *Config) InitOptions() keycloak.InitOptions {
	opts := keycloak.DefaultInitOptions()
	opts.OnLoad = keycloak.OnLoad(c.Auth.OnLoad)
	opts.StateTTL = c.Auth.LoginStateTTL
	opts.MinValidity = c.Auth.TokenMinValidity
	return opts
}

// CookieOptions returns the token cookie attributes. In production they are
// always Secure and SameSite=Strict.
func (c *Config) CookieOptions() (shell.CookieOptions, error) {
	const op = "Config.CookieOptions"
	if c.Production {
		opts := shell.ProductionCookies()
		opts.Domain = c.Cookies.Domain
		return opts, nil
	}
	sameSite, err := shell.ParseSameSite(c.Cookies.SameSite)
	if err != nil {
		return shell.CookieOptions{}, fmt.Errorf("%s: %w", op, err)
	}
	return shell.CookieOptions{
		Secure:   c.Cookies.Secure,
		SameSite: sameSite,
		Domain:   c.Cookies.Domain,
	}, nil
}

// SecureCookies reports whether cookies are restricted to https.
func (c *Config) SecureCookies() bool { return c.Production || c.Cookies.Secure }

// ProviderCA returns the PEM encoded CA bundle for the realm, or "" when
// none is configured.
func (c *Config) ProviderCA() (string, error) {
	const op = "Config.ProviderCA"
	if c.Keycloak.CAPEMFile == "" {
		return "", nil
	}
	b, err := os.ReadFile(c.Keycloak.CAPEMFile)
	if err != nil {
		return "", fmt.Errorf("%s: unable to read CA file: %w", op, err)
	}
	return string(b), nil
}

// SessionKeys returns the hash and block keys of the login request cookies.
// They are derived from the session key, or random when no key is set, in
// which case pending logins don't survive a restart.
func (c *Config) SessionKeys() (hashKey, blockKey []byte) {
	if c.Session.Key == "" {
		return securecookie.GenerateRandomKey(64), securecookie.GenerateRandomKey(32)
	}
	h := sha256.Sum256([]byte("hash:" + c.Session.Key))
	b := sha256.Sum256([]byte("block:" + c.Session.Key))
	return h[:], b[:]
}

// Logger returns the root logger.
func (c *Config) Logger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       "reportgate",
		Level:      hclog.LevelFromString(c.Log.Level),
		JSONFormat: c.Log.JSON,
	})
}

// Redacted returns a copy of c with its secrets replaced.
func (c *Config) Redacted() Config {
	out := *c
	for _, s := range []*string{&out.Keycloak.ClientSecret, &out.Session.Key, &out.Session.RedisPassword} {
		if *s != "" {
			*s = redacted
		}
	}
	return out
}

// YAML marshals c, redacted.
func (c *Config) YAML() ([]byte, error) {
	const op = "Config.YAML"
	out := c.Redacted()
	b, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func environMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func cloneEnv(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
