package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/daitrader/internal/domain"
)

// Config es la configuración completa del supervisor de trading.
type Config struct {
	Trading    TradingConfig    `yaml:"trading"`
	Auth       AuthConfig       `yaml:"auth"`
	Broker     BrokerConfig     `yaml:"broker"`
	Stream     StreamConfig     `yaml:"stream"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// TradingConfig controla el modo y los límites de cada ciclo.
type TradingConfig struct {
	Mode               string `yaml:"mode"`      // simulation | live_readonly | live (alias: real_world, real)
	TradeCap           int    `yaml:"trade_cap"` // trades máximos por ciclo; piloto = 1
	CadenceMinutes     int    `yaml:"cadence_minutes"`
	MaxIntentsPerCycle int    `yaml:"max_intents_per_cycle"`
}

// AuthConfig contiene las credenciales OAuth y la política de frescura del token.
type AuthConfig struct {
	TokenFile     string `yaml:"token_file"`
	FreshnessDays int    `yaml:"freshness_days"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RedirectURI   string `yaml:"redirect_uri"`
	TokenURL      string `yaml:"token_url"`
	AuthorizeURL  string `yaml:"authorize_url"`
}

// BrokerConfig controla el polling de snapshots de cuenta.
type BrokerConfig struct {
	APIBase             string `yaml:"api_base"`
	AccountHash         string `yaml:"account_hash"`
	PollSeconds         int    `yaml:"poll_seconds"`
	StalenessMultiplier int    `yaml:"staleness_multiplier"`
	Timezone            string `yaml:"timezone"` // define el "día" de same_day_net
	RequestsPerSecond   int    `yaml:"requests_per_second"`
}

// StreamConfig selecciona el transporte de eventos de actividad.
type StreamConfig struct {
	Enabled      *bool  `yaml:"enabled"`   // default true
	Transport    string `yaml:"transport"` // schwab | nats
	NATSURL      string `yaml:"nats_url"`
	NATSStream   string `yaml:"nats_stream"`
	NATSSubject  string `yaml:"nats_subject"`
	NATSConsumer string `yaml:"nats_consumer"`
	DedupeWindow int    `yaml:"dedupe_window"` // ids recientes recordados por el ledger
	MetricsAddr  string `yaml:"metrics_addr"`
}

// SupervisorConfig controla el ciclo de vida de los procesos hijos.
type SupervisorConfig struct {
	GraceSeconds int    `yaml:"grace_seconds"`
	LogDir       string `yaml:"log_dir"`
	StopFile     string `yaml:"stop_file"` // kill switch: si existe, el supervisor se apaga
}

// DashboardConfig controla la API de lectura.
type DashboardConfig struct {
	Addr string `yaml:"addr"`
}

// StorageConfig controla dónde se persisten los datos compartidos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Un path vacío omite el YAML: todo sale de env y defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Mode devuelve el modo de trading normalizado.
func (c *Config) Mode() domain.TradingMode {
	return domain.ParseTradingMode(c.Trading.Mode)
}

// StreamingEnabled indica si el helper debe abrir el stream de actividad.
func (c *Config) StreamingEnabled() bool {
	return c.Stream.Enabled == nil || *c.Stream.Enabled
}

// PollInterval devuelve el intervalo de polling de snapshots.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Broker.PollSeconds) * time.Second
}

// Cadence devuelve el intervalo entre ciclos de trading.
func (c *Config) Cadence() time.Duration {
	return time.Duration(c.Trading.CadenceMinutes) * time.Minute
}

// FreshnessThreshold devuelve la edad máxima del token antes de forzar refresh.
func (c *Config) FreshnessThreshold() time.Duration {
	return time.Duration(c.Auth.FreshnessDays) * 24 * time.Hour
}

// GracePeriod devuelve cuánto espera el supervisor antes de matar un hijo.
func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Supervisor.GraceSeconds) * time.Second
}

// Location devuelve la zona horaria del broker.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Broker.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate rechaza combinaciones que no tienen sentido.
func (c *Config) Validate() error {
	var errs []error
	switch c.Stream.Transport {
	case "schwab", "nats":
	default:
		errs = append(errs, fmt.Errorf("stream.transport: unknown %q", c.Stream.Transport))
	}
	if c.Stream.Transport == "nats" && c.Stream.NATSURL == "" {
		errs = append(errs, errors.New("stream.nats_url: required for nats transport"))
	}
	if _, err := time.LoadLocation(c.Broker.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("broker.timezone: %w", err))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format: unknown %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
// Los nombres son los que usa el operador en su .env.
func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"TRADING_MODE":         &cfg.Trading.Mode,
		"SCHWAB_TOKEN_FILE":    &cfg.Auth.TokenFile,
		"SCHWAB_CLIENT_ID":     &cfg.Auth.ClientID,
		"SCHWAB_CLIENT_SECRET": &cfg.Auth.ClientSecret,
		"SCHWAB_REDIRECT_URI":  &cfg.Auth.RedirectURI,
		"SCHWAB_ACCOUNT_HASH":  &cfg.Broker.AccountHash,
		"LOG_LEVEL":            &cfg.Log.Level,
		"LOG_FORMAT":           &cfg.Log.Format,
		"DAI_DB_PATH":          &cfg.Storage.DSN,
		"DAI_DASHBOARD_ADDR":   &cfg.Dashboard.Addr,
		"DAI_STREAM_TRANSPORT": &cfg.Stream.Transport,
		"NATS_URL":             &cfg.Stream.NATSURL,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DAI_TRADE_CAP":            &cfg.Trading.TradeCap,
		"DAI_CADENCE_MINUTES":      &cfg.Trading.CadenceMinutes,
		"DAI_TOKEN_FRESHNESS_DAYS": &cfg.Auth.FreshnessDays,
		"DAI_REST_POLL_SECS":       &cfg.Broker.PollSeconds,
		"DAI_STALENESS_MULTIPLIER": &cfg.Broker.StalenessMultiplier,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
	}

	if v := os.Getenv("DAI_STREAMING_ENABLED"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("env DAI_STREAMING_ENABLED: %w", err)
		}
		cfg.Stream.Enabled = &b
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = string(domain.ModeSimulation)
	}
	if cfg.Trading.TradeCap <= 0 {
		cfg.Trading.TradeCap = 1 // piloto: un trade por ciclo
	}
	if cfg.Trading.CadenceMinutes <= 0 {
		cfg.Trading.CadenceMinutes = 180
	}
	if cfg.Trading.MaxIntentsPerCycle <= 0 {
		cfg.Trading.MaxIntentsPerCycle = 20
	}
	if cfg.Auth.TokenFile == "" {
		cfg.Auth.TokenFile = "schwab_tokens.json"
	}
	if cfg.Auth.FreshnessDays <= 0 {
		cfg.Auth.FreshnessDays = 5
	}
	if cfg.Auth.RedirectURI == "" {
		cfg.Auth.RedirectURI = "https://127.0.0.1"
	}
	if cfg.Auth.TokenURL == "" {
		cfg.Auth.TokenURL = "https://api.schwabapi.com/v1/oauth/token"
	}
	if cfg.Auth.AuthorizeURL == "" {
		cfg.Auth.AuthorizeURL = "https://api.schwabapi.com/v1/oauth/authorize"
	}
	if cfg.Broker.APIBase == "" {
		cfg.Broker.APIBase = "https://api.schwabapi.com/trader/v1"
	}
	if cfg.Broker.PollSeconds <= 0 {
		cfg.Broker.PollSeconds = 30
	}
	if cfg.Broker.StalenessMultiplier <= 0 {
		cfg.Broker.StalenessMultiplier = 3
	}
	if cfg.Broker.Timezone == "" {
		cfg.Broker.Timezone = "America/New_York"
	}
	if cfg.Broker.RequestsPerSecond <= 0 {
		cfg.Broker.RequestsPerSecond = 2
	}
	if cfg.Stream.Transport == "" {
		cfg.Stream.Transport = "schwab"
	}
	if cfg.Stream.NATSStream == "" {
		cfg.Stream.NATSStream = "ACCOUNT_ACTIVITY"
	}
	if cfg.Stream.NATSSubject == "" {
		cfg.Stream.NATSSubject = "activity.>"
	}
	if cfg.Stream.NATSConsumer == "" {
		cfg.Stream.NATSConsumer = "daitrader-ledger"
	}
	if cfg.Stream.DedupeWindow <= 0 {
		cfg.Stream.DedupeWindow = 10000
	}
	if cfg.Supervisor.GraceSeconds <= 0 {
		cfg.Supervisor.GraceSeconds = 10
	}
	if cfg.Supervisor.LogDir == "" {
		cfg.Supervisor.LogDir = "logs"
	}
	if cfg.Supervisor.StopFile == "" {
		cfg.Supervisor.StopFile = "STOP_TRADER"
	}
	if cfg.Dashboard.Addr == "" {
		cfg.Dashboard.Addr = "127.0.0.1:5001"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "daitrader.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
