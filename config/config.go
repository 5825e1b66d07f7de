package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del recorder.
type Config struct {
	Recorder RecorderConfig `yaml:"recorder"`
	API      APIConfig      `yaml:"api"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// RecorderConfig controla la sesión de grabación.
type RecorderConfig struct {
	PollSeconds          int `yaml:"poll_seconds"`           // ciclo de liveness del stream
	StatusSeconds        int `yaml:"status_seconds"`         // cadencia del log de estado
	ReconnectBaseSeconds int `yaml:"reconnect_base_seconds"` // primer backoff tras una caída
	ReconnectMaxSeconds  int `yaml:"reconnect_max_seconds"`  // techo del backoff
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	GammaBase string `yaml:"gamma_base"`
	DataBase  string `yaml:"data_base"`
	WSBase    string `yaml:"ws_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
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

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// PollInterval devuelve el ciclo de liveness como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Recorder.PollSeconds) * time.Second
}

// StatusInterval devuelve la cadencia del log de estado.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Recorder.StatusSeconds) * time.Second
}

// ReconnectBase devuelve el backoff inicial de reconexión.
func (c *Config) ReconnectBase() time.Duration {
	return time.Duration(c.Recorder.ReconnectBaseSeconds) * time.Second
}

// ReconnectMax devuelve el techo del backoff de reconexión.
func (c *Config) ReconnectMax() time.Duration {
	return time.Duration(c.Recorder.ReconnectMaxSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TICKS_DB"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Recorder.PollSeconds <= 0 {
		cfg.Recorder.PollSeconds = 1
	}
	if cfg.Recorder.StatusSeconds <= 0 {
		cfg.Recorder.StatusSeconds = 30
	}
	if cfg.Recorder.ReconnectBaseSeconds <= 0 {
		cfg.Recorder.ReconnectBaseSeconds = 2
	}
	if cfg.Recorder.ReconnectMaxSeconds < cfg.Recorder.ReconnectBaseSeconds {
		cfg.Recorder.ReconnectMaxSeconds = 60
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.DataBase == "" {
		cfg.API.DataBase = "https://data-api.polymarket.com"
	}
	if cfg.API.WSBase == "" {
		cfg.API.WSBase = "wss://ws-subscriptions-clob.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "data/ticks.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
