package internal

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultEndpoint is the queue all workers report to unless configured
	// otherwise.
	DefaultEndpoint = "https://lichess.org/fishnet"

	// DefaultConfigFile is the configuration file looked up in the working
	// directory when no --conf flag is given.
	DefaultConfigFile = "minnow.yml"

	// DefaultEnginePath is resolved against PATH when no engine binary is
	// configured.
	DefaultEnginePath = "stockfish"
)

type Config struct {
	Endpoint    string        `yaml:"endpoint"`
	Key         string        `yaml:"key"`
	Cores       string        `yaml:"cores"`
	Engine      EngineConfig  `yaml:"engine"`
	Backlog     BacklogConfig `yaml:"backlog"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Journal     string        `yaml:"journal"`
	UpdateURL   string        `yaml:"update_url"`
}

type EngineConfig struct {
	Path    string            `yaml:"path"`
	Hash    int               `yaml:"hash"`
	Threads int               `yaml:"threads"`
	Options map[string]string `yaml:"options"`
}

// BacklogConfig holds the queue-depth thresholds that gate acquisition.
// Values are durations ("30s", "2h"), the keywords "short" (30s) and
// "long" (1h), or empty to join the queue immediately.
type BacklogConfig struct {
	User   string `yaml:"user"`
	System string `yaml:"system"`
}

// DefaultConfig returns the configuration used when no file, environment
// variable, or flag overrides a setting.
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Cores:    "auto",
		Engine: EngineConfig{
			Path:    DefaultEnginePath,
			Hash:    16,
			Threads: 1,
		},
		Journal: "minnow.db",
	}
}

// LoadConfig builds the effective configuration from, in increasing order of
// precedence: built-in defaults, the YAML configuration file, a .env file in
// the working directory, and process environment variables. Flag overrides
// are applied by the caller after loading. When noConf is set the
// configuration file is skipped entirely; an explicitly named file that does
// not exist is an error, while a missing default file is not.
func LoadConfig(path string, noConf bool, environ []string) (Config, error) {
	config := DefaultConfig()

	if !noConf {
		explicit := path != ""
		if !explicit {
			path = DefaultConfigFile
		}

		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return Config{}, fmt.Errorf("failed to parse configuration file %q: %w\nCheck the file for YAML syntax errors", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// No config file is fine; run on defaults and environment.
		default:
			return Config{}, fmt.Errorf("failed to read configuration file %q: %w\nCheck that the file exists and is readable", path, err)
		}
	}

	lookup := make(map[string]string)
	if dotenv, err := godotenv.Read(); err == nil {
		for key, value := range dotenv {
			lookup[key] = value
		}
	}
	for _, variable := range environ {
		key, value, ok := strings.Cut(variable, "=")
		if ok {
			lookup[key] = value
		}
	}

	if value, ok := lookup["MINNOW_ENDPOINT"]; ok {
		config.Endpoint = value
	}
	if value, ok := lookup["MINNOW_KEY"]; ok {
		config.Key = value
	}
	if value, ok := lookup["MINNOW_CORES"]; ok {
		config.Cores = value
	}
	if value, ok := lookup["MINNOW_ENGINE"]; ok {
		config.Engine.Path = value
	}

	return config, nil
}

// WriteConfig renders the configuration as YAML and writes it to path.
func WriteConfig(path string, config Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to render configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration file %q: %w\nCheck directory permissions", path, err)
	}

	return nil
}

// Validate reports the first problem that would prevent the worker from
// starting.
func (c Config) Validate() error {
	if _, err := c.EndpointURL(); err != nil {
		return err
	}
	if _, err := c.ResolveCores(); err != nil {
		return err
	}
	if c.Engine.Path == "" {
		return fmt.Errorf("no engine binary configured\nSet engine.path in the configuration file or pass --engine")
	}
	if _, err := c.Backlog.UserDuration(); err != nil {
		return err
	}
	if _, err := c.Backlog.SystemDuration(); err != nil {
		return err
	}
	return nil
}

// EndpointURL parses the configured endpoint and requires an absolute
// http(s) URL.
func (c Config) EndpointURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimSuffix(c.Endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse endpoint %q: %w\nExpected an absolute http(s) URL", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported endpoint scheme %q in %q\nExpected an absolute http(s) URL", u.Scheme, c.Endpoint)
	}
	return u, nil
}

// ResolveCores turns the configured core count into a number of engine
// workers. "auto" (or empty) leaves one core for the worker itself.
func (c Config) ResolveCores() (int, error) {
	if c.Cores == "" || c.Cores == "auto" {
		return max(1, runtime.NumCPU()-1), nil
	}

	if c.Cores == "all" {
		return runtime.NumCPU(), nil
	}

	n, err := strconv.Atoi(c.Cores)
	if err != nil {
		return 0, fmt.Errorf("invalid cores value %q: %w\nExpected a number, \"auto\", or \"all\"", c.Cores, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid cores value %d\nAt least one engine worker is required", n)
	}
	return n, nil
}

// UserDuration resolves the user backlog threshold.
func (b BacklogConfig) UserDuration() (time.Duration, error) {
	return parseBacklog(b.User)
}

// SystemDuration resolves the system backlog threshold.
func (b BacklogConfig) SystemDuration() (time.Duration, error) {
	return parseBacklog(b.System)
}

func parseBacklog(value string) (time.Duration, error) {
	switch value {
	case "":
		return 0, nil
	case "short":
		return 30 * time.Second, nil
	case "long":
		return time.Hour, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid backlog value %q: %w\nExpected a duration like \"30s\", or \"short\"/\"long\"", value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid backlog value %q\nBacklog thresholds cannot be negative", value)
	}
	return d, nil
}
