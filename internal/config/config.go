package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ConfigFileName = "plugsync.yaml"

// Defaults matching the Car Thing out of the box.
const (
	DefaultHost       = "172.16.42.2"
	DefaultPort       = "22"
	DefaultUsername   = "root"
	DefaultRemotePath = "/tmp/plugins"
	DefaultSuffix     = ".so"
)

type Config struct {
	ProjectName string `yaml:"project_name"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password,omitempty"`
	PrivateKey  string `yaml:"privateKey,omitempty"`
	Host        string `yaml:"host"`
	Port        string `yaml:"port"`
	LocalPath   string `yaml:"localPath"`
	RemotePath  string `yaml:"remotePath"`
	Suffix      string `yaml:"suffix"`
	Device      Device `yaml:"device"`
}

// Device holds the device-side knobs for install/uninstall workflows.
type Device struct {
	// ServiceStop and ServiceStart bracket uninstalls: the host process that
	// loads plugins is stopped before removal and restarted afterwards.
	// Both are best-effort; empty commands skip the steps entirely.
	ServiceStop  string `yaml:"service_stop,omitempty"`
	ServiceStart string `yaml:"service_start,omitempty"`
	// CleanupPaths are directories whose "<name>*" side-files get removed
	// on uninstall (caches, saved state). Failures are swallowed per path.
	CleanupPaths []string `yaml:"cleanup_paths,omitempty"`
	// RemountWritable runs "mount -o remount,rw /" before mutating steps.
	RemountWritable bool `yaml:"remount_writable"`
	// ConnectTimeoutSec bounds the TCP dial and the connectivity probe.
	ConnectTimeoutSec int `yaml:"connect_timeout,omitempty"`
	// CommandTimeoutSec bounds a single remote command.
	CommandTimeoutSec int `yaml:"command_timeout,omitempty"`
}

func (d Device) ConnectTimeout() time.Duration {
	if d.ConnectTimeoutSec <= 0 {
		return 3 * time.Second
	}
	return time.Duration(d.ConnectTimeoutSec) * time.Second
}

func (d Device) CommandTimeout() time.Duration {
	if d.CommandTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(d.CommandTimeoutSec) * time.Second
}

// DefaultConfig returns a config pre-filled for a stock device; the local
// plugin directory still has to be pointed somewhere real.
func DefaultConfig() Config {
	return Config{
		ProjectName: "plugsync",
		Username:    DefaultUsername,
		Host:        DefaultHost,
		Port:        DefaultPort,
		LocalPath:   ".",
		RemotePath:  DefaultRemotePath,
		Suffix:      DefaultSuffix,
		Device: Device{
			RemountWritable: true,
		},
	}
}

func ConfigExists() bool {
	_, err := os.Stat(ConfigFileName)
	return !os.IsNotExist(err)
}

func GetConfigPath() string {
	cwd, _ := os.Getwd()
	return cwd + string(os.PathSeparator) + ConfigFileName
}

// loadDotEnv reads KEY=VALUE pairs from ./.env. OS environment wins over
// .env values so exported variables keep priority.
func loadDotEnv() map[string]string {
	vars := map[string]string{}
	f, err := os.Open(".env")
	if err != nil {
		return vars
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		vars[key] = val
	}
	return vars
}

// interpolateEnv replaces ${VAR} references in the raw config text using the
// OS environment first, then ./.env. Unknown variables are left untouched so
// the validation error points at the real problem.
func interpolateEnv(text string) string {
	dotEnv := loadDotEnv()
	return os.Expand(text, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		if v, ok := dotEnv[key]; ok {
			return v
		}
		return "${" + key + "}"
	})
}

func ValidateConfig(cfg *Config) error {
	var validationErrors []string

	if strings.TrimSpace(cfg.Username) == "" {
		validationErrors = append(validationErrors, "username cannot be empty")
	}

	if strings.TrimSpace(cfg.Host) == "" {
		validationErrors = append(validationErrors, "host cannot be empty")
	}

	if strings.TrimSpace(cfg.Port) == "" {
		validationErrors = append(validationErrors, "port cannot be empty")
	} else {
		if port, err := strconv.Atoi(cfg.Port); err != nil || port <= 0 || port > 65535 {
			validationErrors = append(validationErrors, "port must be a valid number between 1-65535")
		}
	}

	if strings.TrimSpace(cfg.RemotePath) == "" {
		validationErrors = append(validationErrors, "remotePath cannot be empty")
	}

	if strings.TrimSpace(cfg.Password) == "" && strings.TrimSpace(cfg.PrivateKey) == "" {
		validationErrors = append(validationErrors, "either password or privateKey must be set")
	}

	if strings.TrimSpace(cfg.PrivateKey) != "" {
		if _, err := os.Stat(cfg.PrivateKey); os.IsNotExist(err) {
			validationErrors = append(validationErrors, fmt.Sprintf("private key file does not exist: %s", cfg.PrivateKey))
		}
	}

	if strings.TrimSpace(cfg.Suffix) != "" && !strings.HasPrefix(cfg.Suffix, ".") {
		validationErrors = append(validationErrors, fmt.Sprintf("suffix must start with a dot, got: %s", cfg.Suffix))
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(validationErrors, "\n"))
	}

	return nil
}

// LoadAndValidateConfig loads plugsync.yaml from the working directory,
// interpolates ${VAR} references and validates the result.
func LoadAndValidateConfig() (*Config, error) {
	if !ConfigExists() {
		return nil, errors.New("plugsync.yaml not found. Please run 'plugsync init' first")
	}

	data, err := os.ReadFile(ConfigFileName)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var cfg Config
	err = yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteDefaultConfig writes a starter plugsync.yaml; fails if one exists.
func WriteDefaultConfig() error {
	if ConfigExists() {
		return errors.New("config file already exists")
	}
	cfg := DefaultConfig()
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("error generating config: %v", err)
	}
	return os.WriteFile(ConfigFileName, data, 0644)
}

func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.RemotePath == "" {
		cfg.RemotePath = DefaultRemotePath
	}
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
}
