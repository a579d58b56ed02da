package config

import (
	"fmt"
	"os"
	"runtime"

	"OnnxMarkServer/engine"

	"gopkg.in/yaml.v3"
)

type Config struct {
	RPCPort       int                  `yaml:"RPCPort"`
	HTTPPort      int                  `yaml:"HTTPPort"`
	MetricsPort   int                  `yaml:"MetricsPort"`
	WorkersNum    int                  `yaml:"workersNum"`
	InstanceClass string               `yaml:"instanceClass"`
	UseRegServer  bool                 `yaml:"UseRegServer"`
	RegServerPort int                  `yaml:"RegServerPort"`
	RegServerHost string               `yaml:"RegServerHost"`
	LogLevel      string               `yaml:"logLevel"`
	Development   bool                 `yaml:"development"`
	ModelDir      string               `yaml:"modelDir"`
	Backend       engine.BackendConfig `yaml:"backend"`
	Models        []engine.EngineParam `yaml:"models"`
}

func Default() Config {
	return Config{
		RPCPort:       50051,
		HTTPPort:      8080,
		MetricsPort:   50053,
		WorkersNum:    1,
		InstanceClass: engine.InstanceCpu,
		ModelDir:      "models",
	}
}

// Load reads a YAML file over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Backend.InstanceClass = cfg.InstanceClass
	for i := range cfg.Models {
		cfg.Models[i].SetDefaults()
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	for name, port := range map[string]int{"RPCPort": c.RPCPort, "HTTPPort": c.HTTPPort, "MetricsPort": c.MetricsPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	switch c.InstanceClass {
	case engine.InstanceCpu, engine.InstanceCuda, engine.InstanceDml, engine.InstanceCoreML:
	default:
		return fmt.Errorf("invalid instanceClass %q", c.InstanceClass)
	}
	if c.UseRegServer && c.RegServerHost == "" {
		return fmt.Errorf("UseRegServer requires RegServerHost")
	}
	for i, m := range c.Models {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("models[%d]: %w", i, err)
		}
	}
	return nil
}

// Normalize clamps workersNum to at least one and reports when it exceeds
// the number of CPU cores.
func (c *Config) Normalize() []string {
	var warnings []string
	if c.WorkersNum <= 0 {
		c.WorkersNum = 1
		warnings = append(warnings, "Invalid workersNum in config, defaulting to 1")
	} else if c.WorkersNum > runtime.NumCPU() {
		warnings = append(warnings, "workersNum exceeds CPU cores, which may lead to performance degradation")
	}
	return warnings
}
