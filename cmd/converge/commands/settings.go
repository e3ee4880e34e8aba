package commands

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the optional CLI settings file, loaded via --config. It
// covers everything that is about the operator's environment rather
// than the desired host state: telemetry, state database, SSH defaults,
// adapter options, and extra policy paths.
type Settings struct {
	Telemetry TelemetrySettings `yaml:"telemetry"`
	State     StateSettings     `yaml:"state"`
	SSH       SSHSettings       `yaml:"ssh"`
	Adapters  AdapterSettings   `yaml:"adapters"`
	Policy    PolicySettings    `yaml:"policy"`
}

// TelemetrySettings configures logging, metrics, and tracing.
type TelemetrySettings struct {
	LogLevel       string  `yaml:"log_level"`
	LogFormat      string  `yaml:"log_format"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	MetricsAddress string  `yaml:"metrics_address"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	TraceExporter  string  `yaml:"trace_exporter"`
	TraceEndpoint  string  `yaml:"trace_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// StateSettings configures the local run-history database.
type StateSettings struct {
	Path string `yaml:"path"`
}

// SSHSettings are connection defaults for ssh:// targets.
type SSHSettings struct {
	User                  string `yaml:"user"`
	Port                  int    `yaml:"port"`
	PrivateKeyPath        string `yaml:"private_key_path"`
	KnownHostsPath        string `yaml:"known_hosts_path"`
	StrictHostKeyChecking *bool  `yaml:"strict_host_key_checking"`
}

// AdapterSettings configures adapter behavior.
type AdapterSettings struct {
	PackageManager string `yaml:"package_manager"`
	DatabaseDSN    string `yaml:"database_dsn"`
}

// PolicySettings lists additional Rego policy sources. In advisory
// mode violations are logged but never block a run.
type PolicySettings struct {
	Paths    []string `yaml:"paths"`
	Advisory bool     `yaml:"advisory"`
}

// loadSettings reads the settings file when --config was given, and
// returns defaults otherwise.
func loadSettings(path string) (*Settings, error) {
	settings := &Settings{
		Telemetry: TelemetrySettings{
			LogLevel:       "info",
			LogFormat:      "console",
			MetricsAddress: ":9090",
			TraceExporter:  "otlp",
			SamplingRate:   1.0,
		},
		State: StateSettings{
			Path: "converge.db",
		},
	}

	if path == "" {
		return settings, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	return settings, nil
}
