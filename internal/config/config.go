// Package config loads client and engine settings from the environment.
// Command-line flags are applied on top by the commands themselves.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/signalsfoundry/simcontrol/control"
	"github.com/signalsfoundry/simcontrol/internal/observability"
	"github.com/signalsfoundry/simcontrol/internal/transport"
)

const (
	ClientPrefix = "SIMCTL_"
	EnginePrefix = "SIM_ENGINE_"
)

// ClientConfig configures simctl and other control clients.
type ClientConfig struct {
	Endpoint           string        `env:"ENDPOINT"            envDefault:"localhost:19997"`
	BindTimeout        time.Duration `env:"BIND_TIMEOUT"        envDefault:"5s"`
	CallTimeout        time.Duration `env:"CALL_TIMEOUT"        envDefault:"10s"`
	NotificationBuffer int           `env:"NOTIFICATION_BUFFER" envDefault:"1"`
	HandlePolicy       string        `env:"HANDLE_POLICY"       envDefault:"pass-through"`
	PackagePath        []string      `env:"PACKAGE_PATH"        envSeparator:":"`
	LogLevel           string        `env:"LOG_LEVEL"           envDefault:"info"`
	LogFormat          string        `env:"LOG_FORMAT"          envDefault:"text"`

	Tracing observability.TracingConfig `envPrefix:"TRACING_"`
}

// LoadClient reads SIMCTL_* variables.
func LoadClient() (ClientConfig, error) {
	var cfg ClientConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: ClientPrefix}); err != nil {
		return ClientConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "simctl"
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if c.BindTimeout <= 0 {
		return fmt.Errorf("bind timeout must be positive, got %s", c.BindTimeout)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call timeout must be positive, got %s", c.CallTimeout)
	}
	if c.NotificationBuffer < 1 {
		return fmt.Errorf("notification buffer must be at least 1, got %d", c.NotificationBuffer)
	}
	if _, err := control.ParseHandlePolicy(c.HandlePolicy); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// Transport returns the bind settings.
func (c ClientConfig) Transport() transport.Config {
	return transport.Config{
		Endpoint:           c.Endpoint,
		BindTimeout:        c.BindTimeout,
		CallTimeout:        c.CallTimeout,
		NotificationBuffer: c.NotificationBuffer,
	}
}

// Policy returns the parsed handle policy, PassThrough when invalid.
func (c ClientConfig) Policy() control.HandlePolicy {
	p, _ := control.ParseHandlePolicy(c.HandlePolicy)
	return p
}

// EngineConfig configures the sim-engine server.
type EngineConfig struct {
	GRPCAddr    string        `env:"GRPC_ADDR"    envDefault:":19997"`
	MetricsAddr string        `env:"METRICS_ADDR" envDefault:":9091"`
	Scene       string        `env:"SCENE"`
	Tick        time.Duration `env:"TICK"         envDefault:"50ms"`
	Accelerated bool          `env:"ACCELERATED"`
	LogLevel    string        `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string        `env:"LOG_FORMAT"   envDefault:"text"`

	Tracing observability.TracingConfig `envPrefix:"TRACING_"`
}

// LoadEngine reads SIM_ENGINE_* variables.
func LoadEngine() (EngineConfig, error) {
	var cfg EngineConfig
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnginePrefix}); err != nil {
		return EngineConfig{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "sim-engine"
	}
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c EngineConfig) Validate() error {
	if c.GRPCAddr == "" {
		return errors.New("grpc address is required")
	}
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive, got %s", c.Tick)
	}
	return c.Tracing.Validate()
}
