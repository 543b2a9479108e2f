package runner

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubcred/hubcred-go/pkg/apiversion"
	"github.com/hubcred/hubcred-go/pkg/credential"
	"github.com/hubcred/hubcred-go/pkg/log"
	"github.com/hubcred/hubcred-go/pkg/transport"
)

// Defaults for the provisioning target the harness is normally pointed at.
const (
	DefaultHubName   = "ruath-iothub-004"
	DefaultDeviceID  = "ruath-device-001"
	DefaultHubDomain = "azure-devices-int.net"

	DefaultTimeout        = 60 * time.Second
	DefaultReconnectDelay = 3 * time.Second
	DefaultSASPolicy      = "iothubowner"
)

// Environment variables consulted when flags and config files leave the
// target unset.
const (
	EnvHubName    = "HUB_NAME"
	EnvDeviceName = "DEVICE_NAME"
)

// AuthMethod values. Empty means the method is inferred from which
// credential materials are configured.
const (
	AuthCert = "cert"
	AuthSAS  = "sas"
)

// SessionFactory builds the hub session a scenario drives. The default
// factory dials a live broker through pkg/transport; tests substitute an
// in-process hub.
type SessionFactory func(cfg *Config) (transport.Session, error)

// Config configures the scenario runner.
type Config struct {
	// HubName names the hub instance. It derives Host when Host is empty.
	HubName string

	// Host is the broker hostname. Derived from HubName when empty.
	Host string

	// Port is the MQTT-over-TLS port.
	Port int

	// DeviceID is the device identity requesting a certificate.
	DeviceID string

	// APIVersion overrides the credential API version.
	APIVersion string

	// AuthMethod forces AuthCert or AuthSAS when a target configures
	// both credential forms. Empty infers the method from the materials.
	AuthMethod string

	// CACert is the PEM file holding the broker's CA chain.
	CACert string

	// DeviceCert and DeviceKey are PEM file paths for certificate
	// authentication. Both must be set together.
	DeviceCert string
	DeviceKey  string

	// SASKey and SASPolicy select shared-access-signature authentication
	// instead of a device certificate.
	SASKey    string
	SASPolicy string

	// CSR is the base64 certificate signing request to submit. Empty
	// selects the mock CSR.
	CSR string

	// Timeout is the wall-clock budget for one scenario run, reconnects
	// included.
	Timeout time.Duration

	// ReconnectDelay is how long disconnect_reconnect stays offline
	// before dialing again.
	ReconnectDelay time.Duration

	// Verbose adds the transition trace to text reports.
	Verbose bool

	// Output receives reports. Defaults to os.Stdout.
	Output io.Writer

	// OutputFormat is "text", "json", or "junit".
	OutputFormat string

	// Logger receives operational log output. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives structured protocol events.
	// Nil disables protocol logging.
	ProtocolLogger log.Logger

	// NewSession overrides how sessions are built. When set, auth
	// settings are not validated.
	NewSession SessionFactory
}

// fileConfig is the YAML shape of a target file. Durations are strings
// ("90s") parsed during load.
type fileConfig struct {
	HubName        string `yaml:"hub_name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Device         string `yaml:"device"`
	APIVersion     string `yaml:"api_version"`
	Auth           string `yaml:"auth"`
	CACert         string `yaml:"ca_cert"`
	DeviceCert     string `yaml:"device_cert"`
	DeviceKey      string `yaml:"device_key"`
	SASKey         string `yaml:"sas_key"`
	SASPolicy      string `yaml:"sas_policy"`
	CSR            string `yaml:"csr"`
	Timeout        string `yaml:"timeout"`
	ReconnectDelay string `yaml:"reconnect_delay"`
}

// LoadConfig reads a YAML target file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := &Config{
		HubName:    fc.HubName,
		Host:       fc.Host,
		Port:       fc.Port,
		DeviceID:   fc.Device,
		APIVersion: fc.APIVersion,
		AuthMethod: fc.Auth,
		CACert:     fc.CACert,
		DeviceCert: fc.DeviceCert,
		DeviceKey:  fc.DeviceKey,
		SASKey:     fc.SASKey,
		SASPolicy:  fc.SASPolicy,
		CSR:        fc.CSR,
	}

	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid timeout %q: %w", path, fc.Timeout, err)
		}
		cfg.Timeout = d
	}
	if fc.ReconnectDelay != "" {
		d, err := time.ParseDuration(fc.ReconnectDelay)
		if err != nil {
			return nil, fmt.Errorf("config %s: invalid reconnect_delay %q: %w", path, fc.ReconnectDelay, err)
		}
		cfg.ReconnectDelay = d
	}

	return cfg, nil
}

// Merge fills c's unset fields from other. Fields already set on c win,
// so callers apply flag values first and merge file values underneath.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if c.HubName == "" {
		c.HubName = other.HubName
	}
	if c.Host == "" {
		c.Host = other.Host
	}
	if c.Port == 0 {
		c.Port = other.Port
	}
	if c.DeviceID == "" {
		c.DeviceID = other.DeviceID
	}
	if c.APIVersion == "" {
		c.APIVersion = other.APIVersion
	}
	if c.AuthMethod == "" {
		c.AuthMethod = other.AuthMethod
	}
	if c.CACert == "" {
		c.CACert = other.CACert
	}
	if c.DeviceCert == "" {
		c.DeviceCert = other.DeviceCert
	}
	if c.DeviceKey == "" {
		c.DeviceKey = other.DeviceKey
	}
	if c.SASKey == "" {
		c.SASKey = other.SASKey
	}
	if c.SASPolicy == "" {
		c.SASPolicy = other.SASPolicy
	}
	if c.CSR == "" {
		c.CSR = other.CSR
	}
	if c.Timeout == 0 {
		c.Timeout = other.Timeout
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
}

// ApplyEnv fills the hub and device identity from the environment when
// flags and config files left them unset.
func (c *Config) ApplyEnv() {
	if c.HubName == "" && c.Host == "" {
		c.HubName = os.Getenv(EnvHubName)
	}
	if c.DeviceID == "" {
		c.DeviceID = os.Getenv(EnvDeviceName)
	}
}

// ApplyDefaults fills remaining unset fields with the standard target.
func (c *Config) ApplyDefaults() {
	if c.HubName == "" && c.Host == "" {
		c.HubName = DefaultHubName
	}
	if c.Host == "" {
		c.Host = c.HubName + "." + DefaultHubDomain
	}
	if c.Port == 0 {
		c.Port = transport.DefaultPort
	}
	if c.DeviceID == "" {
		c.DeviceID = DefaultDeviceID
	}
	if c.SASKey != "" && c.SASPolicy == "" {
		c.SASPolicy = DefaultSASPolicy
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration for a run. Auth settings are only
// required when the default factory will dial a live broker.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("hub host is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if c.APIVersion != "" {
		if _, err := apiversion.Parse(c.APIVersion); err != nil {
			return err
		}
	}
	if c.NewSession != nil {
		return nil
	}

	hasCert := c.DeviceCert != "" || c.DeviceKey != ""
	hasSAS := c.SASKey != ""
	switch c.AuthMethod {
	case AuthCert:
		if c.DeviceCert == "" || c.DeviceKey == "" {
			return fmt.Errorf("certificate auth requires both device cert and key")
		}
	case AuthSAS:
		if !hasSAS {
			return fmt.Errorf("SAS auth requires a key")
		}
	case "":
		switch {
		case hasCert && hasSAS:
			return fmt.Errorf("device certificate and SAS key are both configured: select one with -cert or -sas")
		case hasCert:
			if c.DeviceCert == "" || c.DeviceKey == "" {
				return fmt.Errorf("certificate auth requires both device cert and key")
			}
		case !hasSAS:
			return fmt.Errorf("no auth configured: set a device cert/key pair or a SAS key")
		}
	default:
		return fmt.Errorf("unknown auth method %q: use %q or %q", c.AuthMethod, AuthCert, AuthSAS)
	}
	return nil
}

// credential builds the auth credential Validate selected.
func (c *Config) credential() credential.Credential {
	if c.AuthMethod == AuthSAS {
		return &credential.SAS{
			CACertFile: c.CACert,
			Key:        c.SASKey,
			PolicyName: c.SASPolicy,
		}
	}
	if c.DeviceCert != "" {
		return &credential.X509{
			CACertFile: c.CACert,
			CertFile:   c.DeviceCert,
			KeyFile:    c.DeviceKey,
		}
	}
	return &credential.SAS{
		CACertFile: c.CACert,
		Key:        c.SASKey,
		PolicyName: c.SASPolicy,
	}
}

// Session builds the hub session this configuration describes. The
// scenario runner calls it once per dial; other tools reuse it to share
// the same target resolution.
func (c *Config) Session() (transport.Session, error) {
	if c.NewSession != nil {
		return c.NewSession(c)
	}
	client, err := transport.New(transport.Config{
		Host:           c.Host,
		Port:           c.Port,
		DeviceID:       c.DeviceID,
		APIVersion:     c.APIVersion,
		Credential:     c.credential(),
		Logger:         c.Logger,
		ProtocolLogger: c.ProtocolLogger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
