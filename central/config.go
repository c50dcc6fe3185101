package central

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mdzio/go-hmcentral/itf"

	"gopkg.in/yaml.v3"
)

// Well known interface names of the CCU.
const (
	InterfaceBidCosRF    = "BidCos-RF"
	InterfaceBidCosWired = "BidCos-Wired"
	InterfaceHmIPRF      = "HmIP-RF"
	InterfaceVirtual     = "VirtualDevices"
)

// default XML-RPC ports of the interface processes
var defaultPorts = map[string]int{
	InterfaceBidCosRF:    2001,
	InterfaceBidCosWired: 2000,
	InterfaceHmIPRF:      2010,
	InterfaceVirtual:     9292,
}

// default remote paths of the interface processes
var defaultPaths = map[string]string{
	InterfaceVirtual: "/groups",
}

const (
	// DefaultConnectionCheckerInterval is the tick of the connection checker.
	DefaultConnectionCheckerInterval = 15 * time.Second
	// DefaultCallbackWarnInterval marks a callback as dead when no event
	// arrived for this long.
	DefaultCallbackWarnInterval = 5 * time.Minute
	// DefaultCallbackPort is the listen port of the callback server.
	DefaultCallbackPort = 2123
	// DefaultMaxWorkers bounds the outgoing calls per interface.
	DefaultMaxWorkers = 1
)

// InterfaceConfig describes one XML-RPC interface of the backend.
type InterfaceConfig struct {
	// interface name, e.g. "HmIP-RF"
	Name string `yaml:"name"`
	// XML-RPC port, 0 for the default of a well known interface
	Port int `yaml:"port"`
	// remote path, e.g. "/groups" for VirtualDevices
	Path string `yaml:"path"`
}

// Config holds the static configuration of a Central.
type Config struct {
	// name of this central, used in interface ids and cache file names
	Name string `yaml:"name"`
	// host name or IP address of the backend
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// directory for caches, the un-ignore file and exports
	StorageFolder string `yaml:"storageFolder"`

	Interfaces []InterfaceConfig `yaml:"interfaces"`

	// use https/TLS for backend connections
	TLS bool `yaml:"tls"`
	// verify the backend certificate
	VerifyTLS bool `yaml:"verifyTLS"`

	// port of the JSON-RPC API, 0 for the default (80/443)
	JSONPort int `yaml:"jsonPort"`

	// overrides for the callback URL announced to the backend
	CallbackHost string `yaml:"callbackHost"`
	CallbackPort int    `yaml:"callbackPort"`

	// listen address of the callback server, e.g. ":2123"
	ListenAddress string `yaml:"listenAddress"`
	ListenPort    int    `yaml:"listenPort"`

	// worker pool size per interface
	MaxWorkers int `yaml:"maxWorkers"`

	ConnectionCheckerInterval time.Duration `yaml:"connectionCheckerInterval"`
	CallbackWarnInterval      time.Duration `yaml:"callbackWarnInterval"`

	// hub entity scanning
	SysVarScanEnabled       bool          `yaml:"sysVarScanEnabled"`
	IncludeInternalSysVars  bool          `yaml:"includeInternalSysVars"`
	ProgramScanEnabled      bool          `yaml:"programScanEnabled"`
	IncludeInternalPrograms bool          `yaml:"includeInternalPrograms"`
	ScanInterval            time.Duration `yaml:"scanInterval"`

	// skip the callback server for one-shot queries
	StartDirect bool `yaml:"startDirect"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, &itf.ConfigError{Message: fmt.Sprintf("Reading of configuration file %s failed: %v", path, err)}
	}
	cfg := &Config{}
	if err = yaml.Unmarshal(buf, cfg); err != nil {
		return nil, &itf.ConfigError{Message: fmt.Sprintf("Parsing of configuration file %s failed: %v", path, err)}
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &itf.ConfigError{Message: "Missing central name"}
	}
	if strings.ContainsAny(c.Name, "/\\ ") {
		return &itf.ConfigError{Message: "Invalid central name: " + c.Name}
	}
	if c.Host == "" {
		return &itf.ConfigError{Message: "Missing backend host"}
	}
	if c.StorageFolder == "" {
		return &itf.ConfigError{Message: "Missing storage folder"}
	}
	if len(c.Interfaces) == 0 {
		return &itf.ConfigError{Message: "No interfaces configured"}
	}
	for i := range c.Interfaces {
		ic := &c.Interfaces[i]
		if ic.Name == "" {
			return &itf.ConfigError{Message: "Missing interface name"}
		}
		if ic.Port == 0 {
			port, ok := defaultPorts[ic.Name]
			if !ok {
				return &itf.ConfigError{Message: "Missing port for interface: " + ic.Name}
			}
			ic.Port = port
		}
		if ic.Path == "" {
			ic.Path = defaultPaths[ic.Name]
		}
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.ConnectionCheckerInterval <= 0 {
		c.ConnectionCheckerInterval = DefaultConnectionCheckerInterval
	}
	if c.CallbackWarnInterval <= 0 {
		c.CallbackWarnInterval = DefaultCallbackWarnInterval
	}
	if c.ListenPort == 0 {
		c.ListenPort = DefaultCallbackPort
	}
	if c.CallbackPort == 0 {
		c.CallbackPort = c.ListenPort
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Second
	}
	return nil
}

// InterfaceID builds the callback registration id of an interface.
func (c *Config) InterfaceID(interfaceName string) string {
	return c.Name + "-" + interfaceName
}

// scheme returns http or https depending on the TLS setting.
func (c *Config) scheme() string {
	if c.TLS {
		return "https"
	}
	return "http"
}

// InterfaceURL builds the XML-RPC endpoint URL of an interface. When TLS is
// enabled, the CCU offers the interfaces on port+40000.
func (c *Config) InterfaceURL(ic *InterfaceConfig) string {
	port := ic.Port
	if c.TLS {
		port += 40000
	}
	return fmt.Sprintf("%s://%s:%d%s", c.scheme(), c.Host, port, ic.Path)
}

// JSONURL builds the base URL of the JSON-RPC API.
func (c *Config) JSONURL() string {
	if c.JSONPort != 0 {
		return fmt.Sprintf("%s://%s:%d", c.scheme(), c.Host, c.JSONPort)
	}
	return fmt.Sprintf("%s://%s", c.scheme(), c.Host)
}
