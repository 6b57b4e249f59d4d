package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ddr4869/fabctl/common/logger"
)

// EnvPrefix prefixes environment overrides, e.g. FABCTL_SSH_TIMEOUT.
const EnvPrefix = "FABCTL"

// Translator modes.
const (
	TranslatorExec   = "exec"
	TranslatorNative = "native"
)

// Config holds the runtime settings of fabctl.
type Config struct {
	// Output is the local working directory (crypto-config, configtx, compose, package).
	Output string `mapstructure:"output"`
	// Deployment is the network description file.
	Deployment string `mapstructure:"deployment"`

	Log        logger.Config    `mapstructure:"log"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Translator TranslatorConfig `mapstructure:"translator"`
	SSH        SSHConfig        `mapstructure:"ssh"`
	Remote     RemoteConfig     `mapstructure:"remote"`
	Orderer    OrdererConfig    `mapstructure:"orderer"`
	State      StateConfig      `mapstructure:"state"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
}

// ToolsConfig locates the Fabric release binaries.
type ToolsConfig struct {
	Configtxlator string `mapstructure:"configtxlator"`
	Configtxgen   string `mapstructure:"configtxgen"`
	// ConfigPath is exported as FABRIC_CFG_PATH; defaults to the configtx directory.
	ConfigPath string `mapstructure:"configPath"`
}

type TranslatorConfig struct {
	Mode string `mapstructure:"mode"`
}

type SSHConfig struct {
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
	// CommandTimeout bounds each remote command; zero disables it.
	CommandTimeout        time.Duration `mapstructure:"commandTimeout"`
	KnownHosts            string        `mapstructure:"knownHosts"`
	InsecureIgnoreHostKey bool          `mapstructure:"insecureIgnoreHostKey"`
}

type RemoteConfig struct {
	ScriptDir string `mapstructure:"scriptDir"`
	TmpDir    string `mapstructure:"tmpDir"`
}

type OrdererConfig struct {
	Probe        bool          `mapstructure:"probe"`
	ProbeTimeout time.Duration `mapstructure:"probeTimeout"`
	TLSCAFile    string        `mapstructure:"tlsCAFile"`
}

type StateConfig struct {
	// Path of the leveldb state directory; defaults to {output}/state.
	Path string `mapstructure:"path"`
}

type PipelineConfig struct {
	// Parallelism bounds how many channels are extended at once.
	Parallelism int `mapstructure:"parallelism"`
}

// Load reads the runtime settings. v may carry flag bindings; a fresh viper
// instance is used when nil. A missing config file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("fabctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.fabctl")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(errors.Cause(err)) {
			return nil, errors.Wrap(err, "error reading config file")
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	cfg.applyDerived()

	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output", "./gen")
	v.SetDefault("deployment", "./configs/deployment.yaml")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "console")

	v.SetDefault("tools.configtxlator", "configtxlator")
	v.SetDefault("tools.configtxgen", "configtxgen")

	v.SetDefault("translator.mode", TranslatorExec)

	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.timeout", "30s")
	v.SetDefault("ssh.commandTimeout", "10m")
	v.SetDefault("ssh.insecureIgnoreHostKey", false)

	v.SetDefault("remote.scriptDir", "$HOME/fabric-scripts")
	v.SetDefault("remote.tmpDir", "/tmp")

	v.SetDefault("orderer.probe", false)
	v.SetDefault("orderer.probeTimeout", "5s")

	v.SetDefault("pipeline.parallelism", 1)
}

func (c *Config) applyDerived() {
	if c.State.Path == "" {
		c.State.Path = filepath.Join(c.Output, "state")
	}
	if c.Tools.ConfigPath == "" {
		c.Tools.ConfigPath = c.ConfigtxDir()
	}
	if c.Pipeline.Parallelism < 1 {
		c.Pipeline.Parallelism = 1
	}
}

func (c *Config) validate() error {
	if c.Output == "" {
		return errors.New("output directory is required")
	}
	switch c.Translator.Mode {
	case TranslatorExec, TranslatorNative:
	default:
		return errors.Errorf("unknown translator mode %q", c.Translator.Mode)
	}
	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		return errors.Errorf("invalid ssh port: %d", c.SSH.Port)
	}
	if c.SSH.Timeout <= 0 {
		return errors.New("ssh timeout must be positive")
	}
	if c.SSH.CommandTimeout < 0 {
		return errors.New("ssh command timeout cannot be negative")
	}
	return nil
}

// CryptoDir holds crypto-config material generated by cryptogen.
func (c *Config) CryptoDir() string { return filepath.Join(c.Output, "crypto") }

// ConfigtxDir holds configtx.yaml, genesis blocks and update artifacts.
func (c *Config) ConfigtxDir() string { return filepath.Join(c.Output, "configtx") }

// ComposeDir holds rendered docker-compose files and install scripts.
func (c *Config) ComposeDir() string { return filepath.Join(c.Output, "compose") }

// PackageDir holds per-element zip archives.
func (c *Config) PackageDir() string { return filepath.Join(c.Output, "package") }

// PrintConfig logs the effective settings.
func (c *Config) PrintConfig() {
	logger.Infof("=== fabctl configuration ===")
	logger.Infof("Output: %s", c.Output)
	logger.Infof("Deployment: %s", c.Deployment)
	logger.Infof("Translator: %s (configtxlator=%s, configtxgen=%s)", c.Translator.Mode, c.Tools.Configtxlator, c.Tools.Configtxgen)
	logger.Infof("SSH: port=%d timeout=%s commandTimeout=%s", c.SSH.Port, c.SSH.Timeout, c.SSH.CommandTimeout)
	logger.Infof("Orderer probe: %t", c.Orderer.Probe)
	logger.Infof("State: %s", c.State.Path)
	logger.Infof("============================")
}
