// Package config parses and validates the broker's YAML configuration file.
// Carried here as the ambient stack every CLI invocation depends on, using
// the same YAML-via-gopkg.in/yaml.v3 idiom as the rest of the module.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fossas/broker/internal/brokererr"
	"github.com/fossas/broker/internal/secret"
	"github.com/fossas/broker/internal/transport"
)

// Config is the root of the broker's validated configuration.
type Config struct {
	Endpoint     string
	Key          secret.Value
	Debugging    Debugging
	Integrations []Integration
}

// Debugging holds the optional trace-retention settings: not read by the
// core pipeline itself. It is left zero when the config file has no
// `debugging` block.
type Debugging struct {
	TraceRetention Duration
}

// ImportMode is the enabled/disabled state of branch or tag import for one
// integration, optionally restricted to a watched list.
type ImportMode struct {
	Enabled bool
	// Watched, if non-empty, restricts import to these exact names. Empty
	// means "all" when Enabled is true.
	Watched []string
}

// Integration is one configured repository connection.
type Integration struct {
	Kind           string
	PollInterval   Duration
	Remote         transport.Remote
	Scheme         transport.Scheme
	Auth           transport.Auth
	ImportBranches ImportMode
	ImportTags     ImportMode
}

// rawConfig mirrors the YAML document shape before validation.
type rawConfig struct {
	Endpoint     string         `yaml:"endpoint"`
	Key          string         `yaml:"key"`
	Debugging    *rawDebugging  `yaml:"debugging"`
	Integrations []rawIntegration `yaml:"integrations"`
}

type rawDebugging struct {
	TraceRetention Duration `yaml:"trace_retention"`
}

type rawIntegration struct {
	Type           string    `yaml:"type"`
	PollInterval   Duration  `yaml:"poll_interval"`
	Remote         string    `yaml:"remote"`
	Auth           yaml.Node `yaml:"auth"`
	ImportBranches *rawImport `yaml:"import_branches"`
	ImportTags     *rawImport `yaml:"import_tags"`
}

// rawImport supports both `import_branches: disabled` (a bare scalar) and
// `import_branches: {enabled: [a, b]}` / `import_branches: enabled` (a
// mapping or bare "enabled" meaning "all") by decoding into a flexible
// node and interpreting it in toImportMode.
type rawImport struct {
	node yaml.Node
}

func (r *rawImport) UnmarshalYAML(node *yaml.Node) error {
	r.node = *node
	return nil
}

func (r *rawImport) toImportMode(field string) (ImportMode, error) {
	if r == nil {
		return ImportMode{Enabled: true}, nil
	}
	switch r.node.Kind {
	case yaml.ScalarNode:
		switch r.node.Value {
		case "disabled":
			return ImportMode{Enabled: false}, nil
		case "enabled":
			return ImportMode{Enabled: true}, nil
		default:
			return ImportMode{}, fmt.Errorf("config: %s: unrecognized value %q", field, r.node.Value)
		}
	case yaml.MappingNode:
		var m struct {
			Enabled []string `yaml:"enabled"`
		}
		if err := r.node.Decode(&m); err != nil {
			return ImportMode{}, fmt.Errorf("config: %s: %w", field, err)
		}
		return ImportMode{Enabled: true, Watched: m.Enabled}, nil
	default:
		return ImportMode{}, fmt.Errorf("config: %s: unsupported YAML node kind", field)
	}
}

// rawAuthVariants is decoded from the "auth" node, one field per variant;
// exactly one must be set.
type rawAuthVariants struct {
	SSHKeyFile *struct {
		Path string `yaml:"path"`
	} `yaml:"ssh_key_file"`
	SSHKey *struct {
		Key string `yaml:"key"`
	} `yaml:"ssh_key"`
	HTTPHeader *struct {
		Header string `yaml:"header"`
	} `yaml:"http_header"`
	HTTPBasic *struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"http_basic"`
	None *struct {
		Transport string `yaml:"transport"`
	} `yaml:"none"`
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, brokererr.New("config.load", brokererr.KindConfigurationInvalid, err,
			fmt.Sprintf("could not read config file at %s", path))
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, brokererr.New("config.load", brokererr.KindConfigurationInvalid, err,
			"the config file is not valid YAML")
	}

	return raw.toConfig()
}

func (raw rawConfig) toConfig() (*Config, error) {
	if raw.Endpoint == "" {
		return nil, brokererr.New("config.validate", brokererr.KindConfigurationInvalid,
			fmt.Errorf("endpoint must not be empty"), "set `endpoint` in the config file")
	}
	if raw.Key == "" {
		return nil, brokererr.New("config.validate", brokererr.KindConfigurationInvalid,
			fmt.Errorf("key must not be empty"), "set `key` in the config file")
	}

	cfg := &Config{
		Endpoint: raw.Endpoint,
		Key:      secret.NewString(raw.Key),
	}
	if raw.Debugging != nil {
		if d := raw.Debugging.TraceRetention.Duration; d < MinRetention {
			return nil, brokererr.New("config.validate", brokererr.KindConfigurationInvalid,
				fmt.Errorf("debugging.trace_retention of %s is below the minimum of %s", d, MinRetention),
				"set `debugging.trace_retention` to at least 1s")
		}
		cfg.Debugging = Debugging{TraceRetention: raw.Debugging.TraceRetention}
	}

	for i, ri := range raw.Integrations {
		integration, err := ri.toIntegration()
		if err != nil {
			return nil, brokererr.New("config.validate", brokererr.KindConfigurationInvalid, err,
				fmt.Sprintf("fix integration #%d in the config file", i))
		}
		cfg.Integrations = append(cfg.Integrations, integration)
	}

	return cfg, nil
}

func (ri rawIntegration) toIntegration() (Integration, error) {
	remote, err := transport.NewRemote(ri.Remote)
	if err != nil {
		return Integration{}, err
	}

	var variants rawAuthVariants
	if err := ri.Auth.Decode(&variants); err != nil {
		return Integration{}, fmt.Errorf("invalid auth block: %w", err)
	}

	auth, scheme, err := variants.resolve()
	if err != nil {
		return Integration{}, err
	}
	if err := transport.ValidateAuth(scheme, auth); err != nil {
		return Integration{}, err
	}

	branches, err := ri.ImportBranches.toImportMode("import_branches")
	if err != nil {
		return Integration{}, err
	}
	tags, err := ri.ImportTags.toImportMode("import_tags")
	if err != nil {
		return Integration{}, err
	}

	return Integration{
		Kind:           ri.Type,
		PollInterval:   ri.PollInterval,
		Remote:         remote,
		Scheme:         scheme,
		Auth:           auth,
		ImportBranches: branches,
		ImportTags:     tags,
	}, nil
}

// resolve picks exactly one auth variant. "none" is valid only when its
// transport is "http" — ssh+none is structurally impossible for every
// other variant since there is no SSHNone type, but "none" itself carries
// an explicit transport field precisely so this one case can be rejected
// at the config layer.
func (v rawAuthVariants) resolve() (transport.Auth, transport.Scheme, error) {
	set := 0
	if v.SSHKeyFile != nil {
		set++
	}
	if v.SSHKey != nil {
		set++
	}
	if v.HTTPHeader != nil {
		set++
	}
	if v.HTTPBasic != nil {
		set++
	}
	if v.None != nil {
		set++
	}
	if set != 1 {
		return nil, 0, fmt.Errorf("auth block must set exactly one variant, got %d", set)
	}

	switch {
	case v.SSHKeyFile != nil:
		return transport.SSHKeyFile{Path: v.SSHKeyFile.Path}, transport.SchemeSSH, nil
	case v.SSHKey != nil:
		return transport.SSHKeyValue{Key: secret.NewString(v.SSHKey.Key)}, transport.SchemeSSH, nil
	case v.HTTPHeader != nil:
		return transport.HTTPHeader{Header: secret.NewString(v.HTTPHeader.Header)}, transport.SchemeHTTP, nil
	case v.HTTPBasic != nil:
		return transport.HTTPBasic{
			Username: v.HTTPBasic.Username,
			Password: secret.NewString(v.HTTPBasic.Password),
		}, transport.SchemeHTTP, nil
	default: // v.None != nil
		switch v.None.Transport {
		case "http":
			return transport.HTTPNone{}, transport.SchemeHTTP, nil
		case "ssh":
			return nil, 0, fmt.Errorf("ssh+none is not a supported auth combination")
		default:
			return nil, 0, fmt.Errorf("none: unrecognized transport %q", v.None.Transport)
		}
	}
}

// Discover finds the config file: an explicit path wins; otherwise cwd
// first, then the per-OS default config directory, unless
// DISABLE_FILE_DISCOVERY is set.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	if v := os.Getenv("DISABLE_FILE_DISCOVERY"); v == "1" || strings.EqualFold(v, "true") {
		return "", fmt.Errorf("config: no explicit path given and file discovery is disabled")
	}

	const filename = "config.yml"

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: failed to get working directory: %w", err)
	}
	if candidate := filepath.Join(cwd, filename); fileExists(candidate) {
		return candidate, nil
	}

	defaultDir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(defaultDir, filename)
	if fileExists(candidate) {
		return candidate, nil
	}

	return "", fmt.Errorf("config: no config file found in %s or %s", cwd, defaultDir)
}

func defaultConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", fmt.Errorf("config: USERPROFILE is not set")
		}
		return filepath.Join(profile, ".config", "fossa", "broker"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "fossa", "broker"), nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
