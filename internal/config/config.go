// Package config loads service settings from defaults, an optional YAML file
// and MYPY_PLAY_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sandbox backends.
const (
	SandboxDocker         = "docker"
	SandboxCloudFunctions = "cloud_functions"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "MYPY_PLAY_"

// Config holds all service settings.
type Config struct {
	Sandbox            string        `yaml:"sandbox"`
	SandboxConcurrency int           `yaml:"sandbox_concurrency"`
	RunTimeout         time.Duration `yaml:"run_timeout"`

	DefaultPythonVersion string   `yaml:"default_python_version"`
	PythonVersions       []string `yaml:"python_versions"`
	MypyVersions         PairList `yaml:"mypy_versions"`
	Tool                 string   `yaml:"tool"`

	DockerImages Dict `yaml:"docker_images"`
	DockerPull   bool `yaml:"docker_pull"`

	CloudFunctionsBaseURL       string `yaml:"cloud_functions_base_url"`
	CloudFunctionsIdentityToken string `yaml:"cloud_functions_identity_token"`
	CloudFunctionNames          Dict   `yaml:"cloud_function_names"`

	Port             int    `yaml:"port"`
	Debug            bool   `yaml:"debug"`
	GATrackingID     string `yaml:"ga_tracking_id"`
	EnablePrometheus bool   `yaml:"enable_prometheus"`

	// TrustedProxies lists addresses or CIDRs whose X-Forwarded-For header
	// identifies the client for rate limiting.
	TrustedProxies []string `yaml:"trusted_proxies"`

	// RedisAddr enables the asynchronous job API when set.
	RedisAddr string `yaml:"redis_addr"`
	Workers   int    `yaml:"workers"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Sandbox:              SandboxDocker,
		SandboxConcurrency:   3,
		RunTimeout:           60 * time.Second,
		DefaultPythonVersion: "3.14",
		PythonVersions:       []string{"3.14", "3.13", "3.12", "3.11", "3.10", "3.9"},
		MypyVersions: PairList{
			{Name: "mypy latest", Value: "latest"},
			{Name: "basedmypy latest", Value: "basedmypy-latest"},
		},
		Tool:               "mypy",
		DockerImages:       Dict{"latest": "ymyzk/mypy-playground-sandbox:latest"},
		CloudFunctionNames: Dict{"latest": "mypy-latest"},
		Port:               8080,
		Workers:            3,
	}
}

// Load builds the configuration. path may be empty to skip the file.
// lookup reads environment variables; nil selects os.LookupEnv.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		return lookup(EnvPrefix + key)
	}

	var errs []error
	str := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	dict := func(key string, dst *Dict) {
		if v, ok := get(key); ok {
			d, err := ParseDict(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("SANDBOX", &c.Sandbox)
	num("SANDBOX_CONCURRENCY", &c.SandboxConcurrency)
	if v, ok := get("RUN_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sRUN_TIMEOUT: %w", EnvPrefix, err))
		} else {
			c.RunTimeout = d
		}
	}
	str("DEFAULT_PYTHON_VERSION", &c.DefaultPythonVersion)
	if v, ok := get("PYTHON_VERSIONS"); ok {
		c.PythonVersions = splitList(v)
	}
	if v, ok := get("MYPY_VERSIONS"); ok {
		l, err := ParsePairList(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMYPY_VERSIONS: %w", EnvPrefix, err))
		} else {
			c.MypyVersions = l
		}
	}
	str("TOOL", &c.Tool)
	dict("DOCKER_IMAGES", &c.DockerImages)
	flag("DOCKER_PULL", &c.DockerPull)
	str("CLOUD_FUNCTIONS_BASE_URL", &c.CloudFunctionsBaseURL)
	str("CLOUD_FUNCTIONS_IDENTITY_TOKEN", &c.CloudFunctionsIdentityToken)
	dict("CLOUD_FUNCTION_NAMES", &c.CloudFunctionNames)
	num("PORT", &c.Port)
	flag("DEBUG", &c.Debug)
	str("GA_TRACKING_ID", &c.GATrackingID)
	flag("ENABLE_PROMETHEUS", &c.EnablePrometheus)
	str("REDIS_ADDR", &c.RedisAddr)
	num("WORKERS", &c.Workers)
	if v, ok := get("TRUSTED_PROXIES"); ok {
		c.TrustedProxies = splitList(v)
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Sandbox != SandboxDocker && c.Sandbox != SandboxCloudFunctions {
		errs = append(errs, fmt.Errorf("unknown sandbox %q", c.Sandbox))
	}
	if c.SandboxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("sandbox_concurrency must be positive, got %d", c.SandboxConcurrency))
	}
	if c.RunTimeout <= 0 {
		errs = append(errs, fmt.Errorf("run_timeout must be positive, got %s", c.RunTimeout))
	}
	if len(c.MypyVersions) == 0 {
		errs = append(errs, errors.New("mypy_versions must not be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Targets returns the version id -> backend target map of the selected sandbox.
func (c *Config) Targets() map[string]string {
	if c.Sandbox == SandboxCloudFunctions {
		return c.CloudFunctionNames
	}
	return c.DockerImages
}

// TrustedProxyPrefixes parses TrustedProxies. A bare address is a single-host prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, s := range c.TrustedProxies {
		if strings.Contains(s, "/") {
			p, err := netip.ParsePrefix(s)
			if err != nil {
				return nil, fmt.Errorf("trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted_proxies: %w", err)
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
