package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.clusterlift/clusterlift.yaml"
	HomeDir        = "~/.clusterlift"
)

// Config is the top-level configuration.
type Config struct {
	Version int           `yaml:"version"`
	AWS     AWSConfig     `yaml:"aws"`
	Cluster ClusterConfig `yaml:"cluster"`
	Scripts ScriptsConfig `yaml:"scripts,omitempty"`
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Await   AwaitConfig   `yaml:"await,omitempty"`
	Events  EventsConfig  `yaml:"events,omitempty"`
	Logging LogConfig     `yaml:"logging,omitempty"`
}

// AWSConfig holds credentials and the staging bucket. Empty keys fall back
// to the default credential chain.
type AWSConfig struct {
	Region          string `yaml:"region"`
	Profile         string `yaml:"profile,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	SessionToken    string `yaml:"session_token,omitempty"`
	Bucket          string `yaml:"bucket"`
	LogsPrefix      string `yaml:"logs_prefix,omitempty"`
}

// ClusterConfig describes the cluster to provision.
type ClusterConfig struct {
	Name                 string            `yaml:"name"`
	ReleaseLabel         string            `yaml:"release_label,omitempty"`
	MasterInstanceType   string            `yaml:"master_instance_type,omitempty"`
	CoreInstanceType     string            `yaml:"core_instance_type,omitempty"`
	InstanceCount        int               `yaml:"instance_count,omitempty"`
	KeepAlive            *bool             `yaml:"keep_alive,omitempty"`
	TerminationProtected bool              `yaml:"termination_protected,omitempty"`
	KeyName              string            `yaml:"key_name,omitempty"`
	Applications         []string          `yaml:"applications,omitempty"`
	VisibleToAllUsers    *bool             `yaml:"visible_to_all_users,omitempty"`
	InstanceRole         string            `yaml:"instance_role,omitempty"`
	ServiceRole          string            `yaml:"service_role,omitempty"`
	Tags                 map[string]string `yaml:"tags,omitempty"`
}

// ScriptsConfig controls where scripts come from and where they land.
type ScriptsConfig struct {
	LocalDir   string   `yaml:"local_dir,omitempty"`
	Prefix     string   `yaml:"prefix,omitempty"`
	StagingDir string   `yaml:"staging_dir,omitempty"`
	RunnerJar  string   `yaml:"runner_jar,omitempty"`
	SubmitArgs []string `yaml:"submit_args,omitempty"`
	OnFailure  string   `yaml:"on_failure,omitempty"` // CANCEL_AND_WAIT, CONTINUE or TERMINATE_CLUSTER
}

// GatewayConfig tunes control-plane calls.
type GatewayConfig struct {
	CallTimeout     time.Duration `yaml:"call_timeout,omitempty"`
	MaxAttempts     int           `yaml:"max_attempts,omitempty"`
	InitialInterval time.Duration `yaml:"initial_interval,omitempty"`
	MaxInterval     time.Duration `yaml:"max_interval,omitempty"`
}

// AwaitConfig controls step completion polling.
type AwaitConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
}

// EventsConfig enables optional lifecycle event sinks.
type EventsConfig struct {
	AMQPURL     string `yaml:"amqp_url,omitempty"`
	Exchange    string `yaml:"exchange,omitempty"`
	JournalDSN  string `yaml:"journal_dsn,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
	ListenAddr  string `yaml:"listen_addr,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Format    string `yaml:"format,omitempty"`    // text or json
	Directory string `yaml:"directory,omitempty"` // default ~/.clusterlift/logs/
}

// Default returns a config with every default applied and no site-specific
// values (bucket, region, name) filled in.
func Default() *Config {
	cfg := &Config{Version: CurrentVersion}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the config file from the given path.
func Load(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(ctx); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	if c.AWS.LogsPrefix == "" {
		c.AWS.LogsPrefix = "logs"
	}

	cl := &c.Cluster
	if cl.ReleaseLabel == "" {
		cl.ReleaseLabel = "emr-5.29.0"
	}
	if cl.MasterInstanceType == "" {
		cl.MasterInstanceType = "m5.xlarge"
	}
	if cl.CoreInstanceType == "" {
		cl.CoreInstanceType = "m5.xlarge"
	}
	if cl.InstanceCount == 0 {
		cl.InstanceCount = 3
	}
	if cl.KeepAlive == nil {
		cl.KeepAlive = boolPtr(true)
	}
	if len(cl.Applications) == 0 {
		cl.Applications = []string{"Hadoop", "Spark", "Hive", "Livy", "Zeppelin"}
	}
	if cl.VisibleToAllUsers == nil {
		cl.VisibleToAllUsers = boolPtr(true)
	}
	if cl.InstanceRole == "" {
		cl.InstanceRole = "EMR_EC2_DefaultRole"
	}
	if cl.ServiceRole == "" {
		cl.ServiceRole = "EMR_DefaultRole"
	}

	if c.Scripts.LocalDir == "" {
		c.Scripts.LocalDir = "spark_scripts"
	}
	if c.Scripts.Prefix == "" {
		c.Scripts.Prefix = "scripts"
	}
	if c.Scripts.StagingDir == "" {
		c.Scripts.StagingDir = cluster.DefaultStagingDir
	}
	if c.Scripts.RunnerJar == "" {
		c.Scripts.RunnerJar = cluster.DefaultRunnerJar
	}
	if c.Scripts.OnFailure == "" {
		c.Scripts.OnFailure = string(cluster.CancelAndWait)
	}

	if c.Gateway.CallTimeout == 0 {
		c.Gateway.CallTimeout = 30 * time.Second
	}
	if c.Gateway.MaxAttempts == 0 {
		c.Gateway.MaxAttempts = 5
	}
	if c.Gateway.InitialInterval == 0 {
		c.Gateway.InitialInterval = 500 * time.Millisecond
	}
	if c.Gateway.MaxInterval == 0 {
		c.Gateway.MaxInterval = 15 * time.Second
	}

	if c.Await.PollInterval == 0 {
		c.Await.PollInterval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome(HomeDir + "/logs/")
	}
}

// Validate reports settings that must be filled in before any AWS call.
func (c *Config) Validate() error {
	var errs []error
	if c.AWS.Region == "" {
		errs = append(errs, errors.New("aws.region is required"))
	}
	if c.AWS.Bucket == "" {
		errs = append(errs, errors.New("aws.bucket is required"))
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, errors.New("aws.access_key_id and aws.secret_access_key must be set together"))
	}
	if strings.TrimSpace(c.Cluster.Name) == "" {
		errs = append(errs, errors.New("cluster.name is required"))
	}
	if !cluster.ActionOnFailure(c.Scripts.OnFailure).Valid() {
		errs = append(errs, fmt.Errorf("scripts.on_failure %q is not one of CANCEL_AND_WAIT, CONTINUE, TERMINATE_CLUSTER", c.Scripts.OnFailure))
	}
	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, errors.New("gateway.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// LogURI is where the cluster writes its logs.
func (c *Config) LogURI() string {
	return "s3://" + path.Join(c.AWS.Bucket, c.AWS.LogsPrefix)
}

// ClusterSpec builds the provisioning request from the cluster section.
func (c *Config) ClusterSpec() cluster.Spec {
	cl := c.Cluster
	tags := make(map[string]string, len(cl.Tags))
	for k, v := range cl.Tags {
		tags[k] = v
	}
	return cluster.Spec{
		Name:                 cl.Name,
		LogURI:               c.LogURI(),
		ReleaseLabel:         cl.ReleaseLabel,
		MasterInstanceType:   cl.MasterInstanceType,
		CoreInstanceType:     cl.CoreInstanceType,
		InstanceCount:        cl.InstanceCount,
		KeepAlive:            cl.KeepAlive == nil || *cl.KeepAlive,
		TerminationProtected: cl.TerminationProtected,
		KeyName:              cl.KeyName,
		Applications:         append([]string(nil), cl.Applications...),
		VisibleToAllUsers:    cl.VisibleToAllUsers == nil || *cl.VisibleToAllUsers,
		InstanceRole:         cl.InstanceRole,
		ServiceRole:          cl.ServiceRole,
		Tags:                 tags,
	}
}

// StepBuilder builds steps according to the scripts section.
func (c *Config) StepBuilder() cluster.StepBuilder {
	return cluster.StepBuilder{
		RunnerJar:  c.Scripts.RunnerJar,
		StagingDir: c.Scripts.StagingDir,
		SubmitArgs: append([]string(nil), c.Scripts.SubmitArgs...),
		OnFailure:  cluster.ActionOnFailure(c.Scripts.OnFailure),
	}
}

// ScriptPath resolves name against the local scripts directory unless it
// already names an existing file.
func (c *Config) ScriptPath(name string) string {
	if _, err := os.Stat(name); err == nil || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(ExpandHome(c.Scripts.LocalDir), name)
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets(ctx context.Context) error {
	fields := []struct {
		name string
		val  *string
	}{
		{"aws access key", &c.AWS.AccessKeyID},
		{"aws secret key", &c.AWS.SecretAccessKey},
		{"aws session token", &c.AWS.SessionToken},
		{"amqp url", &c.Events.AMQPURL},
		{"journal dsn", &c.Events.JournalDSN},
	}
	for _, f := range fields {
		v, err := ResolveValue(ctx, *f.val)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = v
	}
	return nil
}

// ResolveValue resolves secret references in a string value.
func ResolveValue(ctx context.Context, val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ctx, ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ctx, ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}

func boolPtr(b bool) *bool { return &b }
