package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"container-invoker/pkg/poll"

	"github.com/spf13/viper"
)

// Config holds all the configuration for the application. Keys follow the
// credentials.properties naming, so an existing properties file can be passed
// with --config as is. Every key can also be set through the environment in
// upper case, e.g. AWS_REGION.
type Config struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	DatabaseDSN     string `mapstructure:"database_dsn"` // empty disables the invocation journal
	LogLevel        string `mapstructure:"log_level"`
	DefaultProvider string `mapstructure:"default_provider"`

	WorkDir             string `mapstructure:"work_dir"`
	ArtifactDir         string `mapstructure:"absolute_path_to_jar"` // searched first
	FallbackArtifactDir string `mapstructure:"fallback_artifact_dir"`
	CredentialsFile     string `mapstructure:"credentials_file"`
	LocalUser           string `mapstructure:"local_user"`

	DockerRegistry    string `mapstructure:"docker_registry"`
	DockerUser        string `mapstructure:"docker_user"`
	DockerRepository  string `mapstructure:"docker_repository"`
	DockerAccessToken string `mapstructure:"docker_access_token"`

	AWSAccessKey        string `mapstructure:"aws_access_key"`
	AWSSecretKey        string `mapstructure:"aws_secret_key"`
	AWSSessionToken     string `mapstructure:"aws_session_token"`
	AWSRegion           string `mapstructure:"aws_region"`
	AWSSubnet           string `mapstructure:"aws_subnet"`
	AWSSecurityGroup    string `mapstructure:"aws_vpc_security_group"`
	AWSExecutionRoleARN string `mapstructure:"aws_execution_role_arn"`
	AWSEncryptionKeyARN string `mapstructure:"aws_encryption_key_arn"`
	ECRRepoLink         string `mapstructure:"ecr_repo_link"`
	ECRRepoName         string `mapstructure:"ecr_repo_name"` // created on demand when ecr_repo_link is empty

	LogGroupPrefix   string `mapstructure:"log_group_prefix"`
	LogStreamPrefix  string `mapstructure:"log_stream_prefix"`
	LogRetentionDays int    `mapstructure:"log_retention_days"`
	TerraformVersion string `mapstructure:"terraform_version"`

	SettleDelay     time.Duration `mapstructure:"settle_delay"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollMaxAttempts int           `mapstructure:"poll_max_attempts"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		ListenAddr:          ":8080",
		LogLevel:            "info",
		DefaultProvider:     "local",
		WorkDir:             "./work",
		FallbackArtifactDir: "./jars",
		CredentialsFile:     "credentials.properties",
		DockerRegistry:      "https://index.docker.io/v1/",
		AWSRegion:           "eu-central-1",
		LogGroupPrefix:      "/ecs/terraform_ecs_log",
		LogStreamPrefix:     "ecs",
		LogRetentionDays:    1,
		TerraformVersion:    "1.9.8",
		SettleDelay:         5 * time.Second,
		PollInterval:        5 * time.Second,
		PollMaxAttempts:     60,
		PollTimeout:         5 * time.Minute,
	}
}

// Load reads defaults, then the optional file at path, then the environment.
func Load(path string) (Config, error) {
	reg, err := codecs()
	if err != nil {
		return Config{}, err
	}
	v := viper.NewWithOptions(viper.WithCodecRegistry(reg))

	d := Default()
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("database_dsn", d.DatabaseDSN)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("default_provider", d.DefaultProvider)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("absolute_path_to_jar", d.ArtifactDir)
	v.SetDefault("fallback_artifact_dir", d.FallbackArtifactDir)
	v.SetDefault("credentials_file", d.CredentialsFile)
	v.SetDefault("local_user", d.LocalUser)
	v.SetDefault("docker_registry", d.DockerRegistry)
	v.SetDefault("docker_user", d.DockerUser)
	v.SetDefault("docker_repository", d.DockerRepository)
	v.SetDefault("docker_access_token", d.DockerAccessToken)
	v.SetDefault("aws_access_key", d.AWSAccessKey)
	v.SetDefault("aws_secret_key", d.AWSSecretKey)
	v.SetDefault("aws_session_token", d.AWSSessionToken)
	v.SetDefault("aws_region", d.AWSRegion)
	v.SetDefault("aws_subnet", d.AWSSubnet)
	v.SetDefault("aws_vpc_security_group", d.AWSSecurityGroup)
	v.SetDefault("aws_execution_role_arn", d.AWSExecutionRoleARN)
	v.SetDefault("aws_encryption_key_arn", d.AWSEncryptionKeyARN)
	v.SetDefault("ecr_repo_link", d.ECRRepoLink)
	v.SetDefault("ecr_repo_name", d.ECRRepoName)
	v.SetDefault("log_group_prefix", d.LogGroupPrefix)
	v.SetDefault("log_stream_prefix", d.LogStreamPrefix)
	v.SetDefault("log_retention_days", d.LogRetentionDays)
	v.SetDefault("terraform_version", d.TerraformVersion)
	v.SetDefault("settle_delay", d.SettleDelay)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("poll_max_attempts", d.PollMaxAttempts)
	v.SetDefault("poll_timeout", d.PollTimeout)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	return cfg, nil
}

// RegistryRepo is the repository function images are pushed to for managed runs.
func (c Config) RegistryRepo() string {
	if c.ECRRepoLink != "" {
		return strings.TrimSuffix(c.ECRRepoLink, "/")
	}
	if c.DockerUser == "" || c.DockerRepository == "" {
		return ""
	}
	return c.DockerUser + "/" + c.DockerRepository
}

// PollPolicy bounds every wait on an external condition.
func (c Config) PollPolicy() poll.Policy {
	return poll.Policy{
		Interval:    c.PollInterval,
		MaxAttempts: c.PollMaxAttempts,
		Timeout:     c.PollTimeout,
	}
}

// ValidateECS reports every key the managed container service needs but
// the configuration lacks.
func (c Config) ValidateECS() error {
	required := []struct {
		key, val string
	}{
		{"aws_access_key", c.AWSAccessKey},
		{"aws_secret_key", c.AWSSecretKey},
		{"aws_region", c.AWSRegion},
		{"aws_subnet", c.AWSSubnet},
		{"aws_vpc_security_group", c.AWSSecurityGroup},
		{"aws_execution_role_arn", c.AWSExecutionRoleARN},
		{"aws_encryption_key_arn", c.AWSEncryptionKeyARN},
	}
	var errs []error
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("key %q is not set", r.key))
		}
	}
	if c.RegistryRepo() == "" && c.ECRRepoName == "" {
		errs = append(errs, errors.New("one of ecr_repo_link, ecr_repo_name or docker_user with docker_repository must be set"))
	}
	return errors.Join(errs...)
}
