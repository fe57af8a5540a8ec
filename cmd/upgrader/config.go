package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kubeflow/upgrade-manager/pkg/audit"
	"github.com/kubeflow/upgrade-manager/pkg/cache"
	"github.com/kubeflow/upgrade-manager/pkg/ha"
	"github.com/kubeflow/upgrade-manager/pkg/jobs"
	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

const (
	envPrefix      = "UPGRADER"
	configFileName = "upgrader"

	keyConfig           = "config"
	keyDBType           = "db-type"
	keyDBDSN            = "db-dsn"
	keyDBLogLevel       = "db-log-level"
	keyLogLevel         = "log-level"
	keyOutput           = "output"
	keyAppVersion       = "app-version"
	keyValidationPolicy = "validation-policy"
	keyReindexAllowed   = "reindex-allowed"
	keyLockEnabled      = "lock-enabled"
	keyCacheEnabled     = "cache-enabled"
	keyAuditEnabled     = "audit-enabled"
	keySetupMode        = "setup-mode"
	keyBackupFile       = "backup-file"
	keyPushGateway      = "push-gateway"
	keyReindexNow       = "reindex-now"
	keyListen           = "listen"
	keyUpgradeOnStart   = "upgrade-on-start"
	keyMetricsNamespace = "metrics-namespace"
)

// settings is the resolved configuration of one command invocation.
type settings struct {
	DB      *store.Config
	Upgrade *upgrade.Config
	Lock    *ha.LockConfig
	Jobs    *jobs.JobConfig
	Audit   *audit.Config
	Cache   *cache.CacheConfig

	LogLevel         string
	Output           outputFormat
	SetupMode        bool
	BackupFile       string
	PushGateway      string
	ReindexNow       bool
	Listen           string
	UpgradeOnStart   bool
	MetricsNamespace string
}

// addGlobalFlags registers the flags shared by every command.
func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String(keyConfig, "", "Config file (default: ./upgrader.yaml if present)")
	fs.String(keyDBType, "", "Database type: sqlite, mysql or postgres")
	fs.String(keyDBDSN, "", "Database connection string")
	fs.String(keyDBLogLevel, "", "Database log level: silent, error, warn, info")
	fs.String(keyLogLevel, "info", "Log level: debug, info, warn, error")
	fs.StringP(keyOutput, "o", "table", "Output format: table, json, yaml")
	fs.String(keyAppVersion, "", "Version of the running application")
	fs.String(keyValidationPolicy, "", "What validation warnings do: continue or abort")
	fs.Bool(keyReindexAllowed, true, "Trigger a reindex when upgrade tasks ask for one")
	fs.Bool(keyLockEnabled, true, "Serialize runs with a database lock")
	fs.Bool(keyCacheEnabled, true, "Cache application properties")
	fs.Bool(keyAuditEnabled, true, "Record runs in the run log")
}

// newViper returns a viper instance reading UPGRADER_* variables and the
// config file named by --config, or upgrader.yaml in the working directory.
func newViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString(keyConfig); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// loadSettings starts from the UPGRADE_* package configuration and applies
// whatever the config file, UPGRADER_* variables or flags set explicitly.
func loadSettings(v *viper.Viper) (*settings, error) {
	upCfg, err := upgrade.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	s := &settings{
		DB:      store.ConfigFromEnv(),
		Upgrade: upCfg,
		Lock:    ha.LockConfigFromEnv(),
		Jobs:    jobs.JobConfigFromEnv(),
		Audit:   audit.ConfigFromEnv(),
		Cache:   cache.CacheConfigFromEnv(),

		LogLevel: "info",
		Listen:   ":8080",
	}

	overrideString(v, keyDBType, &s.DB.Type)
	overrideString(v, keyDBDSN, &s.DB.DSN)
	overrideString(v, keyDBLogLevel, &s.DB.LogLevel)
	overrideString(v, keyLogLevel, &s.LogLevel)
	overrideBool(v, keyReindexAllowed, &s.Upgrade.ReindexAllowed)
	overrideBool(v, keyLockEnabled, &s.Lock.Enabled)
	overrideBool(v, keyCacheEnabled, &s.Cache.Enabled)
	overrideBool(v, keyAuditEnabled, &s.Audit.Enabled)
	overrideBool(v, keySetupMode, &s.SetupMode)
	overrideString(v, keyBackupFile, &s.BackupFile)
	overrideString(v, keyPushGateway, &s.PushGateway)
	overrideBool(v, keyReindexNow, &s.ReindexNow)
	overrideString(v, keyListen, &s.Listen)
	overrideBool(v, keyUpgradeOnStart, &s.UpgradeOnStart)
	overrideString(v, keyMetricsNamespace, &s.MetricsNamespace)

	if v.IsSet(keyAppVersion) {
		parsed, err := version.Parse(v.GetString(keyAppVersion))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyAppVersion, err)
		}
		s.Upgrade.ApplicationVersion = parsed
	}
	if v.IsSet(keyValidationPolicy) {
		p, err := upgrade.ParseValidationPolicy(v.GetString(keyValidationPolicy))
		if err != nil {
			return nil, err
		}
		s.Upgrade.ValidationPolicy = p
	}

	s.Output, err = parseOutputFormat(v.GetString(keyOutput))
	if err != nil {
		return nil, err
	}
	return s, nil
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func overrideBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}
