package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const Name = "stegodon"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// AppConfig mirrors the on-disk / env-overridable configuration. The Conf.Fed*
// fields correspond to the federation core's configuration keys; every one
// has the default spec.md section 6 specifies, applied in ReadConf below.
type AppConfig struct {
	Conf struct {
		Host            string
		SshPort         int    `yaml:"sshPort"`
		HttpPort        int    `yaml:"httpPort"`
		SslDomain       string `yaml:"sslDomain"`
		WithAp          bool   `yaml:"withAp"`
		Single          bool   `yaml:"single"`
		Closed          bool   `yaml:"closed"`
		NodeDescription string `yaml:"nodeDescription"`
		WithJournald    bool   `yaml:"withJournald"`
		WithPprof       bool   `yaml:"withPprof"`
		MaxChars        int    `yaml:"maxChars"`
		ShowGlobal      bool   `yaml:"showGlobal"`
		SshOnly         bool   `yaml:"sshOnly"`
		ShowTos         bool   `yaml:"showTos"`

		// Federation core configuration (spec.md section 6).
		FedActorCacheTtlSeconds       int    `yaml:"fedActorCacheTtlSeconds"`
		FedHttpConnectTimeoutMs       int    `yaml:"fedHttpConnectTimeoutMs"`
		FedHttpReceiveTimeoutMs       int    `yaml:"fedHttpReceiveTimeoutMs"`
		FedMaxPayloadSize             int    `yaml:"fedMaxPayloadSize"`
		FedMaxContentSize             int    `yaml:"fedMaxContentSize"`
		FedSignatureMaxAgeSeconds     int    `yaml:"fedSignatureMaxAgeSeconds"`
		FedDeliveryPollIntervalMs     int    `yaml:"fedDeliveryPollIntervalMs"`
		FedDeliveryBatchSize          int    `yaml:"fedDeliveryBatchSize"`
		FedDeliveryMaxConcurrency     int    `yaml:"fedDeliveryMaxConcurrency"`
		FedDeliveryMaxAttempts        int    `yaml:"fedDeliveryMaxAttempts"`
		FedStaleActorMaxAgeSeconds    int    `yaml:"fedStaleActorMaxAgeSeconds"`
		FedStaleCleanupIntervalMs     int    `yaml:"fedStaleCleanupIntervalMs"`
		FedDomainPolicyMode           string `yaml:"fedDomainPolicyMode"`
		FedMasterSecret               string `yaml:"fedMasterSecret"`
	}
}

func defaultFedConfig(c *AppConfig) {
	if c.Conf.FedActorCacheTtlSeconds == 0 {
		c.Conf.FedActorCacheTtlSeconds = 86400
	}
	if c.Conf.FedHttpConnectTimeoutMs == 0 {
		c.Conf.FedHttpConnectTimeoutMs = 10000
	}
	if c.Conf.FedHttpReceiveTimeoutMs == 0 {
		c.Conf.FedHttpReceiveTimeoutMs = 30000
	}
	if c.Conf.FedMaxPayloadSize == 0 {
		c.Conf.FedMaxPayloadSize = 262144
	}
	if c.Conf.FedMaxContentSize == 0 {
		c.Conf.FedMaxContentSize = 65536
	}
	if c.Conf.FedSignatureMaxAgeSeconds == 0 {
		c.Conf.FedSignatureMaxAgeSeconds = 30
	}
	if c.Conf.FedDeliveryPollIntervalMs == 0 {
		c.Conf.FedDeliveryPollIntervalMs = 60000
	}
	if c.Conf.FedDeliveryBatchSize == 0 {
		c.Conf.FedDeliveryBatchSize = 50
	}
	if c.Conf.FedDeliveryMaxConcurrency == 0 {
		c.Conf.FedDeliveryMaxConcurrency = 10
	}
	if c.Conf.FedDeliveryMaxAttempts == 0 {
		c.Conf.FedDeliveryMaxAttempts = 6
	}
	if c.Conf.FedStaleActorMaxAgeSeconds == 0 {
		c.Conf.FedStaleActorMaxAgeSeconds = 2592000
	}
	if c.Conf.FedStaleCleanupIntervalMs == 0 {
		c.Conf.FedStaleCleanupIntervalMs = 86400000
	}
	if c.Conf.FedDomainPolicyMode == "" {
		c.Conf.FedDomainPolicyMode = "blocklist"
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	buf, err = os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("STEGODON_HOST")
	envSshPort := os.Getenv("STEGODON_SSHPORT")
	envHttpPort := os.Getenv("STEGODON_HTTPPORT")
	envSslDomain := os.Getenv("STEGODON_SSLDOMAIN")
	envWithAp := os.Getenv("STEGODON_WITH_AP")
	envSingle := os.Getenv("STEGODON_SINGLE")
	envClosed := os.Getenv("STEGODON_CLOSED")
	envNodeDescription := os.Getenv("STEGODON_NODE_DESCRIPTION")
	envWithJournald := os.Getenv("STEGODON_WITH_JOURNALD")
	envWithPprof := os.Getenv("STEGODON_WITH_PPROF")
	envMaxChars := os.Getenv("STEGODON_MAX_CHARS")
	envShowGlobal := os.Getenv("STEGODON_SHOW_GLOBAL")
	envSshOnly := os.Getenv("STEGODON_SSH_ONLY")
	envShowTos := os.Getenv("STEGODON_SHOW_TOS")
	envFedMasterSecret := os.Getenv("STEGODON_FED_MASTER_SECRET")
	envFedDomainPolicyMode := os.Getenv("STEGODON_FED_DOMAIN_POLICY_MODE")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envSshPort != "" {
		v, err := strconv.Atoi(envSshPort)
		if err != nil {
			log.Printf("Error parsing STEGODON_SSHPORT: %v", err)
		}
		c.Conf.SshPort = v
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			log.Printf("Error parsing STEGODON_HTTPPORT: %v", err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	if envSingle == "true" {
		c.Conf.Single = true
	}

	if envClosed == "true" {
		c.Conf.Closed = true
	}

	if envNodeDescription != "" {
		c.Conf.NodeDescription = envNodeDescription
	}

	if envWithJournald == "true" {
		c.Conf.WithJournald = true
	}

	if envWithPprof == "true" {
		c.Conf.WithPprof = true
	}

	if envShowGlobal == "true" {
		c.Conf.ShowGlobal = true
	}

	if envSshOnly == "true" {
		c.Conf.SshOnly = true
	}

	if envShowTos == "true" {
		c.Conf.ShowTos = true
	}

	if envFedMasterSecret != "" {
		c.Conf.FedMasterSecret = envFedMasterSecret
	}

	if envFedDomainPolicyMode != "" {
		c.Conf.FedDomainPolicyMode = envFedDomainPolicyMode
	}

	if envMaxChars != "" {
		v, err := strconv.Atoi(envMaxChars)
		if err != nil {
			log.Printf("Error parsing STEGODON_MAX_CHARS: %v", err)
		} else {
			if v > 300 {
				log.Printf("STEGODON_MAX_CHARS value %d exceeds maximum of 300, capping at 300", v)
				c.Conf.MaxChars = 300
			} else if v < 1 {
				log.Printf("STEGODON_MAX_CHARS value %d is less than minimum of 1, setting to default 150", v)
				c.Conf.MaxChars = 150
			} else {
				c.Conf.MaxChars = v
			}
		}
	}

	if c.Conf.MaxChars == 0 {
		c.Conf.MaxChars = 150
	} else if c.Conf.MaxChars > 300 {
		log.Printf("maxChars value %d in config exceeds maximum of 300, capping at 300", c.Conf.MaxChars)
		c.Conf.MaxChars = 300
	} else if c.Conf.MaxChars < 1 {
		log.Printf("maxChars value %d in config is less than minimum of 1, setting to default 150", c.Conf.MaxChars)
		c.Conf.MaxChars = 150
	}

	defaultFedConfig(c)

	if c.Conf.FedMasterSecret == "" {
		log.Println("Warning: fedMasterSecret is not set; federation key encryption will use an ephemeral secret that does not survive a restart")
	}

	return c, nil
}
