package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config lists the tunable parameters for the contact server.
type Config struct {
	HTTPPort     int
	DatabasePath string
	LogLevel     string

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	ScanWarmup   time.Duration
	ScanInterval time.Duration
	ScanWindow   time.Duration

	MDNSEnabled bool
}

const (
	defaultHTTPPort     = 8080
	defaultDatabasePath = "data/contacts.db"
	defaultLogLevel     = "info"
	defaultMQTTBroker   = "tcp://localhost:1883"
	defaultMQTTTopic    = "users/+/locations"
	defaultMQTTClientID = "contact-server"
	defaultScanWarmup   = 10 * time.Second
	defaultScanInterval = time.Hour
	defaultScanWindow   = time.Hour
)

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		HTTPPort:     defaultHTTPPort,
		DatabasePath: defaultDatabasePath,
		LogLevel:     defaultLogLevel,
		MQTTBroker:   defaultMQTTBroker,
		MQTTTopic:    defaultMQTTTopic,
		MQTTClientID: defaultMQTTClientID,
		ScanWarmup:   defaultScanWarmup,
		ScanInterval: defaultScanInterval,
		ScanWindow:   defaultScanWindow,
	}
}

// Load reads optional dotenv files (".env" when none are named) and derives configuration
// values from environment variables, falling back to defaults. Variables already present in
// the environment win over file entries.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return Config{}, fmt.Errorf("load env files: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from the supplied lookup function.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if v, ok := lookup("CONTACTS_HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CONTACTS_HTTP_PORT: %w", err)
		}
		if port < 1 || port > 65535 {
			return Config{}, fmt.Errorf("invalid CONTACTS_HTTP_PORT: %d out of range", port)
		}
		cfg.HTTPPort = port
	}

	if v, ok := lookup("CONTACTS_DATABASE_PATH"); ok && v != "" {
		cfg.DatabasePath = v
	}

	if v, ok := lookup("CONTACTS_LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}

	// an explicitly empty broker disables MQTT ingest
	if v, ok := lookup("CONTACTS_MQTT_BROKER"); ok {
		cfg.MQTTBroker = v
	}

	if v, ok := lookup("CONTACTS_MQTT_TOPIC"); ok && v != "" {
		cfg.MQTTTopic = v
	}

	if v, ok := lookup("CONTACTS_MQTT_CLIENT_ID"); ok && v != "" {
		cfg.MQTTClientID = v
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"CONTACTS_SCAN_WARMUP", &cfg.ScanWarmup},
		{"CONTACTS_SCAN_INTERVAL", &cfg.ScanInterval},
		{"CONTACTS_SCAN_WINDOW", &cfg.ScanWindow},
	}
	for _, d := range durations {
		v, ok := lookup(d.key)
		if !ok || v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = parsed
	}

	if v, ok := lookup("CONTACTS_MDNS"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CONTACTS_MDNS: %w", err)
		}
		cfg.MDNSEnabled = enabled
	}

	return cfg, nil
}
