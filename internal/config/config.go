// Package config holds the client's tunable constants.
//
// Mirrors the teacher's root config.go: a struct of defaults that can be
// overridden by an optional on-disk YAML file, falling back silently to the
// defaults when the file does not exist.
package config

import (
	"io/ioutil"
	"os"
	"time"

	yaml "gopkg.in/yaml.v1"
)

// Config holds every tunable named by the specification.
type Config struct {
	ListenPort uint16 `yaml:"listen_port"`

	MaxConnections    int `yaml:"max_connections"`
	MaxFailedAttempts int `yaml:"max_failed_attempts"`

	BlockSize int `yaml:"block_size"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	ChokeInterval             time.Duration `yaml:"choke_interval"`
	OptimisticUnchokeInterval time.Duration `yaml:"optimistic_unchoke_interval"`
	RateWindow                time.Duration `yaml:"rate_window"`
	RegularUnchokeSlots       int           `yaml:"regular_unchoke_slots"`
	OptimisticUnchokeSlots    int           `yaml:"optimistic_unchoke_slots"`

	UDPAnnounceTimeout     time.Duration `yaml:"udp_announce_timeout"`
	UDPAnnounceBackoffBase time.Duration `yaml:"udp_announce_backoff_base"`
	UDPAnnounceRetries     int           `yaml:"udp_announce_retries"`
	UDPConnectionIDTTL     time.Duration `yaml:"udp_connection_id_ttl"`

	CycleInterval time.Duration `yaml:"cycle_interval"`
}

// Default returns the specification's normative defaults.
func Default() Config {
	return Config{
		ListenPort: 6881,

		MaxConnections:    64,
		MaxFailedAttempts: 5,

		BlockSize: 16 * 1024,

		KeepAlive:      120 * time.Second,
		ConnectTimeout: 3 * time.Second,

		ChokeInterval:             10 * time.Second,
		OptimisticUnchokeInterval: 30 * time.Second,
		RateWindow:                30 * time.Second,
		RegularUnchokeSlots:       4,
		OptimisticUnchokeSlots:    1,

		UDPAnnounceTimeout:     5 * time.Second,
		UDPAnnounceBackoffBase: 15 * time.Second,
		UDPAnnounceRetries:     3,
		UDPConnectionIDTTL:     60 * time.Second,

		CycleInterval: 250 * time.Millisecond,
	}
}

// Load reads an optional YAML file at filename, falling back to Default()
// when the file does not exist.
func Load(filename string) (*Config, error) {
	c := Default()
	b, err := ioutil.ReadFile(filename)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
