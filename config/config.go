// Package config loads process-wide state, set once at init: callsign,
// fragment size, RS parameters, retry counts, route lifetimes, and
// timeouts. SNR thresholds are not configurable here; they are fixed
// in package modem. Loading follows appserver.go's idiom —
// pflag for CLI flags — layered over an optional YAML file so a node
// can be configured either way.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the full set of process-wide tunables.
type Config struct {
	Callsign string `yaml:"callsign"`

	MaxFragmentSize int     `yaml:"max_fragment_size"`
	RSDataShards    int     `yaml:"rs_data_shards"`
	RSParityShards  int     `yaml:"rs_parity_shards"`
	RetryCount      int     `yaml:"retry_count"`
	RouteLifetime   time.Duration `yaml:"route_lifetime"`

	AckTimeout        time.Duration `yaml:"ack_timeout"`
	ReassemblyTimeout time.Duration `yaml:"reassembly_timeout"`
	SeenWindow        int           `yaml:"seen_window"`

	RadioAddr  string `yaml:"radio_addr"`
	ListenAddr string `yaml:"listen_addr"`
	KeyDir     string `yaml:"key_dir"`
	PageDir    string `yaml:"page_dir"`
	StatusAddr string `yaml:"status_addr"`
}

// Default returns the baseline configuration, matching the defaults
// scattered through the packet/modem/reliability/mesh packages.
func Default() Config {
	return Config{
		MaxFragmentSize:   256,
		RSDataShards:      10,
		RSParityShards:    4,
		RetryCount:        3,
		RouteLifetime:     5 * time.Minute,
		AckTimeout:        2 * time.Second,
		ReassemblyTimeout: 30 * time.Second,
		SeenWindow:        4096,
		RadioAddr:         "localhost:8001",
		ListenAddr:        ":8080",
		KeyDir:            "./keys",
		PageDir:           "./pages",
		StatusAddr:        ":9090",
	}
}

// LoadFile reads a YAML config file over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// ParseFlags layers command-line flags over cfg, following the
// teacher's pflag.StringP/Bool/Usage pattern. args should be
// os.Args[1:]; the program name appears in generated usage text.
func ParseFlags(cfg Config, progName string, args []string) (Config, error) {
	fs := pflag.NewFlagSet(progName, pflag.ContinueOnError)

	callsign := fs.StringP("callsign", "c", cfg.Callsign, "This node's callsign.")
	configPath := fs.StringP("config", "f", "", "Path to a YAML config file.")
	radioAddr := fs.String("radio", cfg.RadioAddr, "Radio bridge TCP address.")
	listenAddr := fs.StringP("listen", "l", cfg.ListenAddr, "Local HTTP attach address.")
	statusAddr := fs.String("status", cfg.StatusAddr, "Status/metrics listen address.")
	retries := fs.Int("retries", cfg.RetryCount, "Reliability retry count.")
	help := fs.BoolP("help", "h", false, "Display help text.")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - HTTP-over-radio-mesh node\n\n", progName)
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", progName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if *help {
		fs.Usage()
		os.Exit(0)
	}

	if *configPath != "" {
		fileCfg, err := LoadFile(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = fileCfg
	}

	if fs.Changed("callsign") {
		cfg.Callsign = *callsign
	}
	if fs.Changed("radio") {
		cfg.RadioAddr = *radioAddr
	}
	if fs.Changed("listen") {
		cfg.ListenAddr = *listenAddr
	}
	if fs.Changed("status") {
		cfg.StatusAddr = *statusAddr
	}
	if fs.Changed("retries") {
		cfg.RetryCount = *retries
	}

	if cfg.Callsign == "" {
		return cfg, fmt.Errorf("config: callsign is required")
	}
	return cfg, nil
}
