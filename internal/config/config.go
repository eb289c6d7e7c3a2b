package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/ryandielhenn/ringd/pkg/gossip"
	"github.com/ryandielhenn/ringd/pkg/registry"
	"github.com/ryandielhenn/ringd/pkg/ring"
)

const (
	ResolverTemplate = "template"
	ResolverStatic   = "static"
	ResolverEtcd     = "etcd"
)

type ResolverConfig struct {
	Kind       string `yaml:"kind" toml:"kind"`
	HostFormat string `yaml:"host_format" toml:"host_format"`
	// Peers is the static table, "1=host[:port],2=host".
	Peers string `yaml:"peers" toml:"peers"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints" toml:"endpoints"`
	Prefix    string   `yaml:"prefix" toml:"prefix"`
	LeaseTTL  int64    `yaml:"lease_ttl" toml:"lease_ttl"`
	// Advertise is the heartbeat address published for this node. Defaults to
	// the host name and heartbeat port.
	Advertise string `yaml:"advertise" toml:"advertise"`
}

type AdminConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr enables the Inspector service when set.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
}

// Config holds the node configuration. SelfID 0 means "derive it from the
// host name".
type Config struct {
	SelfID            ring.NodeID   `yaml:"self_id" toml:"self_id"`
	RecruiterID       ring.NodeID   `yaml:"recruiter_id" toml:"recruiter_id"`
	ListenHost        string        `yaml:"listen_host" toml:"listen_host"`
	HeartbeatPort     int           `yaml:"heartbeat_port" toml:"heartbeat_port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	ReceiveTimeout    time.Duration `yaml:"receive_timeout" toml:"receive_timeout"`
	JoinRetry         time.Duration `yaml:"join_retry" toml:"join_retry"`

	Resolver ResolverConfig `yaml:"resolver" toml:"resolver"`
	Etcd     EtcdConfig     `yaml:"etcd" toml:"etcd"`
	Admin    AdminConfig    `yaml:"admin" toml:"admin"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

func Default() Config {
	return Config{
		RecruiterID:       gossip.DefaultRecruiterID,
		HeartbeatPort:     gossip.DefaultHeartbeatPort,
		HeartbeatInterval: gossip.DefaultHeartbeatInterval,
		ReceiveTimeout:    gossip.DefaultReceiveTimeout,
		JoinRetry:         gossip.DefaultJoinRetry,
		Resolver: ResolverConfig{
			Kind:       ResolverTemplate,
			HostFormat: registry.DefaultHostFormat,
		},
		Etcd: EtcdConfig{
			Prefix:   registry.DefaultPrefix,
			LeaseTTL: 10,
		},
		Admin: AdminConfig{HTTPAddr: ":8080"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load starts from the defaults, overlays the file at path (YAML or TOML by
// extension, skipped when path is empty) and then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.DecodeFile(path, c); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("RINGD_SELF_ID"); v != "" {
		id, err := parseID(v)
		if err != nil {
			return fmt.Errorf("RINGD_SELF_ID: %w", err)
		}
		c.SelfID = id
	}
	if v := getenv("RINGD_RECRUITER_ID"); v != "" {
		id, err := parseID(v)
		if err != nil {
			return fmt.Errorf("RINGD_RECRUITER_ID: %w", err)
		}
		c.RecruiterID = id
	}
	if v := getenv("RINGD_RESOLVER"); v != "" {
		c.Resolver.Kind = v
	}
	if v := getenv("RINGD_PEERS"); v != "" {
		c.Resolver.Peers = v
	}
	if v := getenv("RINGD_ETCD_ENDPOINTS"); v != "" {
		c.Etcd.Endpoints = strings.Split(v, ",")
	}
	if v := getenv("RINGD_HTTP_ADDR"); v != "" {
		c.Admin.HTTPAddr = v
	}
	if v := getenv("RINGD_GRPC_ADDR"); v != "" {
		c.Admin.GRPCAddr = v
	}
	if v := getenv("RINGD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// ApplyArgs takes the persistent id from the first process argument when it
// is a non-negative integer. Anything else is ignored and reported as false.
func (c *Config) ApplyArgs(args []string) bool {
	if len(args) == 0 {
		return false
	}
	id, err := parseID(args[0])
	if err != nil {
		return false
	}
	c.SelfID = id
	return true
}

func (c Config) Validate() error {
	var errs []error
	if c.SelfID > gossip.MaxWireID {
		errs = append(errs, fmt.Errorf("self_id %d: above %d", c.SelfID, gossip.MaxWireID))
	}
	if c.RecruiterID > gossip.MaxWireID {
		errs = append(errs, fmt.Errorf("recruiter_id %d: above %d", c.RecruiterID, gossip.MaxWireID))
	}
	if c.HeartbeatPort <= 0 || c.HeartbeatPort >= 65535 {
		errs = append(errs, fmt.Errorf("heartbeat_port %d: out of range", c.HeartbeatPort))
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.ReceiveTimeout {
		errs = append(errs, fmt.Errorf("heartbeat_interval %s: must be positive and below receive_timeout %s",
			c.HeartbeatInterval, c.ReceiveTimeout))
	}
	switch c.Resolver.Kind {
	case ResolverTemplate:
		if !strings.Contains(c.Resolver.HostFormat, "%") {
			errs = append(errs, fmt.Errorf("resolver.host_format %q: needs an id verb", c.Resolver.HostFormat))
		}
	case ResolverStatic:
		if _, err := ParsePeers(c.Resolver.Peers); err != nil {
			errs = append(errs, fmt.Errorf("resolver.peers: %w", err))
		} else if c.Resolver.Peers == "" {
			errs = append(errs, errors.New("resolver.peers: required for the static resolver"))
		}
	case ResolverEtcd:
		if len(c.Etcd.Endpoints) == 0 {
			errs = append(errs, errors.New("etcd.endpoints: required for the etcd resolver"))
		}
		if c.Etcd.LeaseTTL <= 0 {
			errs = append(errs, fmt.Errorf("etcd.lease_ttl %d: must be positive", c.Etcd.LeaseTTL))
		}
	default:
		errs = append(errs, fmt.Errorf("resolver.kind %q: unknown", c.Resolver.Kind))
	}
	return errors.Join(errs...)
}

// Gossip returns the engine settings.
func (c Config) Gossip() gossip.Config {
	return gossip.Config{
		RecruiterID:       c.RecruiterID,
		HeartbeatInterval: c.HeartbeatInterval,
		ReceiveTimeout:    c.ReceiveTimeout,
		JoinRetry:         c.JoinRetry,
	}
}

// ParsePeers parses a comma-separated list of peers in the format:
// "1=addr1,2=addr2:port"
func ParsePeers(peersStr string) (map[ring.NodeID]string, error) {
	peers := make(map[ring.NodeID]string)
	if peersStr == "" {
		return peers, nil
	}

	for _, part := range strings.Split(peersStr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idStr, addr, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}
		idStr, addr = strings.TrimSpace(idStr), strings.TrimSpace(addr)
		if idStr == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}
		id, err := parseID(idStr)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", part, err)
		}
		if _, dup := peers[id]; dup {
			return nil, fmt.Errorf("peer %d listed twice", id)
		}
		peers[id] = addr
	}

	return peers, nil
}

func parseID(s string) (ring.NodeID, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("node id %q: not a non-negative integer", s)
	}
	return ring.NodeID(n), nil
}
