package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/ringd/pkg/ring"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ring.NodeID(1), cfg.RecruiterID)
	assert.Equal(t, 31337, cfg.HeartbeatPort)
	assert.Equal(t, 250*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, time.Second, cfg.ReceiveTimeout)
	assert.Equal(t, ":8080", cfg.Admin.HTTPAddr)
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "ringd.yaml", `
self_id: 4
heartbeat_interval: 100ms
receive_timeout: 2s
resolver:
  kind: static
  peers: "1=10.0.0.1,4=10.0.0.4:4000"
admin:
  grpc_addr: ":9090"
log:
  level: debug
  development: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ring.NodeID(4), cfg.SelfID)
	assert.Equal(t, 100*time.Millisecond, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Second, cfg.ReceiveTimeout)
	assert.Equal(t, ResolverStatic, cfg.Resolver.Kind)
	assert.Equal(t, ":9090", cfg.Admin.GRPCAddr)
	assert.Equal(t, ":8080", cfg.Admin.HTTPAddr, "unset fields keep their defaults")
	assert.True(t, cfg.Log.Development)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "ringd.toml", `
recruiter_id = 2
join_retry = "5s"

[resolver]
kind = "etcd"

[etcd]
endpoints = ["http://etcd:2379"]
lease_ttl = 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ring.NodeID(2), cfg.RecruiterID)
	assert.Equal(t, 5*time.Second, cfg.JoinRetry)
	assert.Equal(t, []string{"http://etcd:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, int64(30), cfg.Etcd.LeaseTTL)
	assert.Equal(t, "/ringd/nodes/", cfg.Etcd.Prefix)
}

func TestLoadRejectsUnknownInput(t *testing.T) {
	_, err := Load(writeFile(t, "ringd.json", `{}`))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "ringd.yaml", "no_such_field: 1\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RINGD_SELF_ID", "7")
	t.Setenv("RINGD_RESOLVER", "etcd")
	t.Setenv("RINGD_ETCD_ENDPOINTS", "http://a:2379,http://b:2379")
	t.Setenv("RINGD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ring.NodeID(7), cfg.SelfID)
	assert.Equal(t, ResolverEtcd, cfg.Resolver.Kind)
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, cfg.Etcd.Endpoints)
	assert.Equal(t, "warn", cfg.Log.Level)

	t.Setenv("RINGD_RECRUITER_ID", "one")
	_, err = Load("")
	assert.Error(t, err)
}

func TestApplyArgs(t *testing.T) {
	cfg := Default()
	assert.False(t, cfg.ApplyArgs(nil))
	assert.False(t, cfg.ApplyArgs([]string{"-3"}))
	assert.False(t, cfg.ApplyArgs([]string{"abc"}))
	assert.True(t, cfg.ApplyArgs([]string{"9"}))
	assert.Equal(t, ring.NodeID(9), cfg.SelfID)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"wide self id":           func(c *Config) { c.SelfID = 11 },
		"wide recruiter id":      func(c *Config) { c.RecruiterID = 12 },
		"interval above timeout": func(c *Config) { c.HeartbeatInterval = 2 * time.Second },
		"interval equals timeout": func(c *Config) {
			c.HeartbeatInterval = c.ReceiveTimeout
		},
		"unknown resolver":       func(c *Config) { c.Resolver.Kind = "dns" },
		"static without peers":   func(c *Config) { c.Resolver.Kind = ResolverStatic },
		"etcd without endpoints": func(c *Config) { c.Resolver.Kind = ResolverEtcd },
		"bad port":               func(c *Config) { c.HeartbeatPort = 70000 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
}

func TestParsePeers(t *testing.T) {
	peers, err := ParsePeers(" 1=host1, 2=host2:4000 ,")
	require.NoError(t, err)
	assert.Equal(t, map[ring.NodeID]string{1: "host1", 2: "host2:4000"}, peers)

	peers, err = ParsePeers("")
	require.NoError(t, err)
	assert.Empty(t, peers)

	for _, bad := range []string{"host1", "=host", "1=", "x=host", "1=a,1=b"} {
		_, err := ParsePeers(bad)
		assert.Error(t, err, bad)
	}
}
