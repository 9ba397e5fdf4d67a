package corenet

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"

	"github.com/corechain/corenet/common"
)

// tomlSettings keeps TOML keys matching the explicit `toml:"..."` tags
// instead of naoina/toml's default case-folding, the same override the
// teacher applies in cmd/gprobe/config.go.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("corenet: field %q is not defined in %s", field, rt.String())
	},
}

// Config holds every tunable named in spec.md §6 ("Configuration").
type Config struct {
	ListenAddress string   `toml:"listen_address"`
	SeedPeers     []string `toml:"seed_peers"`
	MaxPeers      int      `toml:"max_peers"`

	ChainID common.Hash `toml:"chain_id"`

	// NodeIDSeed deterministically derives this node's id via NodeID.
	// SigningKeyRef names where a real deployment's key vault holds the
	// signing key corenet's Signer collaborator wraps; corenet never
	// manages key material itself (spec.md §1), so this is read by the
	// host application, not turned into a key by corenet.
	NodeIDSeed    string `toml:"node_id_seed"`
	SigningKeyRef string `toml:"signing_key_ref"`

	SyncChunkSize      uint32        `toml:"sync_chunk_size"`
	KeepaliveInterval  time.Duration `toml:"keepalive_interval"`
	InactivityTimeout  time.Duration `toml:"inactivity_timeout"`
	OutboundHighWater  int           `toml:"outbound_high_watermark"`
	OutboundHardCap    int           `toml:"outbound_hard_cap"`

	KnowledgeSetSize   int `toml:"knowledge_set_size"`
	DispatcherCacheMB  int `toml:"dispatcher_cache_mb"`
	WorkerPoolSize     int `toml:"worker_pool_size"`

	FrameCap uint32 `toml:"frame_cap_bytes"`
}

// Defaults mirrors every constant named across corenet's components,
// collected into one Config the way the teacher's probeconfig.Defaults
// centralizes per-protocol defaults.
var Defaults = Config{
	ListenAddress:     "0.0.0.0:9876",
	MaxPeers:          32,
	SyncChunkSize:     DefaultChunkSize,
	KeepaliveInterval: DefaultKeepaliveInterval,
	InactivityTimeout: DefaultInactivityTimeout,
	OutboundHighWater: DefaultHighWatermark,
	OutboundHardCap:   DefaultHardCap,
	KnowledgeSetSize:  DefaultKnowledgeSetSize,
	DispatcherCacheMB: DefaultDispatcherCacheBytes / (1024 * 1024),
	WorkerPoolSize:    DefaultWorkerPoolSize,
	FrameCap:          DefaultFrameCap,
}

// NodeID derives this node's id from NodeIDSeed. Note this is a
// deterministic fold, not a cryptographic hash — corenet has no Hasher
// collaborator of its own (spec.md §1); a production deployment seeding
// NodeIDSeed from anything security-sensitive should derive the id itself
// and set it via Manager.Bind instead of relying on this helper.
func (c *Config) NodeID() common.Hash { return common.BytesToHash([]byte(c.NodeIDSeed)) }

// LoadTOML reads a Config from path, starting from Defaults for any field
// the file omits.
func LoadTOML(path string) (*Config, error) {
	cfg := Defaults
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: ErrIo, Err: err}
	}
	defer f.Close()
	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		return nil, &Error{Kind: ErrIo, Err: err}
	}
	return &cfg, nil
}
