// Package config loads the JSON cluster configuration a consensuscore
// process starts from, grounded on cmd/goshawkdb/main.go's
// configuration.LoadJSONFromPath("-config path") idiom: a single JSON
// file naming the cluster membership, this node's identity within it,
// and where its on-disk state lives.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shardkv/consensuscore/common"
)

// Member is one cluster node as named in the config file: its NodeId in
// hex, and the host:port its transport listens on.
type Member struct {
	NodeId  string `json:"nodeId"`
	Address string `json:"address"`
}

// Config is the top-level shape of a cluster configuration file.
type Config struct {
	ClusterId string   `json:"clusterId"`
	Self      string   `json:"self"`
	Members   []Member `json:"members"`

	DataDir       string `json:"dataDir"`
	ExecutorCount uint8  `json:"executorCount"`

	// Persistence, when true, wires store/lmdbstore under DataDir; when
	// false every log is purely in-memory (see §9 O2).
	Persistence bool `json:"persistence"`

	// Retention, when non-zero, wires package retention's Sweeper with
	// this window and a sweep every RetentionInterval (defaulting to
	// Retention/4 when RetentionInterval is zero); see §9 O1.
	Retention         jsonDuration `json:"retention"`
	RetentionInterval jsonDuration `json:"retentionInterval"`
}

// jsonDuration lets a config file spell durations as Go duration
// strings ("30s", "5m") instead of raw nanosecond integers.
type jsonDuration time.Duration

func (d jsonDuration) Duration() time.Duration { return time.Duration(d) }

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = jsonDuration(parsed)
	return nil
}

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// LoadJSONFromPath reads and validates a Config from path.
func LoadJSONFromPath(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c Config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if len(c.Members) == 0 {
		return fmt.Errorf("config: at least one member is required")
	}
	if c.Self == "" {
		return fmt.Errorf("config: self is required")
	}
	foundSelf := false
	for _, m := range c.Members {
		if _, err := hex.DecodeString(m.NodeId); err != nil {
			return fmt.Errorf("config: member %q has a non-hex nodeId: %w", m.NodeId, err)
		}
		if m.NodeId == c.Self {
			foundSelf = true
		}
	}
	if !foundSelf {
		return fmt.Errorf("config: self %q is not among members", c.Self)
	}
	if c.ExecutorCount == 0 {
		c.ExecutorCount = 1
	}
	if c.Persistence && c.DataDir == "" {
		return fmt.Errorf("config: persistence requires dataDir")
	}
	return nil
}

// SelfNodeId decodes Self into a common.NodeId.
func (c *Config) SelfNodeId() (common.NodeId, error) {
	return decodeNodeId(c.Self)
}

// MemberNodeIds decodes every configured member into a common.NodeId,
// in file order.
func (c *Config) MemberNodeIds() ([]common.NodeId, error) {
	out := make([]common.NodeId, len(c.Members))
	for i, m := range c.Members {
		id, err := decodeNodeId(m.NodeId)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func decodeNodeId(s string) (common.NodeId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return common.NodeId{}, fmt.Errorf("config: invalid nodeId %q: %w", s, err)
	}
	return common.MakeNodeId(b), nil
}
