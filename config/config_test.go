package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.json")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadJSONFromPathValidConfig(t *testing.T) {
	selfId := hex.EncodeToString([]byte("node-a"))
	otherId := hex.EncodeToString([]byte("node-b"))
	path := writeTempConfig(t, `{
		"clusterId": "test-cluster",
		"self": "`+selfId+`",
		"members": [
			{"nodeId": "`+selfId+`", "address": "127.0.0.1:9001"},
			{"nodeId": "`+otherId+`", "address": "127.0.0.1:9002"}
		],
		"dataDir": "/tmp/data",
		"persistence": true,
		"retention": "1h",
		"retentionInterval": "5m"
	}`)

	c, err := LoadJSONFromPath(path)
	if err != nil {
		t.Fatalf("LoadJSONFromPath: %v", err)
	}
	if c.ClusterId != "test-cluster" {
		t.Fatalf("unexpected clusterId: %q", c.ClusterId)
	}
	if c.ExecutorCount != 1 {
		t.Fatalf("expected default ExecutorCount 1, got %d", c.ExecutorCount)
	}
	if c.Retention.Duration().String() != "1h0m0s" {
		t.Fatalf("unexpected retention: %v", c.Retention.Duration())
	}

	self, err := c.SelfNodeId()
	if err != nil {
		t.Fatalf("SelfNodeId: %v", err)
	}
	members, err := c.MemberNodeIds()
	if err != nil {
		t.Fatalf("MemberNodeIds: %v", err)
	}
	if len(members) != 2 || members[0] != self {
		t.Fatalf("expected self to be the first member, got %v (self=%v)", members, self)
	}
}

func TestLoadJSONFromPathRejectsSelfNotInMembers(t *testing.T) {
	selfId := hex.EncodeToString([]byte("node-a"))
	otherId := hex.EncodeToString([]byte("node-b"))
	path := writeTempConfig(t, `{
		"self": "`+selfId+`",
		"members": [{"nodeId": "`+otherId+`", "address": "127.0.0.1:9002"}]
	}`)

	if _, err := LoadJSONFromPath(path); err == nil {
		t.Fatal("expected an error when self is not among members")
	}
}

func TestLoadJSONFromPathRejectsPersistenceWithoutDataDir(t *testing.T) {
	selfId := hex.EncodeToString([]byte("node-a"))
	path := writeTempConfig(t, `{
		"self": "`+selfId+`",
		"members": [{"nodeId": "`+selfId+`", "address": "127.0.0.1:9001"}],
		"persistence": true
	}`)

	if _, err := LoadJSONFromPath(path); err == nil {
		t.Fatal("expected an error when persistence is set without a dataDir")
	}
}
