package mount

import "testing"

func TestQueryCache_KeyIsDeterministicAndQuerySensitive(t *testing.T) {
	c := NewQueryCache(nil, 0)
	s := &Session{MerkleRoot: "deadbeef"}

	k1 := c.key(s, "SELECT * FROM claims_abc")
	k2 := c.key(s, "SELECT * FROM claims_abc")
	if k1 != k2 {
		t.Fatal("expected identical (merkle root, statement) pairs to hash identically")
	}

	k3 := c.key(s, "SELECT * FROM entities_abc")
	if k1 == k3 {
		t.Fatal("expected different statements to hash differently")
	}

	other := &Session{MerkleRoot: "cafebabe"}
	k4 := c.key(other, "SELECT * FROM claims_abc")
	if k1 == k4 {
		t.Fatal("expected different merkle roots to hash differently")
	}
}
