package sandbox

import (
	"testing"
)

func TestFSAllowedWithinExtDir(t *testing.T) {
	e := NewPolicyEnforcer(PolicyForExtDir("/work/shard-1/ext"))
	r := e.CheckFS("/work/shard-1/ext/locators.json", false)
	if !r.Allowed {
		t.Fatalf("expected allowed, got: %s", r.Reason)
	}
}

func TestFSDenylistBlocks(t *testing.T) {
	e := NewPolicyEnforcer(DefaultPolicy())
	r := e.CheckFS("/etc/passwd", false)
	if r.Allowed {
		t.Fatal("expected denial for /etc/passwd")
	}
}

func TestFSNotInAllowlist(t *testing.T) {
	e := NewPolicyEnforcer(PolicyForExtDir("/work/shard-1/ext"))
	r := e.CheckFS("/home/user/secrets", false)
	if r.Allowed {
		t.Fatal("expected denial for path outside the emitter's extension directory")
	}
}

func TestFSReadOnlyBlocksWrite(t *testing.T) {
	p := PolicyForExtDir("/work/shard-1/ext")
	p.ReadOnly = true
	e := NewPolicyEnforcer(p)
	r := e.CheckFS("/work/shard-1/ext/output.json", true)
	if r.Allowed {
		t.Fatal("expected write blocked in read-only sandbox")
	}
}

func TestNetworkDenyAll(t *testing.T) {
	e := NewPolicyEnforcer(DefaultPolicy()) // NetworkDenyAll=true
	r := e.CheckNetwork("evil.com")
	if r.Allowed {
		t.Fatal("expected network denied")
	}
}

func TestNetworkAllowlist(t *testing.T) {
	p := DefaultPolicy()
	p.NetworkDenyAll = false
	p.NetworkAllowlist = []string{"api.example.com", "internal.corp"}
	e := NewPolicyEnforcer(p)

	r1 := e.CheckNetwork("api.example.com")
	if !r1.Allowed {
		t.Fatal("expected allowed for allowlisted host")
	}

	r2 := e.CheckNetwork("evil.com")
	if r2.Allowed {
		t.Fatal("expected denial for non-allowlisted host")
	}
}

func TestCapabilityAllowed(t *testing.T) {
	e := NewPolicyEnforcer(DefaultPolicy())
	r := e.CheckCapability(CapReadCandidates)
	if !r.Allowed {
		t.Fatal("expected read_candidates capability allowed")
	}
}

func TestCapabilityDenied(t *testing.T) {
	e := NewPolicyEnforcer(DefaultPolicy())
	r := e.CheckCapability("admin")
	if r.Allowed {
		t.Fatal("expected admin capability denied")
	}
}

func TestMemoryLimit(t *testing.T) {
	e := NewPolicyEnforcer(DefaultPolicy()) // 256MB
	r1 := e.CheckMemory(100 * 1024 * 1024)
	if !r1.Allowed {
		t.Fatal("expected 100MB allowed")
	}

	r2 := e.CheckMemory(500 * 1024 * 1024)
	if r2.Allowed {
		t.Fatal("expected 500MB denied")
	}
}

func TestViolationTracking(t *testing.T) {
	e := NewPolicyEnforcer(DefaultPolicy())
	e.CheckFS("/etc/passwd", false)
	e.CheckNetwork("evil.com")
	violations := e.GetViolations()
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(violations))
	}
}
