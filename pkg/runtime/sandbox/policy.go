// Sandbox security policy enforcement for extension emitters:
//   - FS/network allowlist checks (Emit checks its output path after the
//     module has run and before anything is written to the host)
//   - Capability-based filtering restricts what an emitter may request
//   - Every denial is recorded for the audit log
package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Capability names an extension emitter may request. Emitters never get
// an "execute" or "write-anywhere" capability: the sandbox already
// decides what a module may do by construction (no host FS, no network),
// so these only gate the two things Emit itself performs on the
// emitter's behalf.
const (
	CapReadCandidates = "read_candidates"
	CapWriteExtTable  = "write_ext_table"
)

// SandboxPolicy defines the security boundary for one extension emitter
// run.
type SandboxPolicy struct {
	PolicyID         string   `json:"policy_id"`
	FSAllowlist      []string `json:"fs_allowlist"`      // allowed extension-table output paths (prefixes)
	FSDenylist       []string `json:"fs_denylist"`       // denied paths (checked first)
	NetworkAllowlist []string `json:"network_allowlist"` // allowed hosts/CIDRs (empty: none)
	NetworkDenyAll   bool     `json:"network_deny_all"`  // if true, block all network
	MaxMemoryBytes   int64    `json:"max_memory_bytes"`
	MaxCPUSeconds    int64    `json:"max_cpu_seconds"`
	Capabilities     []string `json:"capabilities"` // capabilities granted to the emitter
	MaxOpenFiles     int      `json:"max_open_files"`
	ReadOnly         bool     `json:"read_only"` // extension output directory is read-only
}

// DefaultPolicy returns a restrictive default: no network, a 256MB/30s
// compute budget, and only the two capabilities an extension emitter
// legitimately needs. FSAllowlist is empty — callers mounting a real
// shard should build a policy from PolicyForExtDir instead so the
// allowlist is scoped to that shard's own ext/ directory rather than a
// shared path every emitter would otherwise share.
func DefaultPolicy() *SandboxPolicy {
	return &SandboxPolicy{
		PolicyID:       "default-emitter",
		FSDenylist:     []string{"/etc/passwd", "/etc/shadow", "/root"},
		NetworkDenyAll: true,
		MaxMemoryBytes: 256 * 1024 * 1024, // 256MB
		MaxCPUSeconds:  30,
		Capabilities:   []string{CapReadCandidates, CapWriteExtTable},
		MaxOpenFiles:   64,
		ReadOnly:       false,
	}
}

// PolicyForExtDir returns DefaultPolicy scoped to a single shard's
// extension output directory: the emitter may only write under extDir,
// never elsewhere on the host filesystem.
func PolicyForExtDir(extDir string) *SandboxPolicy {
	p := DefaultPolicy()
	p.PolicyID = "emitter-ext-dir"
	p.FSAllowlist = []string{filepath.Clean(extDir)}
	return p
}

// PolicyViolation records a sandbox boundary crossing attempt.
type PolicyViolation struct {
	ViolationType string    `json:"violation_type"`
	Detail        string    `json:"detail"`
	Timestamp     time.Time `json:"timestamp"`
	Blocked       bool      `json:"blocked"`
}

// PolicyEnforcer checks an emitter's requested operations against a
// SandboxPolicy.
type PolicyEnforcer struct {
	mu         sync.RWMutex
	policy     *SandboxPolicy
	violations []PolicyViolation
	clock      func() time.Time
}

// NewPolicyEnforcer creates a new enforcer with a sandbox policy.
func NewPolicyEnforcer(policy *SandboxPolicy) *PolicyEnforcer {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &PolicyEnforcer{
		policy:     policy,
		violations: make([]PolicyViolation, 0),
		clock:      time.Now,
	}
}

// WithClock overrides clock for testing.
func (e *PolicyEnforcer) WithClock(clock func() time.Time) *PolicyEnforcer {
	e.clock = clock
	return e
}

// CheckResult carries the enforcement decision.
type CheckResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// CheckFS verifies an extension table output path against the policy.
func (e *PolicyEnforcer) CheckFS(path string, write bool) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	cleanPath := filepath.Clean(path)

	// Denylist checked first (fail-closed).
	for _, deny := range e.policy.FSDenylist {
		if strings.HasPrefix(cleanPath, deny) {
			v := PolicyViolation{
				ViolationType: "FS_DENY",
				Detail:        fmt.Sprintf("emitter path %s matches denylist entry %s", cleanPath, deny),
				Timestamp:     e.clock(),
				Blocked:       true,
			}
			e.violations = append(e.violations, v)
			return CheckResult{Allowed: false, Reason: v.Detail}
		}
	}

	if write && e.policy.ReadOnly {
		v := PolicyViolation{
			ViolationType: "FS_READONLY",
			Detail:        fmt.Sprintf("write to %s denied: extension output directory is read-only", cleanPath),
			Timestamp:     e.clock(),
			Blocked:       true,
		}
		e.violations = append(e.violations, v)
		return CheckResult{Allowed: false, Reason: v.Detail}
	}

	allowed := false
	for _, allow := range e.policy.FSAllowlist {
		if strings.HasPrefix(cleanPath, allow) {
			allowed = true
			break
		}
	}

	if !allowed {
		v := PolicyViolation{
			ViolationType: "FS_NOT_ALLOWED",
			Detail:        fmt.Sprintf("path %s is outside this emitter's extension directory", cleanPath),
			Timestamp:     e.clock(),
			Blocked:       true,
		}
		e.violations = append(e.violations, v)
		return CheckResult{Allowed: false, Reason: v.Detail}
	}

	return CheckResult{Allowed: true, Reason: "within extension directory allowlist"}
}

// CheckNetwork verifies a network host against the policy. Extension
// emitters have no legitimate reason to reach the network — a locator
// or reference emitter only transforms the candidates it was given —
// so NetworkDenyAll is expected to stay true outside of tests.
func (e *PolicyEnforcer) CheckNetwork(host string) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.policy.NetworkDenyAll {
		v := PolicyViolation{
			ViolationType: "NETWORK_DENY_ALL",
			Detail:        fmt.Sprintf("all network access denied, emitter attempted: %s", host),
			Timestamp:     e.clock(),
			Blocked:       true,
		}
		e.violations = append(e.violations, v)
		return CheckResult{Allowed: false, Reason: v.Detail}
	}

	allowed := false
	for _, allow := range e.policy.NetworkAllowlist {
		if allow == host || strings.HasSuffix(host, "."+allow) {
			allowed = true
			break
		}
	}

	if !allowed {
		v := PolicyViolation{
			ViolationType: "NETWORK_NOT_ALLOWED",
			Detail:        fmt.Sprintf("host %s not in emitter's network allowlist", host),
			Timestamp:     e.clock(),
			Blocked:       true,
		}
		e.violations = append(e.violations, v)
		return CheckResult{Allowed: false, Reason: v.Detail}
	}

	return CheckResult{Allowed: true, Reason: "within network allowlist"}
}

// CheckCapability verifies the emitter was granted capability (one of
// CapReadCandidates, CapWriteExtTable).
func (e *PolicyEnforcer) CheckCapability(capability string) CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, granted := range e.policy.Capabilities {
		if granted == capability {
			return CheckResult{Allowed: true, Reason: "capability granted"}
		}
	}

	v := PolicyViolation{
		ViolationType: "CAPABILITY_DENIED",
		Detail:        fmt.Sprintf("capability %s not granted to this emitter", capability),
		Timestamp:     e.clock(),
		Blocked:       true,
	}
	e.violations = append(e.violations, v)
	return CheckResult{Allowed: false, Reason: v.Detail}
}

// CheckMemory verifies a reported memory usage against the policy's
// compute budget.
func (e *PolicyEnforcer) CheckMemory(bytes int64) CheckResult {
	if bytes > e.policy.MaxMemoryBytes {
		return CheckResult{
			Allowed: false,
			Reason:  fmt.Sprintf("emitter memory %d exceeds limit %d", bytes, e.policy.MaxMemoryBytes),
		}
	}
	return CheckResult{Allowed: true, Reason: "within memory limit"}
}

// GetViolations returns all recorded policy violations for this
// enforcer, for inclusion in the audit log.
func (e *PolicyEnforcer) GetViolations() []PolicyViolation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	result := make([]PolicyViolation, len(e.violations))
	copy(result, e.violations)
	return result
}
