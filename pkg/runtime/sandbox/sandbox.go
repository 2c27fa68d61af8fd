// Package sandbox runs third-party extension emitters (§4.7
// CompilerConfig.extension_emitters) as WebAssembly modules under wazero,
// deny-by-default: no filesystem, no network, no ambient authority. An
// emitter receives the compiled candidates as JSON on stdin and must
// write its extension table rows as JSON on stdout; the compiler never
// executes arbitrary host code to produce an extension table.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/BigBirdReturns/axm-core/pkg/artifacts"
	"github.com/BigBirdReturns/axm-core/pkg/compiler"
)

// Config restricts what a WASI emitter module may consume.
type Config struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// ModuleRef identifies a WASM extension emitter by its content hash in
// the shard distribution store.
type ModuleRef struct {
	Name string
	Hash string
}

// WasiEmitter runs a single WASM module per Emit call. Its Name and Emit
// methods satisfy compiler.ExtensionEmitter directly, so it can be listed
// in compiler.Config.Extensions as is.
type WasiEmitter struct {
	runtime  wazero.Runtime
	store    artifacts.Store
	ref      ModuleRef
	limits   Config
	policy   *PolicyEnforcer
}

// NewWasiEmitter creates a WASI-sandboxed emitter that loads its module
// bytes from store by content hash. Pass a policy built with
// PolicyForExtDir(extDir) so Emit's write lands inside the allowlist; a
// nil policy falls back to DefaultPolicy, whose empty FSAllowlist
// accepts no writes at all and is only suitable for callers that only
// ever invoke Run directly.
func NewWasiEmitter(ctx context.Context, store artifacts.Store, ref ModuleRef, cfg Config, policy *PolicyEnforcer) (*WasiEmitter, error) {
	rConfig := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		pages := uint32(cfg.MemoryLimitBytes / 65536)
		if pages == 0 {
			pages = 1
		}
		rConfig = rConfig.WithMemoryLimitPages(pages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("sandbox: instantiate WASI: %w", err)
	}
	if policy == nil {
		policy = NewPolicyEnforcer(DefaultPolicy())
	}
	return &WasiEmitter{runtime: r, store: store, ref: ref, limits: cfg, policy: policy}, nil
}

// Name identifies the emitter for manifest.extensions bookkeeping.
func (e *WasiEmitter) Name() string { return e.ref.Name }

// Run executes the module with input on stdin and returns its stdout.
// The module never receives filesystem or network access: no
// WithFSConfig, no WithSysNanotime (no host timers), no WithRandSource.
func (e *WasiEmitter) Run(ctx context.Context, input []byte) ([]byte, error) {
	if r := e.policy.CheckCapability(CapReadCandidates); !r.Allowed {
		return nil, fmt.Errorf("sandbox: %s", r.Reason)
	}

	wasmBytes, err := e.store.Get(ctx, e.ref.Hash)
	if err != nil {
		return nil, fmt.Errorf("sandbox: load emitter module %s: %w", e.ref.Name, err)
	}

	execCtx := ctx
	if e.limits.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.limits.CPUTimeLimit)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithName(e.ref.Name).
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start")

	compiled, err := e.runtime.CompileModule(execCtx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile emitter module %s: %w", e.ref.Name, err)
	}
	defer func() { _ = compiled.Close(execCtx) }()

	mod, err := e.runtime.InstantiateModule(execCtx, compiled, modCfg)
	if err != nil {
		if execCtx.Err() != nil {
			return nil, &Error{Code: ErrComputeTimeExhausted, Message: fmt.Sprintf("emitter %s exceeded time limit (%s)", e.ref.Name, e.limits.CPUTimeLimit)}
		}
		if isMemoryError(err) {
			return nil, &Error{Code: ErrComputeMemoryExhausted, Message: fmt.Sprintf("emitter %s exceeded memory limit (%d bytes)", e.ref.Name, e.limits.MemoryLimitBytes)}
		}
		return nil, fmt.Errorf("sandbox: instantiate emitter module %s: %w", e.ref.Name, err)
	}
	defer func() { _ = mod.Close(execCtx) }()

	if stderr.Len() > 0 {
		return stdout.Bytes(), fmt.Errorf("sandbox: emitter %s wrote to stderr: %s", e.ref.Name, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Emit adapts WasiEmitter to compiler.ExtensionEmitter: candidates are
// marshaled as JSON on stdin, and the module's stdout — expected to be a
// JSON array of row objects — is written verbatim as
// ext/<name>.json. Emitters wanting the same schema'd Parquet treatment
// as locators@1 must be built into the compiler directly; sandboxed
// emitters trade that off for isolation. The JSON file is still covered
// by the shard's Merkle root like every other file outside manifest.json
// and sig/.
func (e *WasiEmitter) Emit(extDir string, candidates []compiler.Candidate) (bool, error) {
	input, err := json.Marshal(candidates)
	if err != nil {
		return false, fmt.Errorf("sandbox: marshal candidates for %s: %w", e.ref.Name, err)
	}
	output, err := e.Run(context.Background(), input)
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(output)) == 0 {
		return false, nil
	}
	path := filepath.Join(extDir, e.ref.Name+".json")
	if r := e.policy.CheckCapability(CapWriteExtTable); !r.Allowed {
		return false, fmt.Errorf("sandbox: %s", r.Reason)
	}
	if r := e.policy.CheckFS(path, true); !r.Allowed {
		return false, fmt.Errorf("sandbox: %s", r.Reason)
	}
	if err := os.WriteFile(path, output, 0o644); err != nil {
		return false, fmt.Errorf("sandbox: write %s: %w", path, err)
	}
	return true, nil
}

// Close releases the wazero runtime.
func (e *WasiEmitter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.runtime.Close(ctx)
}

// Deterministic error codes for sandbox limit violations.
const (
	ErrComputeTimeExhausted   = "ERR_COMPUTE_TIME_EXHAUSTED"
	ErrComputeMemoryExhausted = "ERR_COMPUTE_MEMORY_EXHAUSTED"
)

// Error is a typed error for sandbox limit violations.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func isMemoryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "memory") && (contains(msg, "limit") || contains(msg, "grow") || contains(msg, "exceeded"))
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
