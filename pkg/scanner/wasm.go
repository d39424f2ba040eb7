package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// WASMScanner runs a scanner compiled to WASI inside wazero, a pure-Go
// WebAssembly runtime. Deny-by-default: no filesystem, no network, no
// environment. The module reads the message text on stdin and writes a
// JSON Result to stdout.
type WASMScanner struct {
	name     string
	runtime  wazero.Runtime
	modCfg   wazero.ModuleConfig
	compiled wazero.CompiledModule
}

// NewWASMScanner compiles wasmBytes once; instantiation happens per
// Scan so state never leaks between messages. memoryLimitBytes of zero
// means 16 MiB.
func NewWASMScanner(ctx context.Context, name string, wasmBytes []byte, memoryLimitBytes int64) (*WASMScanner, error) {
	if memoryLimitBytes <= 0 {
		memoryLimitBytes = 16 << 20
	}
	// wazero measures memory in 64 KiB pages.
	pages := uint32(memoryLimitBytes / (64 * 1024))
	if pages == 0 {
		pages = 1
	}

	// CloseOnContextDone makes the deadline enforceable: without it a
	// looping module runs to completion no matter what the context says.
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("scanner: compile wasm module %s: %w", name, err)
	}

	return &WASMScanner{
		name:    name,
		runtime: r,
		// Anonymous instances: concurrent Scans each get their own
		// module and never collide on a registered name.
		modCfg: wazero.NewModuleConfig().
			WithName("").
			WithStartFunctions("_start"),
		compiled: compiled,
	}, nil
}

func (s *WASMScanner) Name() string { return s.name }

func (s *WASMScanner) Scan(ctx context.Context, text string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cfg := s.modCfg.
		WithStdin(bytes.NewReader([]byte(text))).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := s.runtime.InstantiateModule(ctx, s.compiled, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("%w: %s timed out", ErrScannerUnavailable, s.name)
		}
		return Result{}, fmt.Errorf("%w: %s: %v", ErrScannerUnavailable, s.name, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return Result{}, fmt.Errorf("scanner: %s wrote to stderr: %s", s.name, stderr.String())
	}

	var out struct {
		Traits       []string          `json:"traits"`
		MaskedValues map[string]string `json:"maskedValues"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, fmt.Errorf("scanner: decode %s output: %w", s.name, err)
	}
	return Result{Traits: out.Traits, MaskedValues: out.MaskedValues}, nil
}

// Close releases the runtime.
func (s *WASMScanner) Close(ctx context.Context) error {
	return s.runtime.Close(ctx)
}
