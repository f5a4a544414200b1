// Package sandbox hosts WebAssembly plugins behind the load/init/process
// ABI, one Sandbox per plugin file. Each call runs inside a fresh or
// pooled wasmtime instance with a capability-restricted WASI context,
// epoch-based timeout, and stdout/stderr capture.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"oss.nandlabs.io/golly/pool"

	"github.com/octahive/octabot/internal/enginerr"
	"github.com/octahive/octabot/internal/models"
)

// Config controls the capabilities and limits a Sandbox grants its plugin.
type Config struct {
	// Name is the plugin's registered name; also the WASI preopen and KV
	// namespace.
	Name string
	// DataDir is the parent host directory; its <Name> subdirectory is
	// preopened to the plugin at "/data".
	DataDir string
	// EnvAllowlist is the only env vars the plugin can read via WASI.
	EnvAllowlist map[string]string
	// Timeout bounds a single process() call.
	Timeout time.Duration
	// PoolSize is the number of pre-instantiated module copies kept ready.
	PoolSize int
	// KV backs the plugin's key-value capability.
	KV *KVStore
	// OnOutput, if set, receives the plugin's captured stdout/stderr after
	// every call as a single structured event instead of letting it
	// interleave with the host's own log stream.
	OnOutput func(plugin, stream string, data []byte)
}

// Sandbox loads and runs a single compiled plugin module. It is safe for
// concurrent use: Process checks an instance out of its pool for the
// duration of one call and never shares it across concurrent callers.
type Sandbox struct {
	cfg    Config
	engine *wasmtime.Engine
	module *wasmtime.Module
	pool   pool.Pool[*guestInstance]

	epochStop chan struct{}
	epochWG   sync.WaitGroup

	// initMu guards initConfig, the config passed to the plugin's last Init
	// call. Every instance the pool creates afterward - not just the first -
	// replays init(initConfig) before it is handed out for process().
	initMu     sync.RWMutex
	initConfig json.RawMessage
}

// guestInstance is one pre-instantiated, pre-WASI-configured copy of the
// plugin module, ready to run load/init/process calls.
type guestInstance struct {
	store    *wasmtime.Store
	instance *wasmtime.Instance
	stdout   *captureFile
	stderr   *captureFile
}

// New compiles path once and prepares its instance pool. It does not call
// load or init; callers drive the ABI explicitly via Load/Init.
func New(ctx context.Context, cfg Config, path string) (*Sandbox, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	engineConfig := wasmtime.NewConfig()
	engineConfig.SetEpochInterruption(true)
	engine := wasmtime.NewEngineWithConfig(engineConfig)

	module, err := wasmtime.NewModuleFromFile(engine, path)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile %s: %w", path, err)
	}

	sb := &Sandbox{
		cfg:       cfg,
		engine:    engine,
		module:    module,
		epochStop: make(chan struct{}),
	}

	creator := func() (*guestInstance, error) { return sb.newInstance() }
	destroyer := func(gi *guestInstance) error {
		_ = gi.stdout.Close()
		_ = gi.stderr.Close()
		return nil
	}

	p, err := pool.NewPool[*guestInstance](creator, destroyer, 1, cfg.PoolSize, int(cfg.Timeout.Seconds())+5)
	if err != nil {
		return nil, fmt.Errorf("sandbox: build instance pool: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("sandbox: start instance pool: %w", err)
	}
	sb.pool = p

	sb.epochWG.Add(1)
	go sb.tickEpoch()

	return sb, nil
}

// tickEpoch increments the engine's epoch once per timeout-sized tick,
// which is what makes SetEpochDeadline-bounded calls actually trap instead
// of running forever. One ticker serves every instance the sandbox ever
// creates, since the epoch is engine-global.
func (sb *Sandbox) tickEpoch() {
	defer sb.epochWG.Done()
	interval := sb.cfg.Timeout
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sb.epochStop:
			return
		case <-ticker.C:
			sb.engine.IncrementEpoch()
		}
	}
}

func (sb *Sandbox) newInstance() (*guestInstance, error) {
	stdout, err := newCaptureFile()
	if err != nil {
		return nil, err
	}
	stderr, err := newCaptureFile()
	if err != nil {
		return nil, err
	}

	wasiConfig := wasmtime.NewWasiConfig()
	wasiConfig.SetStdoutFile(stdout.Path())
	wasiConfig.SetStderrFile(stderr.Path())
	// Stdin is left unset: no SetStdinFile/InheritStdin call, so reads
	// against it fail in the guest instead of blocking on the host terminal.

	wasiConfig.SetEnv(envKeys(sb.cfg.EnvAllowlist), envVals(sb.cfg.EnvAllowlist))

	if sb.cfg.DataDir != "" {
		pluginDataDir := filepath.Join(sb.cfg.DataDir, sb.cfg.Name)
		if err := os.MkdirAll(pluginDataDir, 0o755); err != nil {
			return nil, fmt.Errorf("sandbox: create data dir: %w", err)
		}
		if err := wasiConfig.PreopenDir(pluginDataDir, "/data"); err != nil {
			return nil, fmt.Errorf("sandbox: preopen data dir: %w", err)
		}
	}

	store := wasmtime.NewStore(sb.engine)
	store.SetWasi(wasiConfig)
	// The real deadline is set fresh before every call (see invoke); this
	// initial value only covers calls made before the first checkout.
	store.SetEpochDeadline(1)

	linker := wasmtime.NewLinker(sb.engine)
	if err := linker.DefineWasi(); err != nil {
		return nil, fmt.Errorf("sandbox: link wasi: %w", err)
	}

	hs := &hostState{
		pluginName: sb.cfg.Name,
		kv:         sb.cfg.KV,
		httpClient: &http.Client{Timeout: sb.cfg.Timeout},
		start:      time.Now(),
	}
	if err := linkHostModule(linker, hs); err != nil {
		return nil, fmt.Errorf("sandbox: link host module: %w", err)
	}

	instance, err := linker.Instantiate(store, sb.module)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiate: %w", err)
	}

	gi := &guestInstance{store: store, instance: instance, stdout: stdout, stderr: stderr}

	if err := sb.initPooledInstance(gi); err != nil {
		return nil, err
	}

	return gi, nil
}

// initPooledInstance replays the last Init call's config against a freshly
// created instance, so pool growth beyond the initial fill never hands out
// an uninitialized instance for process(). A no-op before the first Init.
func (sb *Sandbox) initPooledInstance(gi *guestInstance) error {
	sb.initMu.RLock()
	cfg := sb.initConfig
	sb.initMu.RUnlock()
	if cfg == nil {
		return nil
	}

	gi.store.SetEpochDeadline(1)
	raw, err := callGuestExport(gi, "init", string(cfg))
	if err != nil {
		return fmt.Errorf("sandbox: init pooled instance: %w", err)
	}
	var gr guestResult
	if err := json.Unmarshal(raw, &gr); err != nil {
		return fmt.Errorf("sandbox: init pooled instance: decode result: %w", err)
	}
	if gr.Err != nil {
		return fmt.Errorf("sandbox: init pooled instance: %s: %s", gr.Err.Variant, gr.Err.Message)
	}
	return nil
}

func envKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func envVals(m map[string]string) []string {
	vals := make([]string, 0, len(m))
	for _, v := range m {
		vals = append(vals, v)
	}
	return vals
}

// Load calls the plugin's load() export and returns its declared metadata.
func (sb *Sandbox) Load(ctx context.Context) (models.PluginMetadata, error) {
	var meta models.PluginMetadata
	err := sb.call(ctx, "load", "", func(raw json.RawMessage) error {
		return json.Unmarshal(raw, &meta)
	})
	return meta, err
}

// Init calls the plugin's init(config) export against one pooled instance
// and records configJSON so every instance the pool creates afterward -
// including lazily, as the pool grows past its initial fill - replays the
// same init call before it is ever checked out for process().
func (sb *Sandbox) Init(ctx context.Context, configJSON json.RawMessage) error {
	sb.initMu.Lock()
	sb.initConfig = configJSON
	sb.initMu.Unlock()
	return sb.call(ctx, "init", string(configJSON), func(json.RawMessage) error { return nil })
}

// Process runs one process(payload) call against a pooled instance and
// returns the plugin's result list.
func (sb *Sandbox) Process(ctx context.Context, envelope models.ProcessEnvelope) ([]models.PluginResult, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, enginerr.PluginFailure(enginerr.VariantParseActionPayload, err)
	}

	var results []models.PluginResult
	err = sb.call(ctx, "process", string(payload), func(raw json.RawMessage) error {
		return json.Unmarshal(raw, &results)
	})
	return results, err
}

// call checks out an instance, invokes the named export with a single
// string argument, decodes the guestResult envelope, and checks the
// instance back in (or discards it if it trapped).
func (sb *Sandbox) call(ctx context.Context, export, arg string, decode func(json.RawMessage) error) error {
	gi, err := sb.pool.Checkout()
	if err != nil {
		return fmt.Errorf("sandbox: checkout instance: %w", err)
	}

	raw, callErr := sb.invoke(ctx, gi, export, arg)
	sb.flushOutput(gi)

	if callErr != nil {
		sb.pool.Delete(gi)
		if ctx.Err() != nil {
			return enginerr.Cancelled()
		}
		if isTrapTimeout(callErr) {
			return enginerr.Timeout(sb.cfg.Timeout.String())
		}
		return enginerr.PluginFailure(enginerr.VariantOther, callErr)
	}
	sb.pool.Checkin(gi)

	var gr guestResult
	if err := json.Unmarshal(raw, &gr); err != nil {
		return enginerr.PluginFailure(enginerr.VariantParseResponse, err)
	}
	if gr.Err != nil {
		return enginerr.PluginFailure(enginerr.PluginFailureVariant(gr.Err.Variant), fmt.Errorf("%s", gr.Err.Message))
	}
	if decode != nil {
		if err := decode(gr.Ok); err != nil {
			return enginerr.PluginFailure(enginerr.VariantParseResponse, err)
		}
	}
	return nil
}

func (sb *Sandbox) invoke(ctx context.Context, gi *guestInstance, export, arg string) (json.RawMessage, error) {
	// Every call gets a fresh deadline one epoch tick ahead of now; the
	// background ticker increments the engine's epoch every cfg.Timeout,
	// so a call still running at the next tick traps with Interrupt.
	gi.store.SetEpochDeadline(1)

	done := make(chan struct{})
	var raw json.RawMessage
	var callErr error

	go func() {
		defer close(done)
		raw, callErr = callGuestExport(gi, export, arg)
	}()

	select {
	case <-done:
		return raw, callErr
	case <-ctx.Done():
		sb.engine.IncrementEpoch()
		<-done
		return raw, callErr
	}
}

func callGuestExport(gi *guestInstance, export, arg string) (json.RawMessage, error) {
	allocFn := gi.instance.GetFunc(gi.store, "alloc")
	exportFn := gi.instance.GetFunc(gi.store, export)
	if allocFn == nil || exportFn == nil {
		return nil, fmt.Errorf("sandbox: module missing export %q or alloc", export)
	}

	mem := gi.instance.GetExport(gi.store, "memory").Memory()
	if mem == nil {
		return nil, fmt.Errorf("sandbox: module does not export memory")
	}

	argPtrResult, err := allocFn.Call(gi.store, int32(len(arg)))
	if err != nil {
		return nil, err
	}
	argPtr, ok := argPtrResult.(int32)
	if !ok {
		return nil, fmt.Errorf("sandbox: alloc returned non-i32")
	}

	data := mem.UnsafeData(gi.store)
	if uint64(argPtr)+uint64(len(arg)) > uint64(len(data)) {
		return nil, fmt.Errorf("sandbox: guest memory too small for argument")
	}
	copy(data[argPtr:], arg)

	result, err := exportFn.Call(gi.store, argPtr, int32(len(arg)))
	if err != nil {
		return nil, err
	}
	packed, ok := result.(int64)
	if !ok {
		return nil, fmt.Errorf("sandbox: export %q did not return a packed i64", export)
	}

	resPtr, resLen := unpackPtrLen(uint64(packed))
	data = mem.UnsafeData(gi.store)
	if uint64(resPtr)+uint64(resLen) > uint64(len(data)) {
		return nil, fmt.Errorf("sandbox: export %q returned out-of-bounds result", export)
	}

	out := make([]byte, resLen)
	copy(out, data[resPtr:resPtr+resLen])
	return out, nil
}

func isTrapTimeout(err error) bool {
	var trap *wasmtime.Trap
	if t, ok := err.(*wasmtime.Trap); ok {
		trap = t
	} else {
		return false
	}
	code := trap.Code()
	return code != nil && *code == wasmtime.Interrupt
}

// flushOutput drains gi's captured stdout/stderr and hands it to the
// configured sink, if any, as a single event per stream. The capture files
// are drained even without a sink, so they never grow across reuses.
func (sb *Sandbox) flushOutput(gi *guestInstance) {
	if out, err := gi.stdout.Flush(); err == nil && len(out) > 0 && sb.cfg.OnOutput != nil {
		sb.cfg.OnOutput(sb.cfg.Name, "stdout", out)
	}
	if out, err := gi.stderr.Flush(); err == nil && len(out) > 0 && sb.cfg.OnOutput != nil {
		sb.cfg.OnOutput(sb.cfg.Name, "stderr", out)
	}
}

// Close stops the epoch ticker and drains the instance pool.
func (sb *Sandbox) Close() error {
	close(sb.epochStop)
	sb.epochWG.Wait()
	if sb.pool != nil {
		return sb.pool.Close()
	}
	return nil
}
