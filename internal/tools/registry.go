package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/velocityhq/velocity/pkg/schema"
)

// Registry is the thread-safe lookup table for tools. Every invocation goes
// through Call, which validates input, times the execution, and converts
// panics and errors into a failed Result so a broken tool can never take a
// run down with it.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]*Tool
	validator InputValidator
	sim       *Simulation
	breakers  *BreakerRegistry

	// offline forces network-backed tools to return canned responses.
	offline bool
}

// NewRegistry creates an empty Registry. validator may be nil to skip input
// schema checks; sim may be nil to run with all simulation flags off.
func NewRegistry(validator InputValidator, sim *Simulation, offline bool) *Registry {
	return &Registry{
		tools:     make(map[string]*Tool),
		validator: validator,
		sim:       sim,
		breakers:  NewBreakerRegistry(DefaultBreakerConfig()),
		offline:   offline,
	}
}

// Simulation returns the registry's simulation flag set.
func (r *Registry) Simulation() *Simulation { return r.sim }

// Breakers returns the circuit breaker registry for diagnostics.
func (r *Registry) Breakers() *BreakerRegistry { return r.breakers }

// Register adds a tool to the registry. Returns error on duplicate name.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Run == nil {
		return schema.NewError(schema.ErrCodeValidation, "tool is nil")
	}
	if t.Def.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Def.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", t.Def.Name)
	}

	r.tools[t.Def.Name] = t
	return nil
}

// MustRegister registers a tool and panics on error. Intended for wiring
// built-ins at startup where a duplicate name is a programming mistake.
func (r *Registry) MustRegister(t *Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get retrieves a tool definition by name.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q not registered", name)
	}
	return t, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// List returns info for all registered tools, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, Info{
			Name:        t.Def.Name,
			Category:    t.Def.Category,
			Description: t.Def.Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Call invokes a tool by name and always returns a populated Result.
func (r *Registry) Call(ctx context.Context, name string, params map[string]any) *Result {
	start := time.Now()

	t, err := r.Get(name)
	if err != nil {
		return failed(start, err.Error())
	}

	if params == nil {
		params = map[string]any{}
	}

	if r.validator != nil && len(t.Def.InputSchema) > 0 {
		if err := r.validator.ValidateInput(params, t.Def.InputSchema); err != nil {
			return failed(start, fmt.Sprintf("invalid input for %s: %v", name, err))
		}
	}

	// Offline canned responses bypass the breaker; only real upstream
	// calls can trip or recover it.
	live := t.Def.RequiresNetwork && !r.offline
	if live {
		if err := r.breakers.AllowRequest(name); err != nil {
			return failed(start, err.Error())
		}
	}

	sim := r.sim
	if extra := simFlagsFrom(ctx); len(extra) > 0 {
		sim = sim.overlay(extra)
	}
	data, runErr := r.safeRun(ctx, t, Input{Params: params, Sim: sim})
	if live {
		if runErr != nil {
			r.breakers.RecordFailure(name)
		} else {
			r.breakers.RecordSuccess(name)
		}
	}
	res := &Result{
		Success:   runErr == nil,
		Data:      data,
		ElapsedMs: time.Since(start).Milliseconds(),
		WasMocked: t.Def.RequiresNetwork && r.offline,
	}
	if runErr != nil {
		res.Error = runErr.Error()
		res.Data = nil
	}
	return res
}

// safeRun executes the tool body with panic capture.
func (r *Registry) safeRun(ctx context.Context, t *Tool, in Input) (data map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			data = nil
			err = schema.NewErrorf(schema.ErrCodeToolFailed, "tool %s panicked: %v", t.Def.Name, rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeToolFailed, "context cancelled").WithCause(err)
	}
	return t.Run(ctx, in)
}

func failed(start time.Time, msg string) *Result {
	return &Result{
		Success:   false,
		Error:     msg,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
}

// Scoped is a per-stage view of the registry restricted to an allow-list.
// Stage handlers receive a Scoped so a handler cannot reach tools outside
// its declared set.
type Scoped struct {
	registry *Registry
	allowed  map[string]bool
}

// Scope creates a restricted view over the given tool names.
func (r *Registry) Scope(names ...string) *Scoped {
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[n] = true
	}
	return &Scoped{registry: r, allowed: allowed}
}

// Call invokes a tool if it is inside the scope's allow-list.
func (s *Scoped) Call(ctx context.Context, name string, params map[string]any) *Result {
	if !s.allowed[name] {
		return failed(time.Now(), fmt.Sprintf("tool %q not permitted in this stage", name))
	}
	return s.registry.Call(ctx, name, params)
}

// Allowed returns the sorted allow-list of the scope.
func (s *Scoped) Allowed() []string {
	names := make([]string, 0, len(s.allowed))
	for n := range s.allowed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
