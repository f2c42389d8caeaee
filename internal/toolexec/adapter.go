package toolexec

import (
	"context"
	"fmt"
	"sync"
)

// Observation is the uniform result of one tool invocation. Tool-not-found
// and tool errors are both folded into a failed observation; they never
// propagate as errors into the execution loop.
type Observation struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Call is one requested tool invocation.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// DefaultMaxParallel bounds the fan-out of parallel-safe tool calls
// requested together in one reasoning step.
const DefaultMaxParallel = 4

// Adapter executes tool calls against a registry with caching and bounded
// parallel dispatch.
type Adapter struct {
	reg         Registry
	cache       *resultCache
	maxParallel int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMaxParallel overrides the parallel dispatch fan-out limit.
func WithMaxParallel(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxParallel = n
		}
	}
}

// NewAdapter builds an adapter over a registry.
func NewAdapter(reg Registry, opts ...Option) *Adapter {
	a := &Adapter{
		reg:         reg,
		cache:       newResultCache(),
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry exposes the underlying registry for schema/catalog rendering.
func (a *Adapter) Registry() Registry { return a.reg }

// Execute runs one tool call and returns an observation. Unknown tools,
// argument validation failures, tool errors, and panics all become failed
// observations.
func (a *Adapter) Execute(ctx context.Context, name string, args map[string]any) Observation {
	t, ok := a.reg[name]
	if !ok {
		return Observation{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s (available tools: %v)", name, a.reg.sortedNames()),
		}
	}

	if err := t.ValidateArgs(args); err != nil {
		return Observation{Success: false, Error: err.Error()}
	}

	var key string
	if t.Cacheable {
		key = cacheKey(name, args)
		if obs, hit := a.cache.get(key); hit {
			return obs
		}
	}

	obs := runGuarded(ctx, t, args)

	if t.Cacheable && obs.Success {
		a.cache.put(key, obs)
	}
	return obs
}

// runGuarded invokes the tool function, converting errors and panics into
// failed observations.
func runGuarded(ctx context.Context, t Tool, args map[string]any) (obs Observation) {
	defer func() {
		if r := recover(); r != nil {
			obs = Observation{Success: false, Error: fmt.Sprintf("tool %s panicked: %v", t.Name, r)}
		}
	}()

	out, err := t.Fn(ctx, args)
	if err != nil {
		return Observation{Success: false, Error: err.Error()}
	}
	return Observation{Success: true, Output: out}
}

// Dispatch executes a batch of tool calls requested together in one
// reasoning step. Parallel-safe tools that do not require approval fan out
// concurrently up to the configured limit; everything else runs strictly
// sequentially. Results are returned in the original request order
// regardless of completion order.
func (a *Adapter) Dispatch(ctx context.Context, calls []Call) []Observation {
	if len(calls) == 0 {
		return nil
	}

	results := make([]Observation, len(calls))

	var parallel []int
	var sequential []int
	for i, c := range calls {
		t, ok := a.reg[c.Name]
		if ok && t.Parallel && !t.RequiresApproval {
			parallel = append(parallel, i)
		} else {
			sequential = append(sequential, i)
		}
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.maxParallel)
	for _, i := range parallel {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				results[i] = Observation{Success: false, Error: ctx.Err().Error()}
				return
			default:
			}
			results[i] = a.Execute(ctx, calls[i].Name, calls[i].Args)
		}(i)
	}

	for _, i := range sequential {
		select {
		case <-ctx.Done():
			results[i] = Observation{Success: false, Error: ctx.Err().Error()}
			continue
		default:
		}
		results[i] = a.Execute(ctx, calls[i].Name, calls[i].Args)
	}

	wg.Wait()
	return results
}
