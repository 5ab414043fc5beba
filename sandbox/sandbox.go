// Package sandbox executes user-supplied configurator/extractor/formatter
// scripts in a single-threaded embedded JS interpreter with bounded
// time/memory and a fixed host-object surface, per spec.md §4.7. It is
// Retrack's analogue of the teacher's resilience-wrapped external calls
// (email/resilience.go): a boundary that turns an unbounded, potentially
// hostile computation into one of a small set of classified outcomes.
package sandbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/retrack/retrack/config"
	"github.com/retrack/retrack/internal/retrackerr"
	"github.com/retrack/retrack/metrics"
)

// allowedImports is the fixed set of module specifiers a script may
// reference. Retrack scripts are pure computation plus encode/decode and a
// deferred-timer primitive (spec.md §4.7) — there is no module system to
// speak of, so this allowlist exists purely to reject any `require`/`import`
// call outright.
var allowedImports = map[string]bool{}

// Sandbox runs scripts against a bound context value and returns their
// result as JSON, enforcing a wall-clock timeout per call.
type Sandbox struct {
	timeout      time.Duration
	maxCallStack int
	metrics      *metrics.Metrics
}

// New builds a Sandbox from sandbox configuration (spec.md §6.4 sandbox.*).
func New(cfg config.SandboxConfig) *Sandbox {
	return &Sandbox{
		timeout:      cfg.SandboxTimeout(),
		maxCallStack: cfg.MaxCallStack,
	}
}

// SetMetrics attaches a metrics sink the sandbox reports invocation and
// timeout counts to. Optional — nil disables reporting.
func (s *Sandbox) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Run compiles and executes source as the body of a function named
// entryPoint (one of "configurator", "extractor", "formatter" per
// spec.md §4.7), calling it with ctxValue as its sole argument, and returns
// the JSON-encoded result.
func (s *Sandbox) Run(ctx context.Context, entryPoint, source string, ctxValue any) (json.RawMessage, error) {
	if s.metrics != nil {
		s.metrics.SandboxInvocations.WithLabelValues(entryPoint).Inc()
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(s.maxCallStack)

	if err := installForbiddenImports(vm); err != nil {
		return nil, retrackerr.Wrap(retrackerr.Fatal, err, "install sandbox host bindings")
	}
	installHostHelpers(vm)

	program, err := goja.Compile("<script>", wrapEntryPoint(entryPoint, source), false)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Terminal, err, "compile script")
	}

	if _, err := vm.RunProgram(program); err != nil {
		return nil, s.classify(err)
	}

	entry, ok := goja.AssertFunction(vm.Get("__retrack_entry__"))
	if !ok {
		return nil, retrackerr.New(retrackerr.Terminal, "script did not define an entry point")
	}

	timer := time.AfterFunc(s.timeout, func() {
		vm.Interrupt(fmt.Sprintf("execution was terminated due to timeout %dms", s.timeout.Milliseconds()))
	})
	defer timer.Stop()

	done := make(chan struct{})
	var value goja.Value
	var callErr error
	go func() {
		defer close(done)
		jsCtx := vm.ToValue(ctxValue)
		value, callErr = entry(goja.Undefined(), jsCtx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		vm.Interrupt("execution was terminated due to timeout")
		<-done
	}

	if callErr != nil {
		return nil, s.classify(callErr)
	}

	exported := value.Export()
	raw, err := json.Marshal(exported)
	if err != nil {
		return nil, retrackerr.Wrap(retrackerr.Terminal, err, "serialize script result")
	}
	return raw, nil
}

func wrapEntryPoint(entryPoint, source string) string {
	return fmt.Sprintf("function %s(context) {\n%s\n}\nvar __retrack_entry__ = %s;", entryPoint, source, entryPoint)
}

func (s *Sandbox) classify(err error) error {
	classified := classifyRunError(err)
	if s.metrics != nil && retrackerr.KindOf(classified) == retrackerr.ScriptTimeout {
		s.metrics.SandboxTimeouts.Inc()
	}
	return classified
}

func classifyRunError(err error) error {
	if interrupted, ok := err.(*goja.InterruptedError); ok {
		return retrackerr.Wrap(retrackerr.ScriptTimeout, err, fmt.Sprint(interrupted.Value()))
	}
	if jsErr, ok := err.(*goja.Exception); ok {
		return retrackerr.Wrap(retrackerr.Terminal, jsErr, "script threw")
	}
	return retrackerr.Wrap(retrackerr.Terminal, err, "script execution failed")
}

// installForbiddenImports rejects any attempt to call require()/import at
// resolution time — scripts have no module system, per spec.md §4.7.
func installForbiddenImports(vm *goja.Runtime) error {
	reject := func(call goja.FunctionCall) goja.Value {
		spec := "unknown"
		if len(call.Arguments) > 0 {
			spec = call.Arguments[0].String()
		}
		if allowedImports[spec] {
			return goja.Undefined()
		}
		panic(vm.NewGoError(retrackerr.New(retrackerr.ScriptForbiddenImport, "import of "+spec+" is not permitted")))
	}
	return vm.Set("require", reject)
}

// installHostHelpers binds the fixed capability surface: encode/decode for
// byte strings and a deferred-timer primitive for configurators to sleep
// between chained requests.
func installHostHelpers(vm *goja.Runtime) {
	_ = vm.Set("encode", func(s string) string {
		return base64.StdEncoding.EncodeToString([]byte(s))
	})
	_ = vm.Set("decode", func(s string) (string, error) {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	})

	var sleepMu sync.Mutex
	_ = vm.Set("sleep", func(ms int) {
		sleepMu.Lock()
		defer sleepMu.Unlock()
		if ms > 0 {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		}
	})
}
