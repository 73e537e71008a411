package workflow

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"syscall"
	"time"

	"github.com/dop251/goja"
	"github.com/google/cel-go/cel"
)

// SandboxConfig mirrors the code node's `sandbox {enabled, allowedModules,
// cpuTimeoutMs, memoryLimitMb}` config (§3, §4.2).
type SandboxConfig struct {
	Enabled        bool     `json:"enabled"`
	AllowedModules []string `json:"allowedModules,omitempty"`
	CPUTimeoutMs   int      `json:"cpuTimeoutMs,omitempty"`
	MemoryLimitMb  int      `json:"memoryLimitMb,omitempty"`
}

func (c SandboxConfig) timeout() time.Duration {
	if c.CPUTimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.CPUTimeoutMs) * time.Millisecond
}

// CodeResult is the code node's output contract (§4.10).
type CodeResult struct {
	Stdout      string
	Stderr      string
	ReturnValue any
}

// jsDenylist guards the pre-exec check of §4.2: eval/Function construction,
// module loading, and process/filesystem escapes. This is defense in depth,
// not the security boundary — goja's global scope has no fs/net/child
// process bindings to begin with unless we add them, which we don't.
var jsDenylist = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bFunction\s*\(`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bimport\s*\(`),
	regexp.MustCompile(`\bprocess\s*\.`),
	regexp.MustCompile(`child_process`),
}

var pythonDenylist = []*regexp.Regexp{
	regexp.MustCompile(`\bsubprocess\b`),
	regexp.MustCompile(`\bos\.system\s*\(`),
	regexp.MustCompile(`__import__\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
}

func scanDenylist(code string, patterns []*regexp.Regexp) error {
	for _, p := range patterns {
		if p.MatchString(code) {
			return NewError(ErrUnsafeCode, fmt.Sprintf("code matches forbidden pattern %q", p.String()))
		}
	}
	return nil
}

// EvaluateTransform runs a CEL program over `output` (the node's raw
// output) and `ctx` (the context's variables), for output-mapping
// transforms (§4.2/§9: bounded, not Turing-complete, the opposite extreme
// from the javascript/code backends below).
func EvaluateTransform(expr string, output any, ec *ExecutionContext) (any, error) {
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, NewError(ErrEval, fmt.Sprintf("cel env: %v", err))
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, NewError(ErrEval, fmt.Sprintf("compile transform %q: %v", expr, issues.Err()))
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, NewError(ErrEval, fmt.Sprintf("build transform program: %v", err))
	}
	out, _, err := prg.Eval(map[string]any{
		"output": output,
		"ctx":    ec.Variables(),
	})
	if err != nil {
		return nil, NewError(ErrEval, fmt.Sprintf("evaluate transform %q: %v", expr, err))
	}
	return out.Value(), nil
}

// EvaluateJavaScriptCondition runs the javascript-typed conditional body in
// a fresh, interrupt-bounded goja runtime and requires the result to be a
// boolean.
func EvaluateJavaScriptCondition(ctx context.Context, expr string, ec *ExecutionContext, cfg SandboxConfig) (bool, error) {
	result, err := runJS(ctx, expr, ec.Variables(), cfg)
	if err != nil {
		return false, err
	}
	b, ok := result.ReturnValue.(bool)
	if !ok {
		return false, NewError(ErrEval, fmt.Sprintf("javascript condition %q did not return a boolean", expr))
	}
	return b, nil
}

// RunCode dispatches the code node's body to the language-appropriate
// backend (§4.10): goja for javascript, an isolated python3 subprocess for
// python. ctx.variables is passed in under the fixed name "context".
func RunCode(ctx context.Context, language, code string, ec *ExecutionContext, cfg SandboxConfig) (CodeResult, error) {
	switch language {
	case "javascript":
		return runJS(ctx, code, ec.Variables(), cfg)
	case "python":
		return runPython(ctx, code, ec.Variables(), cfg)
	default:
		return CodeResult{}, NewError(ErrDefinition, fmt.Sprintf("unsupported code language %q", language))
	}
}

func runJS(ctx context.Context, code string, variables map[string]any, cfg SandboxConfig) (CodeResult, error) {
	if cfg.Enabled {
		if err := scanDenylist(code, jsDenylist); err != nil {
			return CodeResult{}, err
		}
	}

	vm := goja.New()
	var stdout, stderr bytes.Buffer

	console := vm.NewObject()
	console.Set("log", func(call goja.FunctionCall) goja.Value {
		for i, arg := range call.Arguments {
			if i > 0 {
				stdout.WriteByte(' ')
			}
			stdout.WriteString(arg.String())
		}
		stdout.WriteByte('\n')
		return goja.Undefined()
	})
	console.Set("error", func(call goja.FunctionCall) goja.Value {
		for i, arg := range call.Arguments {
			if i > 0 {
				stderr.WriteByte(' ')
			}
			stderr.WriteString(arg.String())
		}
		stderr.WriteByte('\n')
		return goja.Undefined()
	})
	vm.Set("console", console)
	vm.Set("context", variables)

	timeout := cfg.timeout()
	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(NewError(ErrTimeout, "javascript execution exceeded cpu deadline"))
	})
	defer timer.Stop()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt(NewError(ErrCancelled, "javascript execution cancelled"))
		case <-stop:
		}
	}()

	val, err := vm.RunString(code)
	if err != nil {
		if ie, ok := err.(*goja.InterruptedError); ok {
			if we, ok := ie.Value().(*WorkflowError); ok {
				return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, we
			}
		}
		return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, NewError(ErrEval, err.Error())
	}

	return CodeResult{
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		ReturnValue: exportJSValue(val),
	}, nil
}

func exportJSValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	exported := v.Export()
	// goja exports integral numbers as int64; return them as float64 to
	// match JSON-decoded numbers elsewhere in the context.
	if i, ok := exported.(int64); ok {
		return float64(i)
	}
	return exported
}

func runPython(ctx context.Context, code string, variables map[string]any, cfg SandboxConfig) (CodeResult, error) {
	if cfg.Enabled {
		if err := scanDenylist(code, pythonDenylist); err != nil {
			return CodeResult{}, err
		}
	}

	timeout := cfg.timeout()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// process isolation for the python case (§9): a real subprocess, best-
	// effort memory-capped via ulimit -v on platforms that support it.
	script := "exec(__import__('sys').stdin.read())"
	shellCmd := fmt.Sprintf("python3 -I -S -c %q", script)
	if cfg.MemoryLimitMb > 0 {
		shellCmd = fmt.Sprintf("ulimit -v %d 2>/dev/null; %s", cfg.MemoryLimitMb*1024, shellCmd)
	}

	cmd := exec.CommandContext(runCtx, "sh", "-c", shellCmd)
	// on deadline or cancellation send SIGTERM first; Wait sends SIGKILL
	// if the process is still running 1 second later.
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 1 * time.Second
	cmd.Stdin = bytes.NewBufferString(code)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return CodeResult{}, NewError(ErrEval, fmt.Sprintf("start python process: %v", err))
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			if runCtx.Err() == context.DeadlineExceeded {
				return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, NewError(ErrTimeout, "python execution exceeded cpu deadline")
			}
			if ctx.Err() == context.Canceled {
				return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, NewError(ErrCancelled, "python execution cancelled")
			}
			return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, NewError(ErrEval, fmt.Sprintf("python process: %v: %s", err, stderr.String()))
		}
		return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, nil

	case <-ctx.Done():
		terminateEscalating(cmd)
		<-done
		return CodeResult{Stdout: stdout.String(), Stderr: stderr.String()}, NewError(ErrCancelled, "python execution cancelled")
	}
}

// terminateEscalating sends a polite signal, then a forceful one 1 second
// later if the process hasn't exited (§5 cancellation escalation policy).
func terminateEscalating(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	time.AfterFunc(1*time.Second, func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	})
}
