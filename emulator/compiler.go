package emulator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/notargets/KernelDispatch/backend"
	"k8s.io/klog/v2"
)

var knownOptionPrefixes = []string{
	"-D", "-I", "-O", "-W", "-g", "-x", "-f", "-std", "-cl-", "-save-temps",
}

// Build validates source the way a front end would: options must be
// recognized, brackets must balance and #error directives fail the build.
func (c *Context) Build(devices []backend.Device, source, options string) (backend.Program, error) {
	n := c.builds.Add(1)
	for _, d := range devices {
		if !c.owns(d) {
			return nil, fmt.Errorf("device %q does not belong to context %s", backend.Identity(d), c.id)
		}
	}

	var diagnostics []string
	diagnostics = append(diagnostics, checkOptions(options)...)
	diagnostics = append(diagnostics, checkSource(source)...)

	var notes []string
	if dir, ok := saveTempsDir(options); ok {
		path, err := saveTemps(dir, c.id, n, source)
		if err != nil {
			diagnostics = append(diagnostics, fmt.Sprintf("error: saving temporaries: %v", err))
		} else {
			notes = append(notes, "note: source saved to "+path)
		}
	}

	status := backend.BuildSuccess
	if len(diagnostics) > 0 {
		status = backend.BuildError
	}
	log := strings.Join(append(diagnostics, notes...), "\n")
	prog := &Program{
		ctx:    c,
		source: source,
		ok:     status == backend.BuildSuccess,
		info:   make(map[backend.Device]backend.BuildInfo, len(devices)),
	}
	for _, d := range devices {
		prog.info[d] = backend.BuildInfo{
			Device:  backend.Identity(d),
			Status:  status,
			Options: options,
			Log:     log,
		}
	}
	if !prog.ok {
		return prog, fmt.Errorf("build failed with %d error(s)", len(diagnostics))
	}
	return prog, nil
}

func checkOptions(options string) []string {
	var diagnostics []string
	for _, opt := range strings.Fields(options) {
		known := false
		for _, prefix := range knownOptionPrefixes {
			if strings.HasPrefix(opt, prefix) {
				known = true
				break
			}
		}
		if !known {
			diagnostics = append(diagnostics, fmt.Sprintf("error: invalid build option %q", opt))
		}
	}
	return diagnostics
}

var closing = map[byte]byte{')': '(', ']': '[', '}': '{'}

// checkSource reports #error directives and unbalanced brackets, skipping
// comments and literals.
func checkSource(source string) []string {
	var diagnostics []string
	type open struct {
		ch   byte
		line int
	}
	var stack []open
	line := 1
	lineStart := true
	for i := 0; i < len(source); i++ {
		ch := source[i]
		switch {
		case ch == '\n':
			line++
			lineStart = true
			continue
		case lineStart && (ch == ' ' || ch == '\t'):
			continue
		case lineStart && ch == '#':
			end := strings.IndexByte(source[i:], '\n')
			if end < 0 {
				end = len(source) - i
			}
			directive := strings.TrimSpace(source[i+1 : i+end])
			lineStart = false
			if strings.HasPrefix(directive, "error") {
				diagnostics = append(diagnostics, fmt.Sprintf("%d: error: #%s", line, directive))
				i += end - 1
			}
			// Other directives are scanned like code, macro bodies included.
			continue
		case ch == '/' && i+1 < len(source) && source[i+1] == '/':
			for i+1 < len(source) && source[i+1] != '\n' {
				i++
			}
		case ch == '/' && i+1 < len(source) && source[i+1] == '*':
			end := strings.Index(source[i+2:], "*/")
			if end < 0 {
				diagnostics = append(diagnostics, fmt.Sprintf("%d: error: unterminated comment", line))
				i = len(source)
				break
			}
			line += strings.Count(source[i:i+2+end], "\n")
			i += end + 3
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(source) && source[j] != ch && source[j] != '\n' {
				if source[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(source) || source[j] != ch {
				diagnostics = append(diagnostics, fmt.Sprintf("%d: error: missing terminating %c character", line, ch))
				j--
			}
			i = j
		case ch == '(' || ch == '[' || ch == '{':
			stack = append(stack, open{ch, line})
		case ch == ')' || ch == ']' || ch == '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != closing[ch] {
				diagnostics = append(diagnostics, fmt.Sprintf("%d: error: unexpected '%c'", line, ch))
			} else {
				stack = stack[:len(stack)-1]
			}
		}
		lineStart = false
	}
	for _, o := range stack {
		diagnostics = append(diagnostics, fmt.Sprintf("%d: error: unclosed '%c'", o.line, o.ch))
	}
	return diagnostics
}

func saveTempsDir(options string) (string, bool) {
	for _, opt := range strings.Fields(options) {
		if opt == "-save-temps" {
			return os.TempDir(), true
		}
		if dir, found := strings.CutPrefix(opt, "-save-temps="); found {
			return dir, true
		}
	}
	return "", false
}

func saveTemps(dir, ctxID string, n int64, source string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("emulator_%s_%d.okl", ctxID[:8], n))
	if err := os.WriteFile(path, []byte(source), 0o644); err != nil {
		return "", err
	}
	klog.V(1).Infof("emulator: saved compiler temporaries to %s", path)
	return path, nil
}

// Program is an emulated program object
type Program struct {
	ctx    *Context
	source string
	ok     bool
	info   map[backend.Device]backend.BuildInfo
}

// Kernel returns the entry point name if the source defines it.
func (p *Program) Kernel(name string) (backend.Kernel, error) {
	if !p.ok {
		return nil, fmt.Errorf("program was not built successfully")
	}
	if !containsWord(p.source, name) {
		return nil, fmt.Errorf("invalid kernel name %q: no such entry point in program", name)
	}
	return &Kernel{name: name, ctx: p.ctx}, nil
}

func (p *Program) BuildInfo(d backend.Device) backend.BuildInfo {
	if info, found := p.info[d]; found {
		return info
	}
	return backend.BuildInfo{Device: backend.Identity(d), Status: backend.BuildNone}
}

func (p *Program) Release() {}

// Kernel is an emulated entry point
type Kernel struct {
	name string
	ctx  *Context
}

func (k *Kernel) Name() string { return k.name }

// Enqueue records the launch on q. Nothing runs until q is flushed.
func (k *Kernel) Enqueue(q backend.Queue, launch backend.Launch) (backend.Event, error) {
	eq, ok := q.(*Queue)
	if !ok || eq.ctx != k.ctx {
		return nil, backend.OpError("enqueue", fmt.Errorf("kernel %s: queue is not from the kernel's context", k.name))
	}
	if launch.Body == nil {
		return nil, backend.OpError("enqueue", fmt.Errorf("kernel %s: launch has no host body to emulate", k.name))
	}
	if launch.Outer < 0 {
		return nil, backend.OpError("enqueue", fmt.Errorf("kernel %s: negative outer size %d", k.name, launch.Outer))
	}
	k.ctx.mu.Lock()
	k.ctx.launched = append(k.ctx.launched, k.name)
	k.ctx.mu.Unlock()
	return eq.enqueue(func() error {
		if d := k.ctx.cfg.LaunchDelay; d > 0 {
			sleep(d)
		}
		for outer := 0; outer < launch.Outer; outer++ {
			if err := launch.Body(outer); err != nil {
				return fmt.Errorf("kernel %s partition %d: %w", k.name, outer, err)
			}
		}
		return nil
	})
}

// containsWord reports whether word occurs in src as a whole identifier.
func containsWord(src, word string) bool {
	if word == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(src[from:], word)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(word)
		if (start == 0 || !isIdent(src[start-1])) && (end == len(src) || !isIdent(src[end])) {
			return true
		}
		from = start + 1
	}
}

func isIdent(b byte) bool {
	return b == '_' || '0' <= b && b <= '9' || 'a' <= b && b <= 'z' || 'A' <= b && b <= 'Z'
}
