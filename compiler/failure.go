package compiler

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/notargets/KernelDispatch/backend"
)

// CallSite is the source location of the algorithm call that triggered a
// compile.
type CallSite struct {
	File     string
	Line     int
	Function string
}

// Caller captures the call site skip frames above the caller of Caller.
func Caller(skip int) CallSite {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return CallSite{}
	}
	site := CallSite{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		site.Function = fn.Name()
	}
	return site
}

func (s CallSite) String() string {
	if s.File == "" {
		return "unknown call site"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(s.File), s.Line)
}

// CompileFailure is everything needed to reproduce a failed compile of
// generated source: the per-device build results, the options, the build
// log, the source and where the compile was requested.
type CompileFailure struct {
	Site    CallSite
	Devices []backend.BuildInfo
	Options string
	Source  string
	Kernels []string
	// Err is the runtime's own error for the build or kernel lookup
	Err error
}

func (f *CompileFailure) Error() string {
	failed := 0
	for _, d := range f.Devices {
		if d.Status != backend.BuildSuccess {
			failed++
		}
	}
	return fmt.Sprintf("compile failure at %s: %d of %d device(s) failed, kernels %v: %v",
		f.Site, failed, len(f.Devices), f.Kernels, f.Err)
}

func (f *CompileFailure) Unwrap() error { return f.Err }

// Log returns the build logs of all devices.
func (f *CompileFailure) Log() string {
	var sb strings.Builder
	for _, d := range f.Devices {
		if d.Log == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Log)
	}
	return sb.String()
}

// Report renders the full diagnostic bundle.
func (f *CompileFailure) Report() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#### compile failure at %s", f.Site)
	if f.Site.Function != "" {
		fmt.Fprintf(&sb, " (%s)", f.Site.Function)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "#### error: %v\n", f.Err)
	fmt.Fprintf(&sb, "#### kernels: %s\n", strings.Join(f.Kernels, ", "))
	fmt.Fprintf(&sb, "#### options: %q\n", f.Options)
	for _, d := range f.Devices {
		fmt.Fprintf(&sb, "#### device %s: %s (options %q)\n", d.Device, d.Status, d.Options)
		if d.Log != "" {
			fmt.Fprintf(&sb, "%s\n", strings.TrimRight(d.Log, "\n"))
		}
	}
	sb.WriteString("#### source:\n")
	for i, line := range strings.Split(f.Source, "\n") {
		fmt.Fprintf(&sb, "%4d: %s\n", i+1, line)
	}
	return sb.String()
}

// Format prints the one line message for %v and %s, and the full report
// for %+v.
func (f *CompileFailure) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			io.WriteString(s, f.Report())
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, f.Error())
	case 'q':
		fmt.Fprintf(s, "%q", f.Error())
	}
}
