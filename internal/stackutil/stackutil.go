package stackutil

import (
	"fmt"
	"runtime"
	"strings"
)

// GetStack returns up to depth frames, starting skip frames above the
// caller of GetStack.
func GetStack(depth, skip int) []runtime.Frame {
	pc := make([]uintptr, depth)

	// skip runtime.Callers and this function
	n := runtime.Callers(2+skip, pc)
	if n == 0 {
		return []runtime.Frame{}
	}

	frames := runtime.CallersFrames(pc[:n])

	var a []runtime.Frame
	for {
		frame, more := frames.Next()
		a = append(a, frame)
		if !more {
			break
		}
	}

	return a
}

// FunctionPackage is the import path of the package a frame's function
// belongs to.
func FunctionPackage(f runtime.Frame) string {
	name := f.Function

	slash := strings.LastIndex(name, "/")
	if dot := strings.Index(name[slash+1:], "."); dot != -1 {
		return name[:slash+1+dot]
	}

	return name
}

// TrimLeading drops frames from the top of the stack while they belong to
// one of packages.
func TrimLeading(a []runtime.Frame, packages []string) []runtime.Frame {
	for len(a) > 0 && InPackages(a[0], packages) {
		a = a[1:]
	}

	return a
}

// InPackages matches a frame against package paths and their subpackages.
func InPackages(f runtime.Frame, packages []string) bool {
	pkg := FunctionPackage(f)

	for _, p := range packages {
		if pkg == p || strings.HasPrefix(pkg, p+"/") {
			return true
		}
	}

	return false
}

func FormatStack(a []runtime.Frame) []string {
	r := make([]string, len(a))
	for i, e := range a {
		r[i] = FormatStackFrame(e)
	}
	return r
}

func FormatStackFrame(f runtime.Frame) string {
	return fmt.Sprintf("%s:%d: %s", f.File, f.Line, f.Function)
}
