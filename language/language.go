// Package language describes how every supported toolchain compiles and
// runs a program inside a workspace.
package language

import (
	"strings"

	"github.com/judgekit/go-executor/workspace"
)

// Kind is the variant of a toolchain
type Kind string

// Toolchain variants
const (
	KindNative      Kind = "native"
	KindJVM         Kind = "jvm"
	KindInterpreted Kind = "interpreted"
)

// placeholders expanded in command templates
const (
	placeholderSource = "{source}"
	placeholderBinary = "{binary}"
	placeholderDir    = "{dir}"
)

// defaultPath is the PATH given to programs unless the toolchain sets one
const defaultPath = "PATH=/usr/local/bin:/usr/bin:/bin"

// Invocation is an argument vector to execute without a shell
type Invocation struct {
	Args    []string
	Env     []string
	WorkDir string
}

// Language knows how to build and run a program of one language
type Language interface {
	Name() string
	Kind() Kind
	SourceFile() string
	// BinaryFile is the artifact produced by compile, empty if none
	BinaryFile() string
	NeedsCompile() bool

	// CompileInvocation returns false when the language is not compiled
	CompileInvocation(ws *workspace.Workspace) (Invocation, bool)
	RunInvocation(ws *workspace.Workspace) Invocation

	// DefaultLimits are applied to the run step, CompileLimits to compile
	DefaultLimits() Limits
	CompileLimits() Limits

	// RelaxedMemory means the runtime reserves far more address space than it
	// uses, so memory is only checked against the peak resident size
	RelaxedMemory() bool
}

// toolchain is the part shared by all variants
type toolchain struct {
	spec Spec
}

func (t *toolchain) Name() string {
	return t.spec.Name
}

func (t *toolchain) Kind() Kind {
	return t.spec.Kind
}

func (t *toolchain) SourceFile() string {
	return t.spec.SourceFile
}

func (t *toolchain) BinaryFile() string {
	return t.spec.BinaryFile
}

func (t *toolchain) DefaultLimits() Limits {
	return t.spec.Limits
}

func (t *toolchain) CompileLimits() Limits {
	return t.spec.CompileLimits
}

func (t *toolchain) RelaxedMemory() bool {
	return t.spec.RelaxedMemory
}

func (t *toolchain) RunInvocation(ws *workspace.Workspace) Invocation {
	return t.invocation(ws, t.spec.Run)
}

func (t *toolchain) invocation(ws *workspace.Workspace, tmpl []string) Invocation {
	r := t.replacer(ws)
	args := make([]string, 0, len(tmpl))
	for _, a := range tmpl {
		args = append(args, r.Replace(a))
	}
	env := []string{defaultPath}
	for _, e := range t.spec.Env {
		env = append(env, r.Replace(e))
	}
	return Invocation{
		Args:    args,
		Env:     env,
		WorkDir: ws.Dir,
	}
}

func (t *toolchain) replacer(ws *workspace.Workspace) *strings.Replacer {
	binary := ""
	if t.spec.BinaryFile != "" {
		binary = ws.Path(t.spec.BinaryFile)
	}
	return strings.NewReplacer(
		placeholderSource, ws.Path(t.spec.SourceFile),
		placeholderBinary, binary,
		placeholderDir, ws.Dir,
	)
}

// compiledNative produces an executable which is run directly (c, c++, go, rust)
type compiledNative struct {
	toolchain
}

func (c *compiledNative) NeedsCompile() bool {
	return true
}

func (c *compiledNative) CompileInvocation(ws *workspace.Workspace) (Invocation, bool) {
	return c.invocation(ws, c.spec.Compile), true
}

// jvmBytecode compiles to class files run by the java virtual machine
type jvmBytecode struct {
	toolchain
}

func (j *jvmBytecode) NeedsCompile() bool {
	return true
}

func (j *jvmBytecode) CompileInvocation(ws *workspace.Workspace) (Invocation, bool) {
	return j.invocation(ws, j.spec.Compile), true
}

// the jvm reserves its heap up front
func (j *jvmBytecode) RelaxedMemory() bool {
	return true
}

// interpreted runs the source file by an interpreter
type interpreted struct {
	toolchain
}

func (i *interpreted) NeedsCompile() bool {
	return false
}

func (i *interpreted) CompileInvocation(*workspace.Workspace) (Invocation, bool) {
	return Invocation{}, false
}

func newLanguage(s Spec) Language {
	switch s.Kind {
	case KindJVM:
		return &jvmBytecode{toolchain{s}}
	case KindInterpreted:
		return &interpreted{toolchain{s}}
	default:
		return &compiledNative{toolchain{s}}
	}
}
