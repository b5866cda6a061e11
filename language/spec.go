package language

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/judgekit/go-executor/envexec"
)

// ErrUnsupportedLanguage is returned for unknown language identifiers
var ErrUnsupportedLanguage = errors.New("unsupported language")

// Limits are the resource limits of one step
type Limits struct {
	CPUTime  time.Duration
	WallTime time.Duration
	Memory   envexec.Size
	Output   envexec.Size
}

// Override returns l with every non-zero field of o applied
func (l Limits) Override(o Limits) Limits {
	if o.CPUTime > 0 {
		l.CPUTime = o.CPUTime
	}
	if o.WallTime > 0 {
		l.WallTime = o.WallTime
	}
	if o.Memory > 0 {
		l.Memory = o.Memory
	}
	if o.Output > 0 {
		l.Output = o.Output
	}
	return l
}

// Spec is the static configuration of one toolchain
type Spec struct {
	Name    string
	Kind    Kind
	Aliases []string

	// file names inside the workspace
	SourceFile string
	BinaryFile string

	// argument templates, Compile is empty for interpreted languages
	Compile []string
	Run     []string
	Env     []string

	Limits        Limits
	CompileLimits Limits
	RelaxedMemory bool
}

func (s *Spec) validate() error {
	if s.Name == "" {
		return errors.New("language: empty name")
	}
	if len(s.Run) == 0 {
		return fmt.Errorf("language %s: empty run command", s.Name)
	}
	if s.SourceFile == "" || filepath.Base(s.SourceFile) != s.SourceFile {
		return fmt.Errorf("language %s: invalid source file %q", s.Name, s.SourceFile)
	}
	if s.BinaryFile != "" && filepath.Base(s.BinaryFile) != s.BinaryFile {
		return fmt.Errorf("language %s: invalid binary file %q", s.Name, s.BinaryFile)
	}
	switch s.Kind {
	case KindNative:
		if s.BinaryFile == "" {
			return fmt.Errorf("language %s: native toolchain without binary file", s.Name)
		}
		fallthrough
	case KindJVM:
		if len(s.Compile) == 0 {
			return fmt.Errorf("language %s: empty compile command", s.Name)
		}
	case KindInterpreted:
		if len(s.Compile) != 0 {
			return fmt.Errorf("language %s: interpreted toolchain with compile command", s.Name)
		}
	default:
		return fmt.Errorf("language %s: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}
