package language

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/judgekit/go-executor/envexec"
)

const (
	kib envexec.Size = 1 << 10
	mib envexec.Size = 1 << 20
)

var (
	runLimits = Limits{
		CPUTime:  2 * time.Second,
		WallTime: 5 * time.Second,
		Memory:   256 * mib,
		Output:   1 * mib,
	}
	compileLimits = Limits{
		CPUTime:  10 * time.Second,
		WallTime: 30 * time.Second,
		Memory:   1024 * mib,
		Output:   64 * kib,
	}
)

// DefaultSpecs returns the built-in toolchains
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:          "c",
			Kind:          KindNative,
			SourceFile:    "main.c",
			BinaryFile:    "main",
			Compile:       []string{"gcc", "-O2", "-std=c11", "-o", "{binary}", "{source}", "-lm"},
			Run:           []string{"{binary}"},
			Limits:        runLimits,
			CompileLimits: compileLimits,
		},
		{
			Name:          "cpp",
			Kind:          KindNative,
			Aliases:       []string{"c++", "cxx"},
			SourceFile:    "main.cpp",
			BinaryFile:    "main",
			Compile:       []string{"g++", "-O2", "-std=c++17", "-o", "{binary}", "{source}"},
			Run:           []string{"{binary}"},
			Limits:        runLimits,
			CompileLimits: compileLimits,
		},
		{
			Name:       "go",
			Kind:       KindNative,
			Aliases:    []string{"golang"},
			SourceFile: "main.go",
			BinaryFile: "main",
			Compile:    []string{"go", "build", "-o", "{binary}", "{source}"},
			Run:        []string{"{binary}"},
			Env: []string{
				"HOME={dir}",
				"GOCACHE={dir}/.cache",
				"GOPATH={dir}/.go",
				"GO111MODULE=off",
				"CGO_ENABLED=0",
			},
			Limits:        runLimits,
			CompileLimits: compileLimits.Override(Limits{CPUTime: 30 * time.Second, WallTime: 60 * time.Second}),
		},
		{
			Name:          "rust",
			Kind:          KindNative,
			Aliases:       []string{"rs"},
			SourceFile:    "main.rs",
			BinaryFile:    "main",
			Compile:       []string{"rustc", "-O", "-o", "{binary}", "{source}"},
			Run:           []string{"{binary}"},
			Limits:        runLimits,
			CompileLimits: compileLimits.Override(Limits{CPUTime: 30 * time.Second, WallTime: 60 * time.Second}),
		},
		{
			Name:          "java",
			Kind:          KindJVM,
			SourceFile:    "Main.java",
			BinaryFile:    "Main.class",
			Compile:       []string{"javac", "-encoding", "UTF-8", "-d", "{dir}", "{source}"},
			Run:           []string{"java", "-cp", "{dir}", "-XX:+UseSerialGC", "-Xss64m", "Main"},
			Limits:        runLimits.Override(Limits{CPUTime: 4 * time.Second, WallTime: 10 * time.Second}),
			CompileLimits: compileLimits,
		},
		{
			Name:       "python",
			Kind:       KindInterpreted,
			Aliases:    []string{"py", "python3"},
			SourceFile: "main.py",
			Run:        []string{"python3", "{source}"},
			Limits:     runLimits.Override(Limits{CPUTime: 6 * time.Second, WallTime: 12 * time.Second}),
		},
		{
			Name:          "javascript",
			Kind:          KindInterpreted,
			Aliases:       []string{"js", "node"},
			SourceFile:    "main.js",
			Run:           []string{"node", "{source}"},
			Limits:        runLimits.Override(Limits{CPUTime: 4 * time.Second, WallTime: 10 * time.Second}),
			RelaxedMemory: true,
		},
	}
}

// Registry maps language identifiers to toolchains, it is read-only once
// created
type Registry struct {
	languages map[string]Language
	aliases   map[string]string
	names     []string
}

// NewRegistry validates specs and creates the registry. Names and aliases
// must be unique.
func NewRegistry(specs ...Spec) (*Registry, error) {
	r := &Registry{
		languages: make(map[string]Language, len(specs)),
		aliases:   make(map[string]string),
	}
	for _, s := range specs {
		s := s
		if err := s.validate(); err != nil {
			return nil, err
		}
		name := normalize(s.Name)
		s.Name = name
		if _, ok := r.aliases[name]; ok {
			return nil, fmt.Errorf("language %s: duplicated", name)
		}
		r.aliases[name] = name
		for _, a := range s.Aliases {
			a = normalize(a)
			if _, ok := r.aliases[a]; ok {
				return nil, fmt.Errorf("language %s: alias %s duplicated", name, a)
			}
			r.aliases[a] = name
		}
		r.languages[name] = newLanguage(s)
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Default returns the registry of built-in toolchains
func Default() *Registry {
	r, err := NewRegistry(DefaultSpecs()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the language by its name or alias
func (r *Registry) Get(name string) (Language, error) {
	if n, ok := r.aliases[normalize(name)]; ok {
		return r.languages[n], nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
}

// Names returns the sorted language names, aliases excluded
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
