package language

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/google/shlex"
	"github.com/judgekit/go-executor/envexec"
)

// fileConfig is the toolchain file layout, e.g.
//
//	languages:
//	  - name: cpp
//	    compile: /usr/bin/g++-13 -O2 -std=c++20 -o {binary} {source}
//	  - name: kotlin
//	    kind: jvm
//	    sourceFile: Main.kt
//	    binaryFile: main.jar
//	    compile: kotlinc {source} -include-runtime -d {binary}
//	    run: java -jar {binary}
//	    limits:
//	      cpuTime: 4s
//	      memory: 512m
type fileConfig struct {
	Languages []fileSpec `yaml:"languages"`
}

type fileSpec struct {
	Name          string     `yaml:"name"`
	Kind          Kind       `yaml:"kind"`
	Aliases       []string   `yaml:"aliases"`
	SourceFile    string     `yaml:"sourceFile"`
	BinaryFile    string     `yaml:"binaryFile"`
	Compile       string     `yaml:"compile"`
	Run           string     `yaml:"run"`
	Env           []string   `yaml:"env"`
	Limits        fileLimits `yaml:"limits"`
	CompileLimits fileLimits `yaml:"compileLimits"`
	RelaxedMemory *bool      `yaml:"relaxedMemory"`
	Disabled      bool       `yaml:"disabled"`
}

type fileLimits struct {
	CPUTime  string `yaml:"cpuTime"`
	WallTime string `yaml:"wallTime"`
	Memory   string `yaml:"memory"`
	Output   string `yaml:"output"`
}

// LoadFile reads the toolchain file and merges it over the built-in
// toolchains. An entry naming a built-in language only replaces the fields it
// sets, so a compiler path can be changed by setting compile alone.
func LoadFile(name string) (*Registry, error) {
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Load(content)
}

// Load parses the toolchain file content, see LoadFile
func Load(content []byte) (*Registry, error) {
	var conf fileConfig
	if err := yaml.UnmarshalWithOptions(content, &conf, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("language: parse: %w", err)
	}

	specs := DefaultSpecs()
	index := make(map[string]int, len(specs))
	for i, s := range specs {
		index[s.Name] = i
	}
	disabled := make(map[string]bool)

	for _, fs := range conf.Languages {
		fs := fs
		name := normalize(fs.Name)
		if fs.Disabled {
			disabled[name] = true
			continue
		}
		i, ok := index[name]
		if !ok {
			specs = append(specs, Spec{Name: name, Limits: runLimits})
			i = len(specs) - 1
			index[name] = i
		}
		if err := fs.apply(&specs[i]); err != nil {
			return nil, fmt.Errorf("language %s: %w", name, err)
		}
	}

	enabled := specs[:0]
	for _, s := range specs {
		if !disabled[s.Name] {
			enabled = append(enabled, s)
		}
	}
	return NewRegistry(enabled...)
}

func (f *fileSpec) apply(s *Spec) error {
	if f.Kind != "" {
		s.Kind = f.Kind
	}
	if f.Aliases != nil {
		s.Aliases = f.Aliases
	}
	if f.SourceFile != "" {
		s.SourceFile = f.SourceFile
	}
	if f.BinaryFile != "" {
		s.BinaryFile = f.BinaryFile
	}
	if f.Compile != "" {
		args, err := shlex.Split(f.Compile)
		if err != nil {
			return fmt.Errorf("compile: %w", err)
		}
		s.Compile = args
	}
	if f.Run != "" {
		args, err := shlex.Split(f.Run)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		s.Run = args
	}
	if f.Env != nil {
		s.Env = f.Env
	}
	if f.RelaxedMemory != nil {
		s.RelaxedMemory = *f.RelaxedMemory
	}

	l, err := f.Limits.parse()
	if err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	s.Limits = s.Limits.Override(l)
	cl, err := f.CompileLimits.parse()
	if err != nil {
		return fmt.Errorf("compileLimits: %w", err)
	}
	if s.Kind != KindInterpreted && s.CompileLimits == (Limits{}) {
		s.CompileLimits = compileLimits
	}
	s.CompileLimits = s.CompileLimits.Override(cl)
	return nil
}

func (f *fileLimits) parse() (l Limits, err error) {
	if l.CPUTime, err = parseDuration(f.CPUTime); err != nil {
		return l, err
	}
	if l.WallTime, err = parseDuration(f.WallTime); err != nil {
		return l, err
	}
	if l.Memory, err = parseSize(f.Memory); err != nil {
		return l, err
	}
	if l.Output, err = parseSize(f.Output); err != nil {
		return l, err
	}
	return l, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func parseSize(s string) (envexec.Size, error) {
	var size envexec.Size
	if s == "" {
		return 0, nil
	}
	if err := size.Set(s); err != nil {
		return 0, err
	}
	return size, nil
}
