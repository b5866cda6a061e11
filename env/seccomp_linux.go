//go:build seccomp

package env

import (
	"fmt"
	"os"
	"syscall"

	"github.com/elastic/go-seccomp-bpf"
	"github.com/elastic/go-ucfg/yaml"
	"golang.org/x/net/bpf"
)

// readSeccompConf loads a go-seccomp-bpf policy, e.g.
//
//	default_action: allow
//	syscalls:
//	  - action: errno
//	    names: [socket, ptrace]
func readSeccompConf(name string) ([]syscall.SockFilter, error) {
	if name == "" {
		return nil, nil
	}
	conf, err := yaml.NewConfigWithFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var policy seccomp.Policy
	if err := conf.Unpack(&policy); err != nil {
		return nil, fmt.Errorf("unpack policy %s: %w", name, err)
	}
	inst, err := policy.Assemble()
	if err != nil {
		return nil, fmt.Errorf("assemble policy %s: %w", name, err)
	}
	raw, err := bpf.Assemble(inst)
	if err != nil {
		return nil, err
	}

	filter := make([]syscall.SockFilter, 0, len(raw))
	for _, instruction := range raw {
		filter = append(filter, syscall.SockFilter{
			Code: instruction.Op,
			Jt:   instruction.Jt,
			Jf:   instruction.Jf,
			K:    instruction.K,
		})
	}
	return filter, nil
}
