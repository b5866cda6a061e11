package envexec

import (
	"fmt"
	"os"
)

// defaultOutputLimit is used when Cmd.OutputLimit is not set
const defaultOutputLimit Size = 64 << 10

// prepareCmdFd opens stdin and the stdout / stderr collectors.
// The returned files are the child ends and are closed once the process is
// started.
func prepareCmdFd(c *Cmd) (f []*os.File, p []*pipeBuffer, err error) {
	files := make([]*os.File, 0, 3)
	pipeToCollect := make([]*pipeBuffer, 0, 2)

	defer func() {
		if err != nil {
			closeFiles(files...)
			for _, pb := range pipeToCollect {
				pb.r.Close()
			}
		}
	}()

	stdin := c.Stdin
	if stdin == "" {
		stdin = os.DevNull
	}
	in, err := os.Open(stdin)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare stdin: %w", err)
	}
	files = append(files, in)

	limit := c.OutputLimit
	if limit == 0 {
		limit = defaultOutputLimit
	}
	for _, name := range []string{"stdout", "stderr"} {
		b, err := newPipeBuffer(limit)
		if err != nil {
			return nil, nil, fmt.Errorf("prepare %s: %w", name, err)
		}
		files = append(files, b.W)
		pipeToCollect = append(pipeToCollect, b)
	}
	return files, pipeToCollect, nil
}
