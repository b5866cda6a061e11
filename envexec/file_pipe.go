package envexec

import (
	"bytes"
	"io"
	"os"
	"time"
)

type pipeBuffer struct {
	W      *os.File
	Buffer *bytes.Buffer
	Done   <-chan struct{}
	Limit  Size

	r *os.File
}

func newPipe(writer io.Writer, limit Size) (<-chan struct{}, *os.File, *os.File, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.CopyN(writer, r, int64(limit))
		// ensure no blocking / SIGPIPE on the other end
		io.Copy(io.Discard, r)
		r.Close()
	}()
	return done, r, w, nil
}

// newPipeBuffer collects at most limit + 1 bytes so that exceeding the limit
// could be detected without keeping the rest of the stream
func newPipeBuffer(limit Size) (*pipeBuffer, error) {
	buffer := new(bytes.Buffer)
	done, r, w, err := newPipe(buffer, limit+1)
	if err != nil {
		return nil, err
	}
	return &pipeBuffer{
		W:      w,
		Buffer: buffer,
		Done:   done,
		Limit:  limit,
		r:      r,
	}, nil
}

// Bytes waits the write end to be closed and returns the collected content
// truncated to limit, and whether it was truncated.
// A leaked descendant may still hold the write end, so the read end is
// closed after grace.
func (p *pipeBuffer) Bytes(grace time.Duration) ([]byte, bool) {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.Done:
	case <-timer.C:
		p.r.Close()
		<-p.Done
	}
	b := p.Buffer.Bytes()
	if int64(len(b)) > int64(p.Limit) {
		return b[:p.Limit], true
	}
	return b, false
}
