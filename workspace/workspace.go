// Package workspace allocates the exclusive scratch directory backing one
// execution job.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InputFileName is the file inside the workspace holding stdin
const InputFileName = "stdin.txt"

// ErrResource is returned when the scratch file system could not be used
var ErrResource = errors.New("workspace resource error")

var errUniqueIDNotGenerated = errors.New("unique id does not exists after tried 50 times")

// Manager creates workspaces under a shared scratch root
type Manager struct {
	root   string
	logger *zap.Logger
	active atomic.Int64

	// observer is notified with the number of live workspaces
	observer func(int)

	// uid / gid owning the workspaces, -1 keeps the current user
	uid, gid int
}

// Option configures Manager
type Option func(*Manager)

// WithObserver sets the function called whenever the live count changes
func WithObserver(f func(active int)) Option {
	return func(m *Manager) {
		m.observer = f
	}
}

// WithOwner sets the owner of created workspaces, used when programs run as
// a different user than the server
func WithOwner(uid, gid int) Option {
	return func(m *Manager) {
		m.uid, m.gid = uid, gid
	}
}

// NewManager creates the scratch root if needed and checks it is writable
func NewManager(root string, logger *zap.Logger, opts ...Option) (*Manager, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create scratch root %s: %v", ErrResource, root, err)
	}
	f, err := os.CreateTemp(root, ".probe")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch root %s is not writable: %v", ErrResource, root, err)
	}
	f.Close()
	os.Remove(f.Name())

	if fi, err := os.Stat(root); err == nil && fi.Mode().Perm()&0o077 != 0 {
		logger.Warn("Scratch root is accessible by other users", zap.String("dir", root), zap.Stringer("mode", fi.Mode()))
	}

	m := &Manager{
		root:   root,
		logger: logger,
		uid:    -1,
		gid:    -1,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Root returns the scratch root
func (m *Manager) Root() string {
	return m.root
}

// Active returns number of workspaces not yet destroyed
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// Create allocates a fresh exclusively owned directory
func (m *Manager) Create() (*Workspace, error) {
	for range [50]struct{}{} {
		id := uuid.New().String()
		dir := filepath.Join(m.root, id)
		err := os.Mkdir(dir, 0o700)
		if err == nil {
			if m.uid >= 0 || m.gid >= 0 {
				if err := os.Chown(dir, m.uid, m.gid); err != nil {
					os.Remove(dir)
					return nil, fmt.Errorf("%w: chown workspace: %v", ErrResource, err)
				}
			}
			m.observe(m.active.Add(1))
			return &Workspace{
				ID:        id,
				Dir:       dir,
				InputPath: filepath.Join(dir, InputFileName),
				m:         m,
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: create workspace: %v", ErrResource, err)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrResource, errUniqueIDNotGenerated)
}

// Sweep removes workspace directories under the scratch root, other entries
// are kept. It is meant to be called at start up, before any workspace is
// created, to remove directories left by a crashed process.
func (m *Manager) Sweep() (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrResource, err)
	}
	count := 0
	for _, e := range entries {
		if !isWorkspaceName(e) {
			continue
		}
		if err := forceRemove(filepath.Join(m.root, e.Name())); err != nil {
			return count, fmt.Errorf("%w: %v", ErrResource, err)
		}
		count++
	}
	return count, nil
}

// isWorkspaceName reports whether e is a directory named by Create
func isWorkspaceName(e fs.DirEntry) bool {
	if !e.IsDir() {
		return false
	}
	id, err := uuid.Parse(e.Name())
	return err == nil && id.String() == e.Name()
}

func (m *Manager) observe(active int64) {
	if m.observer != nil {
		m.observer(int(active))
	}
}

// Workspace is the scratch directory of a single job
type Workspace struct {
	ID         string
	Dir        string
	SourcePath string
	InputPath  string
	BinaryPath string // empty for interpreted languages

	m       *Manager
	once    sync.Once
	destroy error
}

// Path returns the path of name inside the workspace
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// WriteSource writes the source code verbatim into name
func (w *Workspace) WriteSource(name string, code []byte) (string, error) {
	p, err := w.write(name, code)
	if err != nil {
		return "", err
	}
	w.SourcePath = p
	return p, nil
}

// WriteInput writes stdin verbatim into the input file
func (w *Workspace) WriteInput(stdin []byte) (string, error) {
	return w.write(InputFileName, stdin)
}

func (w *Workspace) write(name string, content []byte) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("workspace: invalid file name %q", name)
	}
	p := w.Path(name)
	if err := os.WriteFile(p, content, 0o644); err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrResource, name, err)
	}
	return p, nil
}

// Destroy removes the directory and all contents. It is safe to call more
// than once and returns the error of the first call.
func (w *Workspace) Destroy() error {
	w.once.Do(func() {
		w.destroy = forceRemove(w.Dir)
		w.m.observe(w.m.active.Add(-1))
		if w.destroy != nil {
			w.m.logger.Error("Failed to destroy workspace", zap.String("dir", w.Dir), zap.Error(w.destroy))
		}
	})
	return w.destroy
}

// forceRemove removes dir, restoring permissions the program may have dropped
// on its own files if the first attempt fails
func forceRemove(dir string) error {
	if err := os.RemoveAll(dir); err == nil {
		return nil
	}
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			os.Chmod(p, 0o700)
		}
		return nil
	})
	return os.RemoveAll(dir)
}
