package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/hostdeploy/pkg/shell"
)

var errFailure = errors.New("sftp: failure")

// memFS is an in-memory remote file system with SFTP-like error semantics.
type memFS struct {
	mu     sync.Mutex
	dirs   map[string]bool
	files  map[string][]byte
	closed bool

	// Injected failures by path.
	mkdirErr  map[string]error
	removeErr map[string]error
	createErr map[string]error

	mkdirCalls []string
	statCalls  []string
}

func newMemFS(dirs ...string) *memFS {
	m := &memFS{
		dirs:      map[string]bool{"/": true, ".": true},
		files:     make(map[string][]byte),
		mkdirErr:  make(map[string]error),
		removeErr: make(map[string]error),
		createErr: make(map[string]error),
	}
	for _, d := range dirs {
		m.dirs[d] = true
	}
	return m
}

func (m *memFS) Create(p string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.createErr[p]; err != nil {
		return nil, err
	}
	if !m.dirs[path.Dir(p)] {
		return nil, fmt.Errorf("create %s: %w", p, fs.ErrNotExist)
	}
	return &memFile{fs: m, path: p}, nil
}

func (m *memFS) Open(p string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", p, fs.ErrNotExist)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memFS) Mkdir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mkdirCalls = append(m.mkdirCalls, p)

	if err := m.mkdirErr[p]; err != nil {
		return err
	}
	if m.dirs[p] {
		return errFailure
	}
	if _, ok := m.files[p]; ok {
		return errFailure
	}
	if !m.dirs[path.Dir(p)] {
		return fmt.Errorf("mkdir %s: %w", p, fs.ErrNotExist)
	}
	m.dirs[p] = true
	return nil
}

func (m *memFS) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.removeErr[p]; err != nil {
		return err
	}
	if _, ok := m.files[p]; !ok {
		return fmt.Errorf("remove %s: %w", p, fs.ErrNotExist)
	}
	delete(m.files, p)
	return nil
}

func (m *memFS) Stat(p string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statCalls = append(m.statCalls, p)

	if m.dirs[p] {
		return memInfo{name: path.Base(p), dir: true}, nil
	}
	if data, ok := m.files[p]; ok {
		return memInfo{name: path.Base(p), size: int64(len(data))}, nil
	}
	return nil, fmt.Errorf("stat %s: %w", p, fs.ErrNotExist)
}

func (m *memFS) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memFS) file(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	return data, ok
}

func (m *memFS) put(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = data
}

type memFile struct {
	fs   *memFS
	path string
	buf  bytes.Buffer
}

func (f *memFile) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *memFile) Close() error {
	f.fs.put(f.path, bytes.Clone(f.buf.Bytes()))
	return nil
}

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

// fakeExec records commands and answers from a table.
type fakeExec struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]string
	failures map[string]int
	closed   bool
	block    bool
}

func newFakeExec() *fakeExec {
	return &fakeExec{outputs: make(map[string]string), failures: make(map[string]int)}
}

func (e *fakeExec) Execute(ctx context.Context, command string) (string, error) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	block := e.block
	out := e.outputs[command]
	status := e.failures[command]
	e.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if status != 0 {
		return out, &shell.ExitError{Command: command, Status: status, Output: out}
	}
	return out, nil
}

func (e *fakeExec) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *fakeExec) executed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

// closeRecorder records the order in which closers run.
type closeRecorder struct {
	name  string
	order *[]string
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

type orderedFS struct {
	*memFS
	closeRecorder
}

func (o orderedFS) Close() error { return o.closeRecorder.Close() }

type orderedExec struct {
	*fakeExec
	closeRecorder
}

func (o orderedExec) Close() error { return o.closeRecorder.Close() }
