package fs

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// Op names a port operation for fault injection.
type Op string

const (
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpExists Op = "exists"
	OpMkdir  Op = "mkdir"
	OpDelete Op = "delete"
)

// Memory is an in-memory file system port. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	files  map[string]string
	dirs   map[string]struct{}
	faults map[string]error
	calls  []string
}

// NewMemory creates an empty in-memory port.
func NewMemory() *Memory {
	return &Memory{
		files:  make(map[string]string),
		dirs:   make(map[string]struct{}),
		faults: make(map[string]error),
	}
}

// Fail makes every future op on p return err. A nil err clears the fault.
func (m *Memory) Fail(op Op, p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := faultKey(op, clean(p))
	if err == nil {
		delete(m.faults, key)
		return
	}
	m.faults[key] = err
}

// Files returns a copy of the stored files.
func (m *Memory) Files() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out
}

// Dirs returns the created directories, sorted.
func (m *Memory) Dirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.dirs))
	for d := range m.dirs {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Calls returns the recorded "op path" log in call order.
func (m *Memory) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *Memory) ReadFile(_ context.Context, p string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.enter(OpRead, p); err != nil {
		return "", err
	}
	content, ok := m.files[p]
	if !ok {
		return "", &os.PathError{Op: "read", Path: p, Err: os.ErrNotExist}
	}
	return content, nil
}

func (m *Memory) WriteFile(_ context.Context, p, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.enter(OpWrite, p); err != nil {
		return err
	}
	if dir := path.Dir(p); dir != "." {
		if _, ok := m.dirs[dir]; !ok {
			return &os.PathError{Op: "write", Path: p, Err: os.ErrNotExist}
		}
	}
	m.files[p] = content
	return nil
}

func (m *Memory) Exists(_ context.Context, p string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.enter(OpExists, p); err != nil {
		return false, err
	}
	if _, ok := m.files[p]; ok {
		return true, nil
	}
	_, ok := m.dirs[p]
	return ok, nil
}

func (m *Memory) Mkdir(_ context.Context, p string, recursive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.enter(OpMkdir, p); err != nil {
		return err
	}
	if !recursive {
		if parent := path.Dir(p); parent != "." {
			if _, ok := m.dirs[parent]; !ok {
				return &os.PathError{Op: "mkdir", Path: p, Err: os.ErrNotExist}
			}
		}
		m.dirs[p] = struct{}{}
		return nil
	}
	for dir := p; dir != "." && dir != "/"; dir = path.Dir(dir) {
		m.dirs[dir] = struct{}{}
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = clean(p)
	if err := m.enter(OpDelete, p); err != nil {
		return err
	}
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if _, ok := m.dirs[p]; ok {
		delete(m.dirs, p)
		return nil
	}
	return &os.PathError{Op: "remove", Path: p, Err: os.ErrNotExist}
}

// enter records the call and returns any injected fault. Caller holds mu.
func (m *Memory) enter(op Op, p string) error {
	m.calls = append(m.calls, fmt.Sprintf("%s %s", op, p))
	return m.faults[faultKey(op, p)]
}

func faultKey(op Op, p string) string {
	return string(op) + "\x00" + p
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean(p), "./")
}
