package blob

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and local experimentation.
type Memory struct {
	mu      sync.Mutex
	objects map[string]*memObject

	// Err, when set, is returned by every operation. Tests use it to
	// exercise the provider's failure downgrade paths.
	Err error
}

type memObject struct {
	data         []byte
	metadata     map[string]string
	lastModified time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]*memObject)}
}

// Put seeds an object directly, bypassing the file-based Upload path.
func (m *Memory) Put(name string, data []byte, metadata map[string]string, lastModified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = &memObject{
		data:         append([]byte(nil), data...),
		metadata:     metadata,
		lastModified: lastModified,
	}
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

func (m *Memory) EnsureContainer(ctx context.Context) error {
	return m.Err
}

func (m *Memory) Exists(ctx context.Context, name string) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

func (m *Memory) Properties(ctx context.Context, name string) (Properties, error) {
	if m.Err != nil {
		return Properties{}, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[name]
	if !ok {
		return Properties{}, ErrNotFound
	}
	return Properties{Metadata: obj.metadata, LastModified: obj.lastModified}, nil
}

func (m *Memory) ListPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []Entry
	for name, obj := range m.objects {
		if strings.HasPrefix(name, prefix) {
			entries = append(entries, Entry{Name: name, LastModified: obj.lastModified})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *Memory) Download(ctx context.Context, name, destPath string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	obj, ok := m.objects[name]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return os.WriteFile(destPath, obj.data, 0644)
}

func (m *Memory) Upload(ctx context.Context, name, srcPath string, metadata map[string]string) error {
	if m.Err != nil {
		return m.Err
	}
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = &memObject{
		data:         data,
		metadata:     metadata,
		lastModified: time.Now(),
	}
	return nil
}
