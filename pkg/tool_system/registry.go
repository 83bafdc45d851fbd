package toolsystem

import (
	"fmt"
	"sort"
	"sync"

	"google.golang.org/genai"
)

type Registry interface {
	Register(t ToolSpec) error
	Get(name string) (ToolSpec, bool)
	List() []ToolSpec
	// Tools returns every declaration, ordered by name, as one genai tool.
	Tools() []*genai.Tool
}

type memoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolSpec
}

// Get implements Registry.
func (m *memoryRegistry) Get(name string) (ToolSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tool, exist := m.tools[name]
	return tool, exist
}

// List implements Registry.
func (m *memoryRegistry) List() []ToolSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ToolSpec, 0, len(m.tools))
	for _, tool := range m.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tools implements Registry.
func (m *memoryRegistry) Tools() []*genai.Tool {
	specs := m.List()
	if len(specs) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, s := range specs {
		decls = append(decls, Declaration(s))
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// Register implements Registry.
func (m *memoryRegistry) Register(t ToolSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tools[t.Name]; exists {
		return fmt.Errorf("tool with id %s exists", GetToolId(t))
	}
	m.tools[t.Name] = t
	return nil
}

func NewMemoryRegistry() Registry {
	return &memoryRegistry{
		tools: make(map[string]ToolSpec),
	}
}

func GetToolId(t ToolSpec) string {
	return fmt.Sprintf("cx_t:%s:%s", t.Name, t.Version)
}
