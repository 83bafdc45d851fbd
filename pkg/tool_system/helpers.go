package toolsystem

import (
	"fmt"
)

// ToolBuilder helps create tools with a fluent interface
type ToolBuilder struct {
	spec ToolSpec
	errs []error
}

// NewToolBuilder creates a new tool builder
func NewToolBuilder(name, version, description string) *ToolBuilder {
	return &ToolBuilder{spec: ToolSpec{
		Name:        name,
		Version:     version,
		Description: description,
	}}
}

// AddParameter adds a parameter to the tool
func (tb *ToolBuilder) AddParameter(arg ArgSpec) *ToolBuilder {
	if _, dup := tb.spec.Arg(arg.Name); dup {
		tb.errs = append(tb.errs, fmt.Errorf("parameter %s declared twice", arg.Name))
		return tb
	}
	tb.spec.Args = append(tb.spec.Args, arg)
	return tb
}

// AddStringParameter adds a string parameter
func (tb *ToolBuilder) AddStringParameter(name, description string, required bool, enum ...string) *ToolBuilder {
	return tb.AddParameter(ArgSpec{Name: name, Type: JSONString, Description: description, Required: required, Enum: enum})
}

// AddArrayParameter adds an array parameter whose items may be limited to enum.
func (tb *ToolBuilder) AddArrayParameter(name, description string, required bool, itemType JSONType, enum ...string) *ToolBuilder {
	return tb.AddParameter(ArgSpec{Name: name, Type: JSONArray, Description: description, Required: required, ItemType: itemType, Enum: enum})
}

// AddTags adds tags to the tool
func (tb *ToolBuilder) AddTags(tags ...string) *ToolBuilder {
	tb.spec.Tags = append(tb.spec.Tags, tags...)
	return tb
}

// Build creates the final ToolSpec
func (tb *ToolBuilder) Build() (ToolSpec, error) {
	if tb.spec.Name == "" {
		return ToolSpec{}, fmt.Errorf("tool name is required")
	}
	if len(tb.errs) > 0 {
		return ToolSpec{}, fmt.Errorf("tool %s: %w", tb.spec.Name, tb.errs[0])
	}
	return tb.spec, nil
}

// BuildAndRegister creates the tool and registers it to the registry
func (tb *ToolBuilder) BuildAndRegister(registry Registry) error {
	spec, err := tb.Build()
	if err != nil {
		return err
	}
	return registry.Register(spec)
}
