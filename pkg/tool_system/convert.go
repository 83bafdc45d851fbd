package toolsystem

import "google.golang.org/genai"

func schemaType(t JSONType) genai.Type {
	switch t {
	case JSONString:
		return genai.TypeString
	case JSONNumber:
		return genai.TypeNumber
	case JSONBool:
		return genai.TypeBoolean
	case JSONArray:
		return genai.TypeArray
	case JSONObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}

// Declaration converts a spec into the function declaration sent in setup.
func Declaration(spec ToolSpec) *genai.FunctionDeclaration {
	properties := make(map[string]*genai.Schema, len(spec.Args))
	var required []string
	for _, arg := range spec.Args {
		s := &genai.Schema{
			Type:        schemaType(arg.Type),
			Description: arg.Description,
		}
		if arg.Type == JSONArray {
			s.Items = &genai.Schema{Type: schemaType(arg.ItemType), Enum: arg.Enum}
		} else {
			s.Enum = arg.Enum
		}
		properties[arg.Name] = s
		if arg.Required {
			required = append(required, arg.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: properties,
			Required:   required,
		},
	}
}
