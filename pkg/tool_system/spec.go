package toolsystem

type JSONType string

const (
	JSONString JSONType = "string"
	JSONNumber JSONType = "number"
	JSONObject JSONType = "object"
	JSONArray  JSONType = "array"
	JSONBool   JSONType = "boolean"
)

type ArgSpec struct {
	Name        string
	Type        JSONType
	Description string
	Required    bool
	Enum        []string
	// ItemType is the element type of array arguments.
	ItemType JSONType
}

// ToolSpec is a function the live model may call.
type ToolSpec struct {
	Name        string
	Version     string
	Description string
	Args        []ArgSpec
	Tags        []string
}

func (s ToolSpec) Arg(name string) (ArgSpec, bool) {
	for _, a := range s.Args {
		if a.Name == name {
			return a, true
		}
	}
	return ArgSpec{}, false
}
