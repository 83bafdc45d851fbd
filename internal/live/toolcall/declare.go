package toolcall

import (
	"fmt"
	"strings"

	"github.com/xpanvictor/cortado/internal/live/datasource"
	"github.com/xpanvictor/cortado/internal/live/protocol"
	toolsystem "github.com/xpanvictor/cortado/pkg/tool_system"
	"google.golang.org/genai"
)

const (
	ArgQuestion = "question"
	ArgTables   = "tables"
)

// askQuestion declares ask_question for the session's datasource. Table
// based sources let the model name the tables it needs.
func askQuestion(ds datasource.Descriptor) *toolsystem.ToolBuilder {
	if ds.IsLooker() {
		return toolsystem.NewToolBuilder(protocol.AskQuestionTool, "1",
			fmt.Sprintf("Ask the analytics agent a data question about the Looker explore %q in model %q. "+
				"Use it for anything that needs numbers from the data.", ds.Explore.Explore, ds.Explore.LookMLModel)).
			AddStringParameter(ArgQuestion, "The question to answer, self contained and in plain language.", true).
			AddTags("analytics", "looker")
	}

	names := ds.TableNames()
	return toolsystem.NewToolBuilder(protocol.AskQuestionTool, "1",
		"Ask the analytics agent a data question over these BigQuery tables: "+strings.Join(names, ", ")+
			". Use it for anything that needs numbers from the data.").
		AddStringParameter(ArgQuestion, "The question to answer, self contained and in plain language.", true).
		AddArrayParameter(ArgTables, "Fully qualified tables the question needs.", true, toolsystem.JSONString, names...).
		AddTags("analytics", "bigquery")
}

// Tools registers ask_question and returns the declarations for setup.
func Tools(ds datasource.Descriptor) ([]*genai.Tool, error) {
	reg := toolsystem.NewMemoryRegistry()
	if err := askQuestion(ds).BuildAndRegister(reg); err != nil {
		return nil, err
	}
	return reg.Tools(), nil
}

// Args is the decoded argument set of one ask_question call.
type Args struct {
	Question string
	Tables   []string
}

func ParseArgs(raw map[string]any) (Args, error) {
	q, _ := raw[ArgQuestion].(string)
	if strings.TrimSpace(q) == "" {
		return Args{}, fmt.Errorf("ask_question: missing %s", ArgQuestion)
	}
	args := Args{Question: q}
	switch tables := raw[ArgTables].(type) {
	case []any:
		for _, t := range tables {
			if s, ok := t.(string); ok && s != "" {
				args.Tables = append(args.Tables, s)
			}
		}
	case []string:
		args.Tables = append(args.Tables, tables...)
	case string:
		if tables != "" {
			args.Tables = []string{tables}
		}
	}
	return args, nil
}
