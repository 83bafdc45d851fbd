// Package instructions loads system instruction documents and scopes them to
// the tables or explore a single question touches.
package instructions

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xpanvictor/cortado/pkg/Logger"
	"gopkg.in/yaml.v3"
)

const (
	KeySystemDescription      = "system_description"
	KeyTables                 = "tables"
	KeyGlossaries             = "glossaries"
	KeyCoreRelationships      = "core_relationships"
	KeyAdditionalInstructions = "additional_instructions"
)

var ErrNotMapping = errors.New("instructions: document is not a YAML mapping")

// Document is a parsed system instruction. Trimming never mutates it.
type Document struct {
	raw string
}

// Parse checks that text is a YAML mapping.
func Parse(text string) (*Document, error) {
	if _, err := parseRoot(text); err != nil {
		return nil, err
	}
	return &Document{raw: text}, nil
}

func (d *Document) String() string { return d.raw }

func parseRoot(text string) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, ErrNotMapping
	}
	return &doc, nil
}

// keep reports whether an entry of the named list survives trimming.
type keepFunc func(list string, entry *yaml.Node) (bool, error)

var filteredLists = []string{KeyTables, KeyGlossaries, KeyCoreRelationships, KeyAdditionalInstructions}

func (d *Document) trim(keep keepFunc, logger *Logger.Logger) (string, error) {
	doc, err := parseRoot(d.raw)
	if err != nil {
		return "", err
	}
	logger = Logger.OrNop(logger)
	root := doc.Content[0]

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i].Value, root.Content[i+1]
		if !isFiltered(key) {
			continue
		}
		if value.Kind != yaml.SequenceNode {
			logger.Warnf("instructions: %s is not a list, dropping it", key)
			value.Kind = yaml.SequenceNode
			value.Tag = "!!seq"
			value.Value = ""
			value.Content = nil
			continue
		}
		kept := value.Content[:0]
		for idx, entry := range value.Content {
			ok, err := keep(key, entry)
			if err != nil {
				logger.Warnf("instructions: dropping malformed %s[%d]: %v", key, idx, err)
				continue
			}
			if ok {
				kept = append(kept, entry)
			}
		}
		value.Content = kept
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode trimmed instructions: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode trimmed instructions: %w", err)
	}
	return buf.String(), nil
}

func isFiltered(key string) bool {
	for _, k := range filteredLists {
		if k == key {
			return true
		}
	}
	return false
}

type tableEntry struct {
	TableName string `yaml:"table_name"`
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
	TableID   string `yaml:"table_id"`
}

func (t tableEntry) fullName() string {
	if t.TableName != "" {
		return t.TableName
	}
	if t.ProjectID == "" || t.DatasetID == "" || t.TableID == "" {
		return ""
	}
	return t.ProjectID + "." + t.DatasetID + "." + t.TableID
}

type linkedEntry struct {
	Tables     []string `yaml:"tables"`
	LeftTable  string   `yaml:"left_table"`
	RightTable string   `yaml:"right_table"`
}

// TrimToTables keeps system_description, the allowed tables and every linked
// entry that references at least one allowed table.
func (d *Document) TrimToTables(allowed []string, logger *Logger.Logger) (string, error) {
	set := make(map[string]struct{}, len(allowed))
	for _, t := range allowed {
		set[strings.TrimSpace(t)] = struct{}{}
	}
	has := func(name string) bool {
		_, ok := set[strings.TrimSpace(name)]
		return ok
	}

	return d.trim(func(list string, entry *yaml.Node) (bool, error) {
		if entry.Kind != yaml.MappingNode {
			return false, fmt.Errorf("entry is not a mapping")
		}
		if list == KeyTables {
			var t tableEntry
			if err := entry.Decode(&t); err != nil {
				return false, err
			}
			name := t.fullName()
			if name == "" {
				return false, fmt.Errorf("table has no fully qualified name")
			}
			return has(name), nil
		}

		var l linkedEntry
		if err := entry.Decode(&l); err != nil {
			return false, err
		}
		if list == KeyCoreRelationships {
			if l.LeftTable == "" && l.RightTable == "" {
				return false, fmt.Errorf("relationship names no tables")
			}
			return has(l.LeftTable) || has(l.RightTable), nil
		}
		if len(l.Tables) == 0 {
			return false, fmt.Errorf("entry names no tables")
		}
		for _, t := range l.Tables {
			if has(t) {
				return true, nil
			}
		}
		return false, nil
	}, logger)
}

type exploreEntry struct {
	ExploreName *string `yaml:"explore_name"`
}

// TrimToExplore keeps entries for the explore plus entries that name none.
func (d *Document) TrimToExplore(explore string, logger *Logger.Logger) (string, error) {
	return d.trim(func(_ string, entry *yaml.Node) (bool, error) {
		if entry.Kind != yaml.MappingNode {
			return false, fmt.Errorf("entry is not a mapping")
		}
		var e exploreEntry
		if err := entry.Decode(&e); err != nil {
			return false, err
		}
		if e.ExploreName == nil {
			return true, nil
		}
		return *e.ExploreName == explore, nil
	}, logger)
}
