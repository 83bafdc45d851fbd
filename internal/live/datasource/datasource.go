// Package datasource describes what the analytics agent may query: a set of
// BigQuery tables or a single Looker explore.
package datasource

import (
	"errors"
	"fmt"
	"strings"
)

type TableRef struct {
	ProjectID string `json:"projectId"`
	DatasetID string `json:"datasetId"`
	TableID   string `json:"tableId"`
}

// FullName is project.dataset.table.
func (t TableRef) FullName() string {
	return t.ProjectID + "." + t.DatasetID + "." + t.TableID
}

// ParseTable splits a fully qualified table name.
func ParseTable(fqn string) (TableRef, error) {
	parts := strings.Split(strings.TrimSpace(fqn), ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TableRef{}, fmt.Errorf("table %q is not project.dataset.table", fqn)
	}
	return TableRef{ProjectID: parts[0], DatasetID: parts[1], TableID: parts[2]}, nil
}

type ExploreRef struct {
	LookerInstanceURI string `json:"lookerInstanceUri"`
	LookMLModel       string `json:"lookmlModel"`
	Explore           string `json:"explore"`
}

// Descriptor is the session's selected datasource. Exactly one of Tables or
// Explore is set.
type Descriptor struct {
	Tables  []TableRef
	Explore *ExploreRef
}

var ErrEmpty = errors.New("datasource: no tables or explore configured")

func FromTables(names []string) (Descriptor, error) {
	d := Descriptor{}
	for _, n := range names {
		ref, err := ParseTable(n)
		if err != nil {
			return Descriptor{}, err
		}
		d.Tables = append(d.Tables, ref)
	}
	if len(d.Tables) == 0 {
		return Descriptor{}, ErrEmpty
	}
	return d, nil
}

func FromExplore(instanceURI, model, explore string) (Descriptor, error) {
	if model == "" || explore == "" {
		return Descriptor{}, fmt.Errorf("%w: looker model and explore are both required", ErrEmpty)
	}
	return Descriptor{Explore: &ExploreRef{
		LookerInstanceURI: instanceURI,
		LookMLModel:       model,
		Explore:           explore,
	}}, nil
}

func (d Descriptor) IsLooker() bool { return d.Explore != nil }

func (d Descriptor) TableNames() []string {
	out := make([]string, 0, len(d.Tables))
	for _, t := range d.Tables {
		out = append(out, t.FullName())
	}
	return out
}

// Select narrows the table set to the named tables. Names outside the
// descriptor are ignored; if nothing survives, every table is kept.
func (d Descriptor) Select(names []string) Descriptor {
	if d.IsLooker() || len(names) == 0 {
		return d
	}
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[strings.TrimSpace(n)] = struct{}{}
	}
	var picked []TableRef
	for _, t := range d.Tables {
		if _, ok := want[t.FullName()]; ok {
			picked = append(picked, t)
		}
	}
	if len(picked) == 0 {
		return d
	}
	return Descriptor{Tables: picked}
}

// References is the datasourceReferences body sent to the agent.
type References struct {
	BigQuery *BigQueryReferences `json:"bq,omitempty"`
	Looker   *LookerReferences   `json:"looker,omitempty"`
}

type BigQueryReferences struct {
	TableReferences []TableRef `json:"tableReferences"`
}

type LookerReferences struct {
	ExploreReferences []ExploreRef `json:"exploreReferences"`
}

func (d Descriptor) References() References {
	if d.IsLooker() {
		return References{Looker: &LookerReferences{ExploreReferences: []ExploreRef{*d.Explore}}}
	}
	return References{BigQuery: &BigQueryReferences{TableReferences: d.Tables}}
}
