package toolcall

import (
	"bytes"
	"encoding/json"
	"strings"
)

type chunkKind int

const (
	chunkFinal chunkKind = iota
	chunkIntermediate
	chunkError
	chunkDefault
)

type streamChunk struct {
	SystemMessage *systemMessage `json:"systemMessage"`
	Error         *streamError   `json:"error"`
}

type systemMessage struct {
	Text     *textMessage    `json:"text"`
	Schema   json.RawMessage `json:"schema"`
	Data     json.RawMessage `json:"data"`
	Chart    json.RawMessage `json:"chart"`
	Analysis json.RawMessage `json:"analysis"`
}

type textMessage struct {
	Parts []string `json:"parts"`
}

type streamError struct {
	Message string `json:"message"`
}

// classified is one parsed line of the agent stream.
type classified struct {
	kind   chunkKind
	text   string // final and error answers
	status string // intermediate progress label
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// classifyLine decodes one NDJSON line. Only invalid JSON is an error.
func classifyLine(line []byte) (classified, error) {
	var c streamChunk
	if err := json.Unmarshal(line, &c); err != nil {
		return classified{}, err
	}
	if sm := c.SystemMessage; sm != nil {
		if sm.Text != nil && sm.Text.Parts != nil {
			return classified{kind: chunkFinal, text: strings.Join(sm.Text.Parts, " ")}, nil
		}
		switch {
		case present(sm.Schema):
			return classified{kind: chunkIntermediate, status: "Retrieving schema..."}, nil
		case present(sm.Data):
			return classified{kind: chunkIntermediate, status: "Retrieving data..."}, nil
		case present(sm.Chart):
			return classified{kind: chunkIntermediate, status: "Generating chart..."}, nil
		case present(sm.Analysis):
			return classified{kind: chunkIntermediate, status: "Running analysis..."}, nil
		}
	}
	if c.Error != nil && c.Error.Message != "" {
		return classified{kind: chunkError, text: c.Error.Message}, nil
	}
	return classified{kind: chunkDefault}, nil
}
