package protocol

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// ServerMessage is the decoded form of every inbound socket frame.
type ServerMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete,omitempty"`
	ServerContent        *ServerContent        `json:"serverContent,omitempty"`
	ToolCall             *ToolCall             `json:"toolCall,omitempty"`
	ToolCallCancellation *ToolCallCancellation `json:"toolCallCancellation,omitempty"`
	GoAway               *GoAway               `json:"goAway,omitempty"`
	UsageMetadata        *UsageMetadata        `json:"usageMetadata,omitempty"`
}

type ServerContent struct {
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

type ModelTurn struct {
	Parts []Part `json:"parts,omitempty"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type InlineData struct {
	MIMEType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"` // base64
}

// Transcription accepts both spellings of the final marker.
type Transcription struct {
	Text     string `json:"text,omitempty"`
	IsFinal  bool   `json:"isFinal,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

type ToolCall struct {
	FunctionCalls []*genai.FunctionCall `json:"functionCalls,omitempty"`
}

type ToolCallCancellation struct {
	IDs []string `json:"ids,omitempty"`
}

type GoAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount   int `json:"promptTokenCount,omitempty"`
	ResponseTokenCount int `json:"responseTokenCount,omitempty"`
	TotalTokenCount    int `json:"totalTokenCount,omitempty"`
}

func (u *UsageMetadata) String() string {
	if u == nil {
		return "n/a"
	}
	return fmt.Sprintf("prompt=%d response=%d total=%d", u.PromptTokenCount, u.ResponseTokenCount, u.TotalTokenCount)
}

// Decode parses one inbound frame. Text and binary frames carry the same JSON.
func Decode(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	return &msg, nil
}
