package protocol

import (
	"time"

	"google.golang.org/genai"
)

// AskQuestionTool is the only tool call the client answers.
const AskQuestionTool = "ask_question"

type Kind int

// Ordered by match priority.
const (
	KindSetupComplete Kind = iota
	KindInterrupted
	KindAudio
	KindAskQuestion
	KindToolCallCancellation
	KindInputTranscription
	KindOutputTranscription
	KindGenerationComplete
	KindTurnComplete
	KindGoAway
	KindUnhandled
)

var kindNames = [...]string{
	KindSetupComplete:        "setup_complete",
	KindInterrupted:          "interrupted",
	KindAudio:                "audio",
	KindAskQuestion:          "ask_question",
	KindToolCallCancellation: "tool_call_cancellation",
	KindInputTranscription:   "input_transcription",
	KindOutputTranscription:  "output_transcription",
	KindGenerationComplete:   "generation_complete",
	KindTurnComplete:         "turn_complete",
	KindGoAway:               "go_away",
	KindUnhandled:            "unhandled",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Event is the classified form of a ServerMessage.
type Event interface {
	Kind() Kind
}

type SetupComplete struct{}

type Interrupted struct{}

// Audio holds every inline blob of the model turn, base64 encoded.
type Audio struct {
	Blobs []InlineData
}

type AskQuestion struct {
	Call *genai.FunctionCall
}

type ToolCallCancelled struct {
	IDs []string
}

type InputTranscript struct {
	Text string
}

type OutputTranscript struct {
	Text  string
	Final bool
}

type GenerationComplete struct{}

type TurnComplete struct {
	Usage *UsageMetadata
}

type GoingAway struct {
	TimeLeft time.Duration
	Raw      string
}

type Unhandled struct{}

func (SetupComplete) Kind() Kind      { return KindSetupComplete }
func (Interrupted) Kind() Kind        { return KindInterrupted }
func (Audio) Kind() Kind              { return KindAudio }
func (AskQuestion) Kind() Kind        { return KindAskQuestion }
func (ToolCallCancelled) Kind() Kind  { return KindToolCallCancellation }
func (InputTranscript) Kind() Kind    { return KindInputTranscription }
func (OutputTranscript) Kind() Kind   { return KindOutputTranscription }
func (GenerationComplete) Kind() Kind { return KindGenerationComplete }
func (TurnComplete) Kind() Kind       { return KindTurnComplete }
func (GoingAway) Kind() Kind          { return KindGoAway }
func (Unhandled) Kind() Kind          { return KindUnhandled }

// Classify maps a frame to exactly one event. The first matching rule wins,
// so a frame carrying audio and a transcript is classified as audio.
func Classify(msg *ServerMessage) Event {
	if msg == nil {
		return Unhandled{}
	}
	sc := msg.ServerContent

	if msg.SetupComplete != nil {
		return SetupComplete{}
	}
	if sc != nil && sc.Interrupted {
		return Interrupted{}
	}
	if sc != nil && sc.ModelTurn != nil {
		var blobs []InlineData
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil {
				blobs = append(blobs, *p.InlineData)
			}
		}
		if len(blobs) > 0 {
			return Audio{Blobs: blobs}
		}
	}
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 &&
		tc.FunctionCalls[0] != nil && tc.FunctionCalls[0].Name == AskQuestionTool {
		return AskQuestion{Call: tc.FunctionCalls[0]}
	}
	if msg.ToolCallCancellation != nil {
		return ToolCallCancelled{IDs: msg.ToolCallCancellation.IDs}
	}
	if sc != nil && sc.InputTranscription != nil {
		return InputTranscript{Text: sc.InputTranscription.Text}
	}
	if sc != nil && sc.OutputTranscription != nil {
		t := sc.OutputTranscription
		return OutputTranscript{Text: t.Text, Final: t.IsFinal || t.Finished}
	}
	if sc != nil && sc.GenerationComplete {
		return GenerationComplete{}
	}
	if sc != nil && sc.TurnComplete {
		return TurnComplete{Usage: msg.UsageMetadata}
	}
	if msg.GoAway != nil {
		left, _ := time.ParseDuration(msg.GoAway.TimeLeft)
		return GoingAway{TimeLeft: left, Raw: msg.GoAway.TimeLeft}
	}
	return Unhandled{}
}
