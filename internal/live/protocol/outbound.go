package protocol

import (
	"strings"

	"google.golang.org/genai"
)

// Outbound is one of Setup, ClientContent or RealtimeInput.
type Outbound interface {
	FrameName() string
}

type SetupParams struct {
	Model             string
	Voice             string
	Language          string
	SilenceDurationMs int
	SystemInstruction string
	Tools             []*genai.Tool
}

type Setup struct {
	Setup SetupBody `json:"setup"`
}

type SetupBody struct {
	Model                    string               `json:"model"`
	GenerationConfig         GenerationConfig     `json:"generationConfig"`
	SystemInstruction        *genai.Content       `json:"systemInstruction,omitempty"`
	Tools                    []*genai.Tool        `json:"tools,omitempty"`
	RealtimeInputConfig      *RealtimeInputConfig `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *struct{}            `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}            `json:"outputAudioTranscription,omitempty"`
}

type GenerationConfig struct {
	ResponseModalities []genai.Modality `json:"responseModalities"`
	SpeechConfig       *SpeechConfig    `json:"speechConfig,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig  VoiceConfig `json:"voiceConfig"`
	LanguageCode string      `json:"languageCode,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type RealtimeInputConfig struct {
	AutomaticActivityDetection ActivityDetection `json:"automaticActivityDetection"`
}

type ActivityDetection struct {
	SilenceDurationMs int `json:"silenceDurationMs,omitempty"`
}

func (Setup) FrameName() string { return "setup" }

// ModelPath prefixes bare model ids with models/.
func ModelPath(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func NewSetup(p SetupParams) Setup {
	body := SetupBody{
		Model: ModelPath(p.Model),
		GenerationConfig: GenerationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
			SpeechConfig: &SpeechConfig{
				VoiceConfig:  VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: p.Voice}},
				LanguageCode: p.Language,
			},
		},
		Tools:                    p.Tools,
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if p.SystemInstruction != "" {
		body.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: p.SystemInstruction}}}
	}
	if p.SilenceDurationMs > 0 {
		body.RealtimeInputConfig = &RealtimeInputConfig{
			AutomaticActivityDetection: ActivityDetection{SilenceDurationMs: p.SilenceDurationMs},
		}
	}
	return Setup{Setup: body}
}

// ClientContent carries one completed user text turn.
type ClientContent struct {
	ClientContent ClientContentBody `json:"clientContent"`
}

type ClientContentBody struct {
	Turns        []*genai.Content `json:"turns"`
	TurnComplete bool             `json:"turnComplete"`
}

func (ClientContent) FrameName() string { return "clientContent" }

func NewClientContent(text string) ClientContent {
	return ClientContent{ClientContent: ClientContentBody{
		Turns: []*genai.Content{{
			Role:  string(genai.RoleUser),
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: true,
	}}
}

// Text returns the concatenated text of every turn.
func (c ClientContent) Text() string {
	var b strings.Builder
	for _, turn := range c.ClientContent.Turns {
		for _, part := range turn.Parts {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// RealtimeInput carries one base64 PCM chunk.
type RealtimeInput struct {
	RealtimeInput RealtimeInputBody `json:"realtimeInput"`
}

type RealtimeInputBody struct {
	MediaChunks []MediaChunk `json:"mediaChunks"`
}

type MediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

func (RealtimeInput) FrameName() string { return "realtimeInput" }

func NewRealtimeInput(mimeType, data string) RealtimeInput {
	return RealtimeInput{RealtimeInput: RealtimeInputBody{
		MediaChunks: []MediaChunk{{MIMEType: mimeType, Data: data}},
	}}
}
