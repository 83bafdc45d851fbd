// Package ui defines the callbacks the live session drives. Implementations
// are called from the socket reader and tool-call goroutines concurrently.
package ui

import (
	"encoding/json"

	"github.com/xpanvictor/cortado/pkg/Logger"
)

type Role string

const (
	RoleQuestion Role = "question"
	RoleResponse Role = "response"
)

// User is the signed-in person asking questions.
type User struct {
	Email     string
	AvatarURL string
}

// Message is one transcript entry as the UI sees it.
type Message struct {
	ID    int
	Role  Role
	Text  string
	Final bool
	// Avatar is set on questions when the user has one.
	Avatar string
}

type Adapter interface {
	AppendQuestion(msg Message)
	UpdateQuestion(msg Message)
	AppendAnswer(msg Message)
	UpdateAnswer(msg Message)
	// AppendProgress receives raw agent stream objects that are not answers.
	AppendProgress(chunk json.RawMessage)
	SetLoading(loading bool)
	SetStatus(status string)
	SetError(message string)
}

// Nop ignores every callback.
type Nop struct{}

func (Nop) AppendQuestion(Message)         {}
func (Nop) UpdateQuestion(Message)         {}
func (Nop) AppendAnswer(Message)           {}
func (Nop) UpdateAnswer(Message)           {}
func (Nop) AppendProgress(json.RawMessage) {}
func (Nop) SetLoading(bool)                {}
func (Nop) SetStatus(string)               {}
func (Nop) SetError(string)                {}

// Logging renders callbacks as log lines for the terminal front-end.
type Logging struct {
	logger *Logger.Logger
}

func NewLogging(logger *Logger.Logger) *Logging {
	return &Logging{logger: Logger.OrNop(logger).Named("ui")}
}

func (l *Logging) AppendQuestion(msg Message) {
	if msg.Avatar != "" {
		l.logger.With("avatar", msg.Avatar).Infof("you: %s", msg.Text)
		return
	}
	l.logger.Infof("you: %s", msg.Text)
}

func (l *Logging) UpdateQuestion(msg Message) { l.logger.Debugf("you (%d): %s", msg.ID, msg.Text) }

func (l *Logging) AppendAnswer(msg Message) { l.logger.Debugf("model (%d): %s", msg.ID, msg.Text) }

func (l *Logging) UpdateAnswer(msg Message) {
	if msg.Final {
		l.logger.Infof("model: %s", msg.Text)
		return
	}
	l.logger.Debugf("model (%d): %s", msg.ID, msg.Text)
}

func (l *Logging) AppendProgress(chunk json.RawMessage) {
	l.logger.Debugf("agent progress: %s", string(chunk))
}

func (l *Logging) SetLoading(loading bool) { l.logger.Debugf("loading=%t", loading) }

func (l *Logging) SetStatus(status string) { l.logger.Infof("status: %s", status) }

func (l *Logging) SetError(message string) { l.logger.Errorf("error: %s", message) }
