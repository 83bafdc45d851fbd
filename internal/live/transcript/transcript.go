// Package transcript keeps the question/response log of a session. Responses
// grow fragment by fragment until they are frozen; at most one is open.
package transcript

import (
	"sync"

	"github.com/xpanvictor/cortado/internal/live/ui"
)

const none = -1

type Log struct {
	adapter ui.Adapter
	avatar  string

	mu           sync.Mutex
	messages     []ui.Message
	openQuestion int
	openResponse int
}

type Option func(*Log)

// WithAvatar tags every question with the user's avatar.
func WithAvatar(url string) Option {
	return func(l *Log) { l.avatar = url }
}

func New(adapter ui.Adapter, opts ...Option) *Log {
	if adapter == nil {
		adapter = ui.Nop{}
	}
	l := &Log{adapter: adapter, openQuestion: none, openResponse: none}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type notify func()

func (l *Log) run(calls []notify) {
	for _, c := range calls {
		c()
	}
}

func (l *Log) add(role ui.Role, text string, final bool) int {
	msg := ui.Message{
		ID:    len(l.messages),
		Role:  role,
		Text:  text,
		Final: final,
	}
	if role == ui.RoleQuestion {
		msg.Avatar = l.avatar
	}
	l.messages = append(l.messages, msg)
	return len(l.messages) - 1
}

func (l *Log) freezeResponse() []notify {
	if l.openResponse == none {
		return nil
	}
	l.messages[l.openResponse].Final = true
	msg := l.messages[l.openResponse]
	l.openResponse = none
	return []notify{func() { l.adapter.UpdateAnswer(msg) }}
}

func (l *Log) closeQuestion() []notify {
	if l.openQuestion == none {
		return nil
	}
	l.messages[l.openQuestion].Final = true
	msg := l.messages[l.openQuestion]
	l.openQuestion = none
	return []notify{func() { l.adapter.UpdateQuestion(msg) }}
}

// Ask records a typed question. It is complete on arrival.
func (l *Log) Ask(text string) ui.Message {
	l.mu.Lock()
	calls := l.freezeResponse()
	calls = append(calls, l.closeQuestion()...)
	msg := l.messages[l.add(ui.RoleQuestion, text, true)]
	calls = append(calls, func() { l.adapter.AppendQuestion(msg) })
	l.mu.Unlock()

	l.run(calls)
	return msg
}

// Hear grows the spoken question with an input transcription fragment.
func (l *Log) Hear(fragment string) {
	l.mu.Lock()
	calls := l.freezeResponse()
	if l.openQuestion == none {
		l.openQuestion = l.add(ui.RoleQuestion, fragment, false)
		msg := l.messages[l.openQuestion]
		calls = append(calls, func() { l.adapter.AppendQuestion(msg) })
	} else {
		l.messages[l.openQuestion].Text += fragment
		msg := l.messages[l.openQuestion]
		calls = append(calls, func() { l.adapter.UpdateQuestion(msg) })
	}
	l.mu.Unlock()

	l.run(calls)
}

// Respond grows the open response with an output transcription fragment,
// starting one if none is open. final freezes it.
func (l *Log) Respond(fragment string, final bool) {
	l.mu.Lock()
	calls := l.closeQuestion()
	if l.openResponse == none {
		idx := l.add(ui.RoleResponse, fragment, final)
		msg := l.messages[idx]
		if !final {
			l.openResponse = idx
		}
		calls = append(calls, func() { l.adapter.AppendAnswer(msg) })
	} else {
		l.messages[l.openResponse].Text += fragment
		if final {
			calls = append(calls, l.freezeResponse()...)
		} else {
			msg := l.messages[l.openResponse]
			calls = append(calls, func() { l.adapter.UpdateAnswer(msg) })
		}
	}
	l.mu.Unlock()

	l.run(calls)
}

// Replace sets the open response's text. forceNew freezes the current
// response first and starts a fresh one.
func (l *Log) Replace(text string, forceNew bool) {
	l.mu.Lock()
	calls := l.closeQuestion()
	if forceNew {
		calls = append(calls, l.freezeResponse()...)
	}
	if l.openResponse == none {
		l.openResponse = l.add(ui.RoleResponse, text, false)
		msg := l.messages[l.openResponse]
		calls = append(calls, func() { l.adapter.AppendAnswer(msg) })
	} else {
		l.messages[l.openResponse].Text = text
		msg := l.messages[l.openResponse]
		calls = append(calls, func() { l.adapter.UpdateAnswer(msg) })
	}
	l.mu.Unlock()

	l.run(calls)
}

// Finish freezes the open response, if any.
func (l *Log) Finish() {
	l.mu.Lock()
	calls := l.freezeResponse()
	l.mu.Unlock()

	l.run(calls)
}

func (l *Log) Messages() []ui.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ui.Message(nil), l.messages...)
}

// OpenResponses counts responses that can still change. Never above one.
func (l *Log) OpenResponses() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.messages {
		if m.Role == ui.RoleResponse && !m.Final {
			n++
		}
	}
	return n
}
