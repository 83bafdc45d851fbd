package toolcall

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/xpanvictor/cortado/internal/live/datasource"
)

type CallState string

const (
	StateIdle      CallState = "idle"
	StateInFlight  CallState = "in_flight"
	StateCompleted CallState = "completed"
	StateCancelled CallState = "cancelled"
	StateFailed    CallState = "failed"
)

type CallEvent string

const (
	EvStart    CallEvent = "start"
	EvComplete CallEvent = "complete"
	EvCancel   CallEvent = "cancel"
	EvFail     CallEvent = "fail"
)

const maxLineBytes = 16 << 20

// Call is one ask_question round trip. A new Call, state machine and kill
// switch exist per call.
type Call struct {
	ID   string
	Args Args

	ctrl   *Controller
	sm     *fsm.FSM
	ctx    context.Context
	cancel context.CancelFunc
	killed atomic.Bool
	// held while the answer is handed to the sender, so Cancel and delivery
	// never interleave
	sendMu sync.Mutex
	done   chan struct{}
	answer string
}

func newCall(parent context.Context, ctrl *Controller, id string, args Args) *Call {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Call{
		ID:     id,
		Args:   args,
		ctrl:   ctrl,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		sm: fsm.NewFSM(
			string(StateIdle),
			fsm.Events{
				{Name: string(EvStart), Src: []string{string(StateIdle)}, Dst: string(StateInFlight)},
				{Name: string(EvComplete), Src: []string{string(StateInFlight)}, Dst: string(StateCompleted)},
				{Name: string(EvCancel), Src: []string{string(StateInFlight)}, Dst: string(StateCancelled)},
				{Name: string(EvFail), Src: []string{string(StateInFlight)}, Dst: string(StateFailed)},
			},
			fsm.Callbacks{},
		),
	}
}

// Cancel sets the kill switch and aborts the pending request. Once it
// returns, the answer will not be sent.
func (c *Call) Cancel() {
	c.sendMu.Lock()
	c.killed.Store(true)
	c.sendMu.Unlock()
	c.cancel()
}

func (c *Call) Killed() bool { return c.killed.Load() }

func (c *Call) State() CallState { return CallState(c.sm.Current()) }

func (c *Call) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the call reaches a terminal state.
func (c *Call) Wait() { <-c.done }

// Answer is the last final fragment. Empty for cancelled calls.
func (c *Call) Answer() string {
	<-c.done
	return c.answer
}

func (c *Call) transition(ev CallEvent) {
	if err := c.sm.Event(context.Background(), string(ev)); err != nil {
		c.ctrl.logger.Warnf("call %s: %s from %s: %v", c.ID, ev, c.sm.Current(), err)
	}
}

type agentRequest struct {
	Messages              []agentMessage        `json:"messages"`
	SystemInstruction     string                `json:"systemInstruction"`
	DatasourceReferences  datasource.References `json:"datasourceReferences"`
	PythonAnalysisEnabled bool                  `json:"pythonAnalysisEnabled"`
	Email                 string                `json:"email,omitempty"`
}

type agentMessage struct {
	UserMessage userMessage `json:"userMessage"`
}

type userMessage struct {
	Text string `json:"text"`
}

var errKilled = errors.New("toolcall: killed")

func (c *Call) run() {
	ctrl := c.ctrl
	adapter := ctrl.deps.Adapter
	defer close(c.done)
	defer c.cancel()
	defer adapter.SetLoading(false)
	defer func() {
		if r := recover(); r != nil {
			ctrl.logger.Errorf("call %s panicked: %v", c.ID, r)
			c.answer = ""
			c.transition(EvFail)
			ctrl.deps.Metrics.ToolCall(string(StateFailed))
		}
	}()

	c.transition(EvStart)
	adapter.SetLoading(true)
	adapter.SetStatus("Asking the analytics agent...")

	answer, err := c.stream()
	switch {
	case c.Killed() || errors.Is(err, errKilled):
		c.discard()
	case err != nil:
		c.transition(EvFail)
		ctrl.logger.Errorf("call %s failed: %v", c.ID, err)
		adapter.SetError("Error calling analytics API")
		ctrl.deps.Transcript.Finish()
	case answer == "":
		ctrl.deps.Transcript.Finish()
		ctrl.logger.Warnf("call %s: agent returned no answer", c.ID)
		c.transition(EvComplete)
	default:
		if !c.deliver(answer) {
			c.discard()
			break
		}
		c.answer = answer
		c.transition(EvComplete)
	}
	ctrl.deps.Metrics.ToolCall(string(c.State()))
}

// discard ends a killed call. A partially shown answer is frozen so later
// model speech starts its own message.
func (c *Call) discard() {
	c.ctrl.deps.Transcript.Finish()
	c.transition(EvCancel)
	c.ctrl.logger.Infof("call %s cancelled, answer discarded", c.ID)
}

// deliver sends the answer unless the call was killed first.
func (c *Call) deliver(answer string) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.Killed() {
		return false
	}
	c.ctrl.deps.Transcript.Finish()
	if err := c.ctrl.deps.Sender.SendClientContent(AnswerPrefix + answer); err != nil {
		c.ctrl.logger.Errorf("call %s: answer not delivered: %v", c.ID, err)
	}
	return true
}

func (c *Call) stream() (string, error) {
	ctrl := c.ctrl
	ds := ctrl.deps.Datasource.Select(c.Args.Tables)

	body, err := json.Marshal(agentRequest{
		Messages:              []agentMessage{{UserMessage: userMessage{Text: c.Args.Question}}},
		SystemInstruction:     ctrl.scopedInstruction(ds),
		DatasourceReferences:  ds.References(),
		PythonAnalysisEnabled: ctrl.PythonAnalysis(),
		Email:                 ctrl.cfg.Email,
	})
	if err != nil {
		return "", fmt.Errorf("encode agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, ctrl.cfg.StreamURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := ctrl.client.Do(req)
	if err != nil {
		return "", c.abortOr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("agent responded %s", resp.Status)
	}

	var (
		answer  string
		started bool
		reader  = bufio.NewReaderSize(resp.Body, 64<<10)
	)
	for {
		if c.Killed() {
			return "", errKilled
		}
		line, readErr := readLine(reader)
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if text, ok := c.handleLine(trimmed, !started); ok {
				answer = text
				started = true
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", c.abortOr(readErr)
		}
	}
	if c.Killed() {
		return "", errKilled
	}
	return answer, nil
}

func (c *Call) abortOr(err error) error {
	if c.Killed() || errors.Is(err, context.Canceled) {
		return errKilled
	}
	return err
}

// readLine returns the next line, joining reads when a line spans chunks.
// The last line may be unterminated, it comes back together with io.EOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		part, err := r.ReadSlice('\n')
		line = append(line, part...)
		if err == bufio.ErrBufferFull {
			if len(line) > maxLineBytes {
				return nil, fmt.Errorf("agent stream line exceeds %d bytes", maxLineBytes)
			}
			continue
		}
		return line, err
	}
}

// handleLine routes one parsed object. Returns the answer text for final and
// error objects.
func (c *Call) handleLine(line []byte, first bool) (string, bool) {
	ctrl := c.ctrl
	chunk, err := classifyLine(line)
	if err != nil {
		ctrl.deps.Metrics.MalformedLine()
		ctrl.logger.Warnf("call %s: skipping malformed agent line: %v", c.ID, err)
		return "", false
	}

	switch chunk.kind {
	case chunkFinal, chunkError:
		ctrl.deps.Transcript.Replace(chunk.text, first)
		return chunk.text, true
	case chunkIntermediate:
		ctrl.deps.Adapter.AppendProgress(json.RawMessage(append([]byte(nil), line...)))
		ctrl.deps.Adapter.SetStatus(chunk.status)
	default:
		ctrl.deps.Adapter.AppendProgress(json.RawMessage(append([]byte(nil), line...)))
	}
	return "", false
}
