// Package toolcall runs the ask_question sub-flow: one chunked request to the
// analytics agent per call, streamed progress into the UI, and the final
// answer fed back to the live model as a user turn.
package toolcall

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xpanvictor/cortado/internal/live/datasource"
	"github.com/xpanvictor/cortado/internal/live/instructions"
	"github.com/xpanvictor/cortado/internal/live/transcript"
	"github.com/xpanvictor/cortado/internal/live/ui"
	"github.com/xpanvictor/cortado/internal/metrics"
	"github.com/xpanvictor/cortado/pkg/Logger"
	"google.golang.org/genai"
)

var ErrInFlight = errors.New("toolcall: a call is already in flight")

// AnswerPrefix precedes the agent's answer in the re-injected user turn.
const AnswerPrefix = "Use this response to answer the question: "

// Sender delivers the answer back to the live model.
type Sender interface {
	SendClientContent(text string) error
}

type Config struct {
	StreamURL      string
	Email          string
	PythonAnalysis bool
	HTTPClient     *http.Client
}

type Deps struct {
	Adapter      ui.Adapter
	Transcript   *transcript.Log
	Sender       Sender
	Datasource   datasource.Descriptor
	Instructions string
	Metrics      *metrics.Live
	Logger       *Logger.Logger
}

type Controller struct {
	cfg     Config
	deps    Deps
	doc     *instructions.Document
	client  *http.Client
	logger  *Logger.Logger
	python  atomic.Bool
	mu      sync.Mutex
	current *Call
}

func New(cfg Config, deps Deps) *Controller {
	if deps.Adapter == nil {
		deps.Adapter = ui.Nop{}
	}
	if deps.Transcript == nil {
		deps.Transcript = transcript.New(deps.Adapter)
	}
	c := &Controller{
		cfg:    cfg,
		deps:   deps,
		client: cfg.HTTPClient,
		logger: Logger.OrNop(deps.Logger).Named("toolcall"),
	}
	if c.client == nil {
		// no overall timeout, the agent streams for as long as it needs
		c.client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 2 * time.Minute,
		}}
	}
	c.python.Store(cfg.PythonAnalysis)

	if deps.Instructions != "" {
		doc, err := instructions.Parse(deps.Instructions)
		if err != nil {
			c.logger.Warnf("system instruction is not structured YAML, it will be sent untrimmed: %v", err)
		} else {
			c.doc = doc
		}
	}
	return c
}

func (c *Controller) SetPythonAnalysis(enabled bool) {
	c.python.Store(enabled)
}

func (c *Controller) PythonAnalysis() bool {
	return c.python.Load()
}

// Start launches a call unless one is still in flight.
func (c *Controller) Start(ctx context.Context, fc *genai.FunctionCall) (*Call, error) {
	args, err := ParseArgs(fc.Args)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.current != nil && !c.current.Done() {
		busy := c.current.ID
		c.mu.Unlock()
		c.logger.Warnf("ask_question %s dropped, call %s still in flight", fc.ID, busy)
		return nil, ErrInFlight
	}
	call := newCall(ctx, c, fc.ID, args)
	c.current = call
	c.mu.Unlock()

	c.logger.Infof("ask_question %s: %q tables=%v", call.ID, args.Question, args.Tables)
	go call.run()
	return call, nil
}

// Cancel fires the kill switch of the in-flight call. Reports whether there was one.
func (c *Controller) Cancel() bool {
	c.mu.Lock()
	call := c.current
	c.mu.Unlock()
	if call == nil || call.Done() {
		return false
	}
	call.Cancel()
	return true
}

// Current returns the most recent call, finished or not.
func (c *Controller) Current() *Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// scopedInstruction trims the system instruction to what ds references.
func (c *Controller) scopedInstruction(ds datasource.Descriptor) string {
	if c.doc == nil {
		return c.deps.Instructions
	}
	var (
		text string
		err  error
	)
	if ds.IsLooker() {
		text, err = c.doc.TrimToExplore(ds.Explore.Explore, c.logger)
	} else {
		text, err = c.doc.TrimToTables(ds.TableNames(), c.logger)
	}
	if err != nil {
		c.logger.Warnf("trimming system instruction failed, sending it whole: %v", err)
		return c.deps.Instructions
	}
	return text
}
