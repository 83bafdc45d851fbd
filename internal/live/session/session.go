// Package session owns the live socket: it connects and reconnects with
// backoff, writes the setup frame first on every connection, classifies every
// inbound frame and routes it to playback, the transcript or the tool flow.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/xpanvictor/cortado/internal/live/datasource"
	"github.com/xpanvictor/cortado/internal/live/protocol"
	"github.com/xpanvictor/cortado/internal/live/toolcall"
	"github.com/xpanvictor/cortado/internal/live/transcript"
	"github.com/xpanvictor/cortado/internal/live/ui"
	"github.com/xpanvictor/cortado/internal/metrics"
	"github.com/xpanvictor/cortado/pkg/Logger"
	"github.com/xpanvictor/cortado/pkg/io/pcm"
)

var ErrNotOpen = errors.New("session: socket not open, reconnection pending")

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateConfigured State = "configured"
	StateClosed     State = "closed"
)

const (
	evOpened     = "opened"
	evConfigured = "configured"
	evDropped    = "dropped"
	evClose      = "close"
)

// Player is the slice of the playback engine the session drives.
type Player interface {
	AddPCM16(data []byte)
	ClearQueue()
	Complete()
}

type Config struct {
	URL               string
	APIKey            string
	Model             string
	Voice             string
	Language          string
	SilenceDurationMs int
	DialTimeout       time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

type Deps struct {
	Adapter ui.Adapter
	// User is who asks; their email goes to the analytics agent when the
	// agent config has none.
	User         ui.User
	Player       Player
	Datasource   datasource.Descriptor
	Instructions string
	Agent        toolcall.Config
	Metrics      *metrics.Live
	Logger       *Logger.Logger
	Dialer       *websocket.Dialer
}

type Session struct {
	cfg        Config
	adapter    ui.Adapter
	player     Player
	metrics    *metrics.Live
	logger     *Logger.Logger
	dialer     *websocket.Dialer
	transcript *transcript.Log
	tools      *toolcall.Controller
	setup      protocol.Setup

	lifecycle *fsm.FSM

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	ctx       context.Context
	stop      context.CancelFunc
	closeOnce sync.Once
}

func New(cfg Config, deps Deps) (*Session, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("session: live url is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = 30 * time.Second
	}
	if deps.Adapter == nil {
		deps.Adapter = ui.Nop{}
	}
	if deps.Player == nil {
		return nil, fmt.Errorf("session: player is required")
	}
	if deps.Dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = cfg.DialTimeout
		deps.Dialer = &d
	}

	tools, err := toolcall.Tools(deps.Datasource)
	if err != nil {
		return nil, fmt.Errorf("declare ask_question: %w", err)
	}

	s := &Session{
		cfg:     cfg,
		adapter: deps.Adapter,
		player:  deps.Player,
		metrics: deps.Metrics,
		logger:  Logger.OrNop(deps.Logger).Named("session"),
		dialer:  deps.Dialer,
		setup: protocol.NewSetup(protocol.SetupParams{
			Model:             cfg.Model,
			Voice:             cfg.Voice,
			Language:          cfg.Language,
			SilenceDurationMs: cfg.SilenceDurationMs,
			SystemInstruction: deps.Instructions,
			Tools:             tools,
		}),
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	if deps.Agent.Email == "" {
		deps.Agent.Email = deps.User.Email
	}
	s.transcript = transcript.New(deps.Adapter, transcript.WithAvatar(deps.User.AvatarURL))
	s.tools = toolcall.New(deps.Agent, toolcall.Deps{
		Adapter:      deps.Adapter,
		Transcript:   s.transcript,
		Sender:       s,
		Datasource:   deps.Datasource,
		Instructions: deps.Instructions,
		Metrics:      deps.Metrics,
		Logger:       deps.Logger,
	})
	s.lifecycle = fsm.NewFSM(
		string(StateConnecting),
		fsm.Events{
			{Name: evOpened, Src: []string{string(StateConnecting)}, Dst: string(StateOpen)},
			{Name: evConfigured, Src: []string{string(StateOpen)}, Dst: string(StateConfigured)},
			{Name: evDropped, Src: []string{string(StateOpen), string(StateConfigured)}, Dst: string(StateConnecting)},
			{Name: evClose, Src: []string{string(StateConnecting), string(StateOpen), string(StateConfigured)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				s.logger.Debugf("socket %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return s, nil
}

func (s *Session) State() State { return State(s.lifecycle.Current()) }

func (s *Session) Transcript() *transcript.Log { return s.transcript }

func (s *Session) Tools() *toolcall.Controller { return s.tools }

func (s *Session) transition(ev string) bool {
	if err := s.lifecycle.Event(context.Background(), ev); err != nil {
		s.logger.Debugf("lifecycle %s ignored in %s: %v", ev, s.lifecycle.Current(), err)
		return false
	}
	return true
}

func (s *Session) isOpen() bool {
	st := s.State()
	return st == StateOpen || st == StateConfigured
}

// Run keeps the socket up until ctx ends or Close is called. Reconnection
// never gives up; the delay grows from ReconnectMin to ReconnectMax.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ReconnectMin
	b.MaxInterval = s.cfg.ReconnectMax
	b.MaxElapsedTime = 0

	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			c, err := s.connect(ctx)
			if err != nil {
				return err
			}
			conn = c
			return nil
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			s.metrics.Reconnect()
			s.logger.Warnf("live socket unavailable (%v), retrying in %s", err, wait)
		})
		if err != nil {
			break
		}
		b.Reset()

		s.readLoop(ctx, conn)
		s.detach(conn)
		if ctx.Err() != nil {
			break
		}
		if s.transition(evDropped) {
			s.adapter.SetStatus("reconnecting")
		}
	}

	s.Close()
	return nil
}

func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("x-goog-api-key", s.cfg.APIKey)
	}
	conn, resp, err := s.dialer.DialContext(dialCtx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial live endpoint: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}

	// Setup goes out before the connection is published, so no other frame
	// can precede it.
	if err := conn.WriteJSON(s.setup); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write setup: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	if !s.transition(evOpened) {
		s.detach(conn)
		return nil, backoff.Permanent(fmt.Errorf("session closed"))
	}
	s.logger.Infof("live socket open, setup sent for %s", s.setup.Setup.Model)
	return conn, nil
}

func (s *Session) detach(conn *websocket.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.connMu.Unlock()
	_ = conn.Close()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warnf("live socket dropped: %v", err)
			}
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("frame handler panicked: %v", r)
		}
	}()

	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warnf("dropping undecodable frame: %v", err)
		return
	}
	ev := protocol.Classify(msg)
	s.metrics.Frame(ev.Kind().String())

	switch e := ev.(type) {
	case protocol.SetupComplete:
		if s.transition(evConfigured) {
			s.adapter.SetStatus("connected")
		}
	case protocol.Interrupted:
		s.player.ClearQueue()
		s.logger.Debug("model interrupted, playback cleared")
	case protocol.Audio:
		for _, blob := range e.Blobs {
			raw, err := base64.StdEncoding.DecodeString(blob.Data)
			if err != nil {
				s.logger.Warnf("bad audio payload (%s): %v", blob.MIMEType, err)
				continue
			}
			s.player.AddPCM16(raw)
		}
	case protocol.AskQuestion:
		if _, err := s.tools.Start(s.ctx, e.Call); err != nil && !errors.Is(err, toolcall.ErrInFlight) {
			s.logger.Errorf("ask_question %s rejected: %v", e.Call.ID, err)
		}
	case protocol.ToolCallCancelled:
		s.logger.Infof("model cancelled tool calls %v", e.IDs)
		s.adapter.SetStatus("request cancelled")
	case protocol.InputTranscript:
		s.transcript.Hear(e.Text)
	case protocol.OutputTranscript:
		s.transcript.Respond(e.Text, e.Final)
	case protocol.GenerationComplete:
		s.logger.Debug("generation complete")
	case protocol.TurnComplete:
		s.player.Complete()
		s.transcript.Finish()
		s.logger.Infof("turn complete, usage %s", e.Usage)
	case protocol.GoingAway:
		s.logger.Warnf("server will close the socket in %s", e.Raw)
		s.adapter.SetStatus("server disconnecting in " + e.Raw)
	default:
		s.logger.Debugf("unhandled frame: %s", truncate(data, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Send writes a frame if the socket is open. Otherwise the frame is dropped
// with a log line and ErrNotOpen; the caller resends if it cares.
func (s *Session) Send(frame protocol.Outbound) error {
	if !s.isOpen() {
		s.metrics.DroppedSend(frame.FrameName())
		s.logger.Warnf("dropping %s: %v", frame.FrameName(), ErrNotOpen)
		return ErrNotOpen
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		s.metrics.DroppedSend(frame.FrameName())
		s.logger.Warnf("dropping %s: %v", frame.FrameName(), ErrNotOpen)
		return ErrNotOpen
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s: %w", frame.FrameName(), err)
	}
	return nil
}

// SendText sends a typed question and records it in the transcript.
func (s *Session) SendText(text string) error {
	if err := s.Send(protocol.NewClientContent(text)); err != nil {
		return err
	}
	s.transcript.Ask(text)
	return nil
}

// SendClientContent sends a user turn without touching the transcript.
func (s *Session) SendClientContent(text string) error {
	return s.Send(protocol.NewClientContent(text))
}

// SendAudio forwards one captured chunk.
func (s *Session) SendAudio(chunk pcm.Chunk) error {
	return s.Send(protocol.NewRealtimeInput(chunk.MIMEType, chunk.Data))
}

// CancelCortado kills the in-flight analytics call and silences playback.
// The socket stays up.
func (s *Session) CancelCortado() {
	cancelled := s.tools.Cancel()
	s.player.ClearQueue()
	s.adapter.SetStatus("Request cancelled")
	s.logger.Infof("analytics request cancelled by user (in flight: %t)", cancelled)
}

func (s *Session) SetPythonAnalysis(enabled bool) {
	s.tools.SetPythonAnalysis(enabled)
}

// Close shuts the socket and stops reconnecting. In-flight tool calls are aborted.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.transition(evClose)
		s.stop()

		s.connMu.Lock()
		conn := s.conn
		s.conn = nil
		s.connMu.Unlock()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			s.writeMu.Unlock()
			_ = conn.Close()
		}
		s.logger.Info("live session closed")
	})
}
