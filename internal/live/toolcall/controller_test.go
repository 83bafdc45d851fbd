package toolcall

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/cortado/internal/live/datasource"
	"github.com/xpanvictor/cortado/internal/live/transcript"
	"github.com/xpanvictor/cortado/internal/live/ui"
	"google.golang.org/genai"
)

type fakeUI struct {
	ui.Nop
	mu       sync.Mutex
	progress []string
	statuses []string
	errors   []string
	loading  []bool
}

func (f *fakeUI) AppendProgress(chunk json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress = append(f.progress, string(chunk))
}

func (f *fakeUI) SetStatus(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, s)
}

func (f *fakeUI) SetError(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, s)
}

func (f *fakeUI) SetLoading(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loading = append(f.loading, b)
}

type uiSnapshot struct {
	progress []string
	statuses []string
	errors   []string
	loading  []bool
}

func (f *fakeUI) snapshot() uiSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uiSnapshot{
		progress: append([]string(nil), f.progress...),
		statuses: append([]string(nil), f.statuses...),
		errors:   append([]string(nil), f.errors...),
		loading:  append([]bool(nil), f.loading...),
	}
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) SendClientContent(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeSender) all() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// ndjsonServer writes each chunk verbatim and flushes after it.
func ndjsonServer(t *testing.T, chunks ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, c)
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	ctrl   *Controller
	ui     *fakeUI
	sender *fakeSender
	log    *transcript.Log
}

const testInstructions = `
system_description: warehouse
tables:
  - table_name: p.s.orders
  - table_name: p.s.users
glossaries:
  - term: GMV
    tables: [p.s.orders]
`

func newHarness(t *testing.T, url string) *harness {
	t.Helper()
	ds, err := datasource.FromTables([]string{"p.s.orders", "p.s.users"})
	require.NoError(t, err)
	h := &harness{ui: &fakeUI{}, sender: &fakeSender{}}
	h.log = transcript.New(h.ui)
	h.ctrl = New(Config{StreamURL: url, Email: "analyst@example.com"}, Deps{
		Adapter:      h.ui,
		Transcript:   h.log,
		Sender:       h.sender,
		Datasource:   ds,
		Instructions: testInstructions,
	})
	return h
}

func ask(question string, tables ...string) *genai.FunctionCall {
	args := map[string]any{"question": question}
	if len(tables) > 0 {
		list := make([]any, len(tables))
		for i, t := range tables {
			list[i] = t
		}
		args["tables"] = list
	}
	return &genai.FunctionCall{ID: "call-1", Name: "ask_question", Args: args}
}

func TestIntermediateThenFinal(t *testing.T) {
	srv := ndjsonServer(t,
		`{"systemMessage":{"schema":{"query":{"question":"q"}}}}`+"\n",
		`{"systemMessage":{"data":{"result":{"rows":[1]}}}}`+"\n",
		`{"systemMessage":{"text":{"parts":["There were","42 orders."]}}}`+"\n",
	)
	h := newHarness(t, srv.URL)

	call, err := h.ctrl.Start(context.Background(), ask("how many orders?"))
	require.NoError(t, err)
	call.Wait()

	got := h.ui.snapshot()
	assert.Len(t, got.progress, 2)
	assert.Contains(t, got.statuses, "Retrieving schema...")
	assert.Contains(t, got.statuses, "Retrieving data...")
	assert.Equal(t, []string{AnswerPrefix + "There were 42 orders."}, h.sender.all())
	assert.Equal(t, StateCompleted, call.State())
	assert.Equal(t, "There were 42 orders.", call.Answer())
	require.NotEmpty(t, got.loading)
	assert.True(t, got.loading[0])
	assert.False(t, got.loading[len(got.loading)-1])
	assert.Empty(t, got.errors)
}

func TestOnlyLastFinalFragmentIsSent(t *testing.T) {
	srv := ndjsonServer(t,
		`{"systemMessage":{"text":{"parts":["draft"]}}}`+"\n",
		`{"systemMessage":{"text":{"parts":["final","answer"]}}}`+"\n",
	)
	h := newHarness(t, srv.URL)

	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)
	call.Wait()

	assert.Equal(t, []string{AnswerPrefix + "final answer"}, h.sender.all())
	msgs := h.log.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "final answer", msgs[0].Text)
	assert.True(t, msgs[0].Final)
}

func TestLinesSplitAcrossChunks(t *testing.T) {
	srv := ndjsonServer(t,
		`{"systemMessage":{"cha`,
		`rt":{"query":{}}}}`+"\n"+`{"systemMessage":{"text":`,
		`{"parts":["split ok"]}}}`, // unterminated last line
	)
	h := newHarness(t, srv.URL)

	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)
	call.Wait()

	got := h.ui.snapshot()
	assert.Equal(t, []string{`{"systemMessage":{"chart":{"query":{}}}}`}, got.progress)
	assert.Contains(t, got.statuses, "Generating chart...")
	assert.Equal(t, []string{AnswerPrefix + "split ok"}, h.sender.all())
}

func TestKillSwitchDiscardsAnswer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, `{"systemMessage":{"analysis":{"progressEvent":{}}}}`+"\n")
		flusher.Flush()
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, `{"systemMessage":{"text":{"parts":["too late"]}}}`+"\n")
	}))
	defer srv.Close()
	defer close(release)

	h := newHarness(t, srv.URL)
	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(h.ui.snapshot().progress) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, h.ctrl.Cancel())
	call.Wait()

	assert.Empty(t, h.sender.all())
	assert.Equal(t, StateCancelled, call.State())
	assert.Empty(t, call.Answer())
	got := h.ui.snapshot()
	assert.Empty(t, got.errors)
	assert.False(t, got.loading[len(got.loading)-1])
	assert.False(t, h.ctrl.Cancel())
}

func TestCancelFreezesPartialAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"systemMessage":{"text":{"parts":["partial answer"]}}}`+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.log.OpenResponses() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, h.ctrl.Cancel())
	call.Wait()

	assert.Equal(t, StateCancelled, call.State())
	assert.Empty(t, h.sender.all())
	assert.Equal(t, 0, h.log.OpenResponses())

	h.log.Respond(" hello from the model", false)
	msgs := h.log.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[0].Text)
	assert.Equal(t, " hello from the model", msgs[1].Text)
}

func TestCancelBeforeDeliverySendsNothing(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	call := newCall(context.Background(), h.ctrl, "c1", Args{Question: "q"})

	call.Cancel()
	assert.False(t, call.deliver("forty two"))
	assert.Empty(t, h.sender.all())
}

func TestDeliverSendsWhenNotCancelled(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	call := newCall(context.Background(), h.ctrl, "c1", Args{Question: "q"})

	assert.True(t, call.deliver("forty two"))
	assert.Equal(t, []string{AnswerPrefix + "forty two"}, h.sender.all())
}

func TestErrorObjectIsTheAnswer(t *testing.T) {
	srv := ndjsonServer(t, `{"error":{"code":400,"message":"table not found"}}`+"\n")
	h := newHarness(t, srv.URL)

	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)
	call.Wait()

	assert.Equal(t, []string{AnswerPrefix + "table not found"}, h.sender.all())
	assert.Equal(t, StateCompleted, call.State())
}

func TestMalformedAndDefaultLines(t *testing.T) {
	srv := ndjsonServer(t,
		"not json at all\n",
		`{"timestamp":"2024-01-01T00:00:00Z"}`+"\n",
		"\n",
		`{"systemMessage":{"text":{"parts":["ok"]}}}`+"\n",
	)
	h := newHarness(t, srv.URL)

	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)
	call.Wait()

	assert.Equal(t, []string{`{"timestamp":"2024-01-01T00:00:00Z"}`}, h.ui.snapshot().progress)
	assert.Equal(t, []string{AnswerPrefix + "ok"}, h.sender.all())
}

func TestHTTPFailureSurfacesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	h := newHarness(t, srv.URL)

	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)
	call.Wait()

	got := h.ui.snapshot()
	assert.Equal(t, []string{"Error calling analytics API"}, got.errors)
	assert.Equal(t, StateFailed, call.State())
	assert.Empty(t, h.sender.all())
	assert.False(t, got.loading[len(got.loading)-1])
}

func TestUnreachableAgent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := newHarness(t, url)
	call, err := h.ctrl.Start(context.Background(), ask("q"))
	require.NoError(t, err)
	call.Wait()
	assert.Equal(t, StateFailed, call.State())
	assert.Equal(t, []string{"Error calling analytics API"}, h.ui.snapshot().errors)
}

func TestSecondCallWhileInFlightIsDropped(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = io.WriteString(w, `{"systemMessage":{"text":{"parts":["one"]}}}`+"\n")
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	first, err := h.ctrl.Start(context.Background(), ask("first"))
	require.NoError(t, err)

	_, err = h.ctrl.Start(context.Background(), ask("second"))
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	first.Wait()
	assert.Equal(t, []string{AnswerPrefix + "one"}, h.sender.all())

	// a finished call frees the slot
	again, err := h.ctrl.Start(context.Background(), ask("third"))
	require.NoError(t, err)
	again.Wait()
}

func TestRequestBody(t *testing.T) {
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies <- body
		_, _ = io.WriteString(w, `{"systemMessage":{"text":{"parts":["ok"]}}}`+"\n")
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL)
	h.ctrl.SetPythonAnalysis(true)
	call, err := h.ctrl.Start(context.Background(), ask("gmv by month", "p.s.orders"))
	require.NoError(t, err)
	call.Wait()

	body := <-bodies
	assert.Equal(t, "analyst@example.com", body["email"])
	assert.Equal(t, true, body["pythonAnalysisEnabled"])

	msg := body["messages"].([]any)[0].(map[string]any)["userMessage"].(map[string]any)
	assert.Equal(t, "gmv by month", msg["text"])

	refs := body["datasourceReferences"].(map[string]any)["bq"].(map[string]any)["tableReferences"].([]any)
	require.Len(t, refs, 1)
	assert.Equal(t, "orders", refs[0].(map[string]any)["tableId"])

	instr := body["systemInstruction"].(string)
	assert.Contains(t, instr, "p.s.orders")
	assert.NotContains(t, instr, "p.s.users")
	assert.Contains(t, instr, "GMV")
}

func TestStartRejectsMissingQuestion(t *testing.T) {
	h := newHarness(t, "http://127.0.0.1:1")
	_, err := h.ctrl.Start(context.Background(), &genai.FunctionCall{Name: "ask_question", Args: map[string]any{}})
	assert.Error(t, err)
	assert.Nil(t, h.ctrl.Current())
}

func TestAskQuestionDeclarations(t *testing.T) {
	ds, err := datasource.FromTables([]string{"p.s.orders"})
	require.NoError(t, err)
	tools, err := Tools(ds)
	require.NoError(t, err)
	decl := tools[0].FunctionDeclarations[0]
	assert.Equal(t, "ask_question", decl.Name)
	assert.ElementsMatch(t, []string{"question", "tables"}, decl.Parameters.Required)
	assert.Equal(t, []string{"p.s.orders"}, decl.Parameters.Properties["tables"].Items.Enum)

	looker, err := datasource.FromExplore("", "ecommerce", "orders")
	require.NoError(t, err)
	tools, err = Tools(looker)
	require.NoError(t, err)
	decl = tools[0].FunctionDeclarations[0]
	assert.Equal(t, []string{"question"}, decl.Parameters.Required)
	assert.NotContains(t, decl.Parameters.Properties, "tables")
	assert.Contains(t, decl.Description, `"orders"`)
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs(map[string]any{"question": "q", "tables": []any{"a", 3, ""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, args.Tables)

	args, err = ParseArgs(map[string]any{"question": "q", "tables": "p.s.t"})
	require.NoError(t, err)
	assert.Equal(t, []string{"p.s.t"}, args.Tables)

	_, err = ParseArgs(map[string]any{"question": "  "})
	assert.Error(t, err)
	_, err = ParseArgs(nil)
	assert.Error(t, err)
}
