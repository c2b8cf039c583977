package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/convoflow/core"
	"github.com/hupe1980/convoflow/crm"
	"github.com/hupe1980/convoflow/dispatch"
	"github.com/hupe1980/convoflow/internal/testutil"
	"github.com/hupe1980/convoflow/memory"
	"github.com/hupe1980/convoflow/model"
	"github.com/hupe1980/convoflow/retrieval"
	"github.com/hupe1980/convoflow/tool"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []crm.Transcript
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t crm.Transcript) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, t)
	return nil
}

func (d *recordingDispatcher) transcripts() []crm.Transcript {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]crm.Transcript, len(d.calls))
	copy(out, d.calls)
	return out
}

var _ dispatch.Dispatcher = (*recordingDispatcher)(nil)

type fakeProspects struct {
	mu    sync.Mutex
	leads []crm.Lead
	err   error
}

func (f *fakeProspects) SendProspect(_ context.Context, lead crm.Lead) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads = append(f.leads, lead)
	if f.err != nil {
		return 0, f.err
	}
	return 200, nil
}

func (f *fakeProspects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.leads)
}

type fixture struct {
	model      *model.ScriptedModel
	store      *memory.InMemoryStore
	registry   *tool.Registry
	dispatcher *recordingDispatcher
	prospects  *fakeProspects
}

func newFixture(turns ...model.Turn) *fixture {
	f := &fixture{
		model:      model.NewScriptedModel(turns...),
		store:      memory.NewInMemoryStore(),
		registry:   tool.NewRegistry(),
		dispatcher: &recordingDispatcher{},
		prospects:  &fakeProspects{},
	}
	f.registry.MustRegister(tool.NewLeadTool(f.prospects), func(o *tool.RegisterOptions) { o.UserFacing = true })
	f.registry.MustRegister(retrieval.NewSearchTool(retrieval.NewRetriever(retrieval.SearcherFunc(
		func(context.Context, string, int) ([]retrieval.Document, error) {
			return []retrieval.Document{{
				ID:      "faq-17",
				Content: "Jetour X70: Desde USD 25000",
				Score:   0.93,
				Metadata: map[string]any{
					"id":       "faq-17",
					"intent":   "precio_x70",
					"response": "Desde USD 25000",
				},
			}}, nil
		}))))
	return f
}

func (f *fixture) runner(optFns ...func(o *Options)) *Runner {
	base := func(o *Options) {
		o.Store = f.store
		o.Registry = f.registry
		o.Dispatcher = f.dispatcher
		o.Instructions = "Eres JetourAI."
	}
	return New(f.model, append([]func(o *Options){base}, optFns...)...)
}

func call(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: args}
}

const validLead = `{"name":"Ana Benítez","email":"ana@example.com","phone":"0981123456","comment":"Quiere probar el X70"}`

func TestRun_ScenarioA_Greeting(t *testing.T) {
	f := newFixture(model.TextTurn("¡Hola", "! Soy JetourAI", ", ¿en qué puedo ayudarte?"))
	r := f.runner()

	res, err := r.InvokeSync(context.Background(), "abc", UserText("Hola"))
	require.NoError(t, err)

	assert.Equal(t, StatusDone, res.Status)
	require.NotEmpty(t, res.Events)
	for _, ev := range res.Events {
		assert.Equal(t, core.EventMessage, ev.Type)
	}
	assert.Equal(t, "¡Hola! Soy JetourAI, ¿en qué puedo ayudarte?", res.Transcript)
	assert.Equal(t, res.Transcript, res.FinalContent)

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, core.RoleUser, thread.Messages[0].Role())
	assert.Equal(t, core.RoleAssistant, thread.Messages[1].Role())
	assert.Equal(t, core.StateDone, thread.Checkpoint.State)
	assert.Equal(t, 2, thread.Checkpoint.MessageCount)
	assert.Nil(t, thread.Interrupt)

	dispatched := f.dispatcher.transcripts()
	require.Len(t, dispatched, 1)
	assert.Equal(t, crm.Transcript{ThreadID: "abc", HumanMessage: "Hola", AIMessage: res.Transcript}, dispatched[0])
}

func TestRun_ScenarioB_BestAnswer(t *testing.T) {
	f := newFixture(
		model.Turn{Tokens: []string{"Déjame buscar. "}, Calls: []core.ToolCall{call("call-1", retrieval.SearchToolName, `{"query":"precio x70"}`)}},
		model.TextTurn("El Jetour X70 ", "está desde USD 25000."),
	)
	r := f.runner()

	res, err := r.InvokeSync(context.Background(), "abc", UserText("¿Cuánto cuesta el X70?"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)

	best := testutil.OfType(res.Events, core.EventBestAnswer)
	require.Len(t, best, 1)
	assert.Equal(t, "precio_x70", best[0].BestAnswer.Intent)
	assert.Equal(t, "Desde USD 25000", best[0].BestAnswer.Content)
	assert.Equal(t, "faq-17", best[0].BestAnswer.ID)

	// bestAnswer interleaves between the two model steps.
	assert.Equal(t, core.EventMessage, res.Events[0].Type)
	assert.Equal(t, core.EventBestAnswer, res.Events[1].Type)
	assert.Equal(t, core.EventMessage, res.Events[len(res.Events)-1].Type)
	assert.Empty(t, testutil.OfType(res.Events, core.EventInterrupt))

	assert.Equal(t, "Déjame buscar. El Jetour X70 está desde USD 25000.", res.Transcript)

	// The retrieval result reaches the model but not the stream.
	reqs := f.model.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Contents[len(reqs[1].Contents)-1]
	require.Len(t, last.ToolResults(), 1)
	assert.Contains(t, last.ToolResults()[0].Text(), "Desde USD 25000")
	assert.NotContains(t, res.Transcript, "Jetour X70: Desde")
}

func TestRun_ScenarioC_InterruptsForReview(t *testing.T) {
	f := newFixture(model.Turn{
		Tokens: []string{"Voy a registrar tus datos."},
		Calls:  []core.ToolCall{call("call-1", tool.LeadToolName, validLead)},
	})
	r := f.runner()

	res, err := r.InvokeSync(context.Background(), "abc", UserText("Quiero una prueba de manejo"))
	require.NoError(t, err)

	assert.Equal(t, StatusInterrupted, res.Status)
	require.NotEmpty(t, res.Events)
	lastEv := res.Events[len(res.Events)-1]
	assert.Equal(t, core.EventInterrupt, lastEv.Type)
	require.Len(t, testutil.OfType(res.Events, core.EventInterrupt), 1)
	require.NotNil(t, lastEv.Interrupt)
	assert.Equal(t, core.InterruptTask, lastEv.Interrupt.Task)
	assert.Equal(t, "Voy a registrar tus datos.", lastEv.Interrupt.Generated)
	require.Len(t, lastEv.Interrupt.ToolCalls, 1)
	assert.Equal(t, "Voy a registrar tus datos.", res.FinalContent)

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.NotNil(t, thread.Interrupt)
	assert.Equal(t, tool.LeadToolName, thread.Interrupt.Pending.ToolCalls()[0].Name)
	assert.Equal(t, core.StateInterrupted, thread.Checkpoint.State)
	require.Len(t, thread.Messages, 1, "the step under review is not committed")

	assert.Equal(t, 0, f.prospects.count())
	assert.Empty(t, f.dispatcher.transcripts())
}

func TestRun_ScenarioD_ResumeWithEditedText(t *testing.T) {
	f := newFixture(
		model.Turn{
			Tokens: []string{"Voy a registrar tus datos."},
			Calls:  []core.ToolCall{call("call-1", tool.LeadToolName, validLead)},
		},
		model.TextTurn("¡Listo! ", "Un asesor te contactará."),
	)
	r := f.runner()

	_, err := r.InvokeSync(context.Background(), "abc", UserText("Quiero una prueba de manejo"))
	require.NoError(t, err)

	res, err := r.InvokeSync(context.Background(), "abc", ResumeWith("texto corregido"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)

	msgs := testutil.OfType(res.Events, core.EventMessage)
	require.Len(t, msgs, 4)
	assert.Equal(t, "texto corregido", msgs[0].Content)
	assert.Equal(t, "Prospecto enviado correctamente. Status: 200", msgs[1].Content)
	assert.Equal(t, "texto corregido", res.Transcript[:len("texto corregido")])
	assert.Equal(t, "¡Listo! Un asesor te contactará.", res.FinalContent)

	require.Equal(t, 1, f.prospects.count())
	assert.Equal(t, "Ana Benítez", f.prospects.leads[0].Name)

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	assert.Nil(t, thread.Interrupt)
	assert.Equal(t, core.StateDone, thread.Checkpoint.State)

	roles := make([]core.Role, 0, len(thread.Messages))
	for _, m := range thread.Messages {
		roles = append(roles, m.Role())
	}
	assert.Equal(t, []core.Role{core.RoleUser, core.RoleAssistant, core.RoleTool, core.RoleAssistant}, roles)
	assert.Equal(t, "texto corregido", thread.Messages[1].Text())

	dispatched := f.dispatcher.transcripts()
	require.Len(t, dispatched, 1)
	assert.Equal(t, res.Transcript, dispatched[0].AIMessage)
	assert.Equal(t, "Quiero una prueba de manejo", dispatched[0].HumanMessage)
}

func TestRun_ScenarioE_EmptyTranscriptIsNotDispatched(t *testing.T) {
	f := newFixture(model.TextTurn())
	r := f.runner()

	res, err := r.InvokeSync(context.Background(), "abc", UserText("..."))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.Empty(t, res.Events)
	assert.Empty(t, f.dispatcher.transcripts())
}

func TestRun_ConcurrencyViolationAndIsolation(t *testing.T) {
	f := newFixture(model.TextTurn("uno"), model.TextTurn("uno"), model.TextTurn("uno"))
	r := f.runner()
	ctx := context.Background()

	// Nobody drains T1, so it stays in flight on the unbuffered stream.
	_, events1, errs1, err := r.Run(ctx, "T1", UserText("primero"))
	require.NoError(t, err)

	_, _, _, err = r.Run(ctx, "T1", UserText("segundo"))
	require.ErrorIs(t, err, core.ErrConcurrencyViolation)
	assert.True(t, IsRejection(err))

	res, err := r.InvokeSync(ctx, "T2", UserText("hola"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)

	assert.Equal(t, "uno", testutil.Transcript(testutil.Drain(events1)))
	require.NoError(t, <-errs1)

	thread, err := f.store.Load(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 2)
	assert.Equal(t, "primero", thread.Messages[0].Text())

	// The guard is released once the run ends.
	_, err = r.InvokeSync(ctx, "T1", UserText("tercero"))
	require.NoError(t, err)
}

func TestRun_DerivedRunnersShareTheGuard(t *testing.T) {
	f := newFixture(model.TextTurn("uno"))
	r := f.runner()
	structured := r.Derive(func(o *Options) { o.Review = ReviewNever; o.Dispatcher = nil })

	_, events, _, err := r.Run(context.Background(), "T1", UserText("hola"))
	require.NoError(t, err)

	_, _, _, err = structured.Run(context.Background(), "T1", UserText("hola"))
	assert.ErrorIs(t, err, core.ErrConcurrencyViolation)

	testutil.Drain(events)
}

func TestRun_ResumeWithoutInterrupt(t *testing.T) {
	f := newFixture(model.TextTurn("hola"))
	r := f.runner()
	ctx := context.Background()

	_, _, _, err := r.Run(ctx, "abc", ResumeWith("texto corregido"))
	require.ErrorIs(t, err, core.ErrNoPendingInterrupt)

	thread, err := f.store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, thread.Messages)
	assert.Equal(t, core.Checkpoint{}, thread.Checkpoint)
	assert.Nil(t, thread.Interrupt)
	assert.Equal(t, 1, f.model.Remaining())

	// Rejection released the guard.
	_, err = r.InvokeSync(ctx, "abc", UserText("hola"))
	require.NoError(t, err)
}

func TestRun_Validation(t *testing.T) {
	r := newFixture().runner()
	ctx := context.Background()

	tests := []struct {
		name     string
		threadID string
		input    Input
	}{
		{"empty thread", "", UserText("hola")},
		{"empty text", "abc", UserText("  ")},
		{"empty edit", "abc", ResumeWith("")},
		{"text and resume", "abc", Input{Text: "hola", Resume: &Resume{EditedText: "x"}}},
		{"tool role", "abc", Input{Text: "hola", Role: core.RoleTool}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := r.Run(ctx, tt.threadID, tt.input)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestRun_UpstreamErrorEndsStream(t *testing.T) {
	f := newFixture(model.Turn{Tokens: []string{"parcial"}, Err: errors.New("503 from provider")})
	r := f.runner()

	res, err := r.InvokeSync(context.Background(), "abc", UserText("Hola"))
	require.ErrorIs(t, err, core.ErrUpstreamInference)
	assert.Equal(t, StatusFailed, res.Status)

	require.NotEmpty(t, res.Events)
	last := res.Events[len(res.Events)-1]
	assert.Equal(t, core.EventError, last.Type)
	assert.Contains(t, last.Detail, "503 from provider")

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1, "partial tokens are not persisted")
	assert.Equal(t, core.StateAgent, thread.Checkpoint.State)
	assert.Empty(t, f.dispatcher.transcripts())
}

func TestRun_StepLimit(t *testing.T) {
	f := newFixture(
		model.ToolTurn(call("call-1", "lookupStock", `{}`)),
		model.ToolTurn(call("call-2", "lookupStock", `{}`)),
	)
	r := f.runner(func(o *Options) { o.MaxSteps = 2 })

	res, err := r.InvokeSync(context.Background(), "abc", UserText("¿Hay stock?"))
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, core.EventError, res.Events[len(res.Events)-1].Type)
	assert.Contains(t, res.Events[len(res.Events)-1].Detail, "exceeded max model steps")
	assert.Len(t, f.model.Requests(), 2)
}

func TestRun_UnknownToolIsFedBack(t *testing.T) {
	f := newFixture(
		model.ToolTurn(call("call-1", "lookupStock", `{}`)),
		model.TextTurn("No puedo consultar el stock."),
	)
	r := f.runner()

	res, err := r.InvokeSync(context.Background(), "abc", UserText("¿Hay stock?"))
	require.NoError(t, err)
	assert.Equal(t, "No puedo consultar el stock.", res.Transcript)

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	results := thread.Messages[2].Content.ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, core.ToolStatusError, results[0].Status)
}

func TestRun_InvalidLeadArgumentsNeverReachTheCRM(t *testing.T) {
	f := newFixture(
		model.ToolTurn(call("call-1", tool.LeadToolName, `{"name":"Ana","email":""}`)),
		model.TextTurn("Necesito tu email y teléfono."),
	)
	r := f.runner(func(o *Options) { o.Review = ReviewNever })

	res, err := r.InvokeSync(context.Background(), "abc", UserText("Anotame"))
	require.NoError(t, err)

	assert.Equal(t, 0, f.prospects.count())
	assert.Equal(t, "Necesito tu email y teléfono.", res.Transcript, "validation diagnostics stay off the stream")

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	results := thread.Messages[2].Content.ToolResults()
	require.Len(t, results, 1)
	assert.False(t, results[0].OK())
}

func TestRun_LeadFailureIsReportedToTheUser(t *testing.T) {
	f := newFixture(
		model.ToolTurn(call("call-1", tool.LeadToolName, validLead)),
		model.TextTurn("Intenta más tarde."),
	)
	f.prospects.err = &crm.StatusError{StatusCode: 500}
	r := f.runner(func(o *Options) { o.Review = ReviewNever })

	res, err := r.InvokeSync(context.Background(), "abc", UserText("Anotame"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, "Error al enviar el prospectoIntenta más tarde.", res.Transcript)
}

func TestRun_ReviewAlwaysWithoutTools(t *testing.T) {
	f := newFixture(model.TextTurn("Borrador"))
	r := f.runner(func(o *Options) { o.Review = ReviewAlways })
	ctx := context.Background()

	res, err := r.InvokeSync(ctx, "abc", UserText("Hola"))
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, res.Status)

	res, err = r.InvokeSync(ctx, "abc", ResumeWith("Versión final"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
	assert.Equal(t, "Versión final", res.Transcript)
	assert.Equal(t, "Versión final", res.FinalContent)
	assert.Equal(t, 0, f.model.Remaining())
	assert.Len(t, f.model.Requests(), 1, "an approved step without tools ends the run")
}

func TestRun_NewTurnDiscardsPendingReview(t *testing.T) {
	f := newFixture(
		model.ToolTurn(call("call-1", tool.LeadToolName, validLead)),
		model.TextTurn("Claro, ¿qué modelo te interesa?"),
	)
	r := f.runner()
	ctx := context.Background()

	res, err := r.InvokeSync(ctx, "abc", UserText("Anotame"))
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)

	res, err = r.InvokeSync(ctx, "abc", UserText("Mejor contame de los modelos"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)

	thread, err := f.store.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, thread.Interrupt)
	assert.Equal(t, 0, f.prospects.count())
	require.Len(t, thread.Messages, 3)
}

func TestRun_Cancel(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	f := newFixture(model.Turn{Tokens: []string{"pensando"}, Block: block})
	r := f.runner()

	runID, events, errs, err := r.Run(context.Background(), "abc", UserText("Hola"))
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "pensando", first.Content)

	require.NoError(t, r.Cancel(runID))
	assert.Empty(t, testutil.Drain(events))
	assert.ErrorIs(t, <-errs, context.Canceled)

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)

	assert.Error(t, r.Cancel(runID))
	assert.Empty(t, f.dispatcher.transcripts())
}

func TestRun_CallerDisconnect(t *testing.T) {
	f := newFixture(model.TextTurn("a", "b", "c"))
	r := f.runner()

	ctx, cancel := context.WithCancel(context.Background())
	_, events, errs, err := r.Run(ctx, "abc", UserText("Hola"))
	require.NoError(t, err)
	<-events
	cancel()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after disconnect")
	}

	thread, err := f.store.Load(context.Background(), "abc")
	require.NoError(t, err)
	assert.Len(t, thread.Messages, 1)
}

func TestRun_StructuredInput(t *testing.T) {
	f := newFixture(model.TextTurn(`[{"type":"message","content":"Hola Ana"}]`))
	r := f.runner(func(o *Options) {
		o.Instructions = "Cliente: {{.UserName}} ({{.PhoneNumber}})"
		o.Review = ReviewNever
	})

	in := Input{
		Text: "Este es el mensaje del cliente : Hola",
		Role: core.RoleSystem,
		Vars: map[string]any{"UserName": "Ana", "PhoneNumber": "0981123456"},
	}
	res, err := r.InvokeSync(context.Background(), "wa-1", in)
	require.NoError(t, err)
	assert.Equal(t, `[{"type":"message","content":"Hola Ana"}]`, res.FinalContent)

	reqs := f.model.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Cliente: Ana (0981123456)", reqs[0].Instructions)
	assert.Equal(t, core.RoleSystem, reqs[0].Contents[0].Role)
	assert.True(t, reqs[0].Stream)
	assert.Len(t, reqs[0].Tools, 2)
}

func TestRun_CancelledToolsAreClosedOnNextTurn(t *testing.T) {
	thread := testutil.NewThreadBuilder("abc").Messages(
		testutil.NewMessageBuilder().UserText("Anotame").Build(),
		testutil.NewMessageBuilder().ToolCall(tool.LeadToolName, validLead).ToolCall("SearchFAQs", `{"query":"x"}`).Build(),
		core.NewToolMessage(core.NewToolResult(core.ToolCall{ID: "call-1", Name: tool.LeadToolName}, "ok")),
	).Build()

	out := danglingResults(thread)
	require.Len(t, out, 1)
	results := out[0].Content.ToolResults()
	require.Len(t, results, 1)
	assert.Equal(t, "call-2", results[0].CallID)
	assert.Equal(t, core.ToolStatusError, results[0].Status)

	assert.Nil(t, danglingResults(testutil.NewThreadBuilder("empty").Build()))
}

func TestParseReviewPolicy(t *testing.T) {
	lead := core.NewAssistantMessage("", core.ToolCall{ID: "1", Name: tool.LeadToolName})
	text := core.NewAssistantMessage("hola")

	p, err := ParseReviewPolicy("tools", []string{tool.LeadToolName})
	require.NoError(t, err)
	assert.True(t, p.RequiresReview(lead))
	assert.False(t, p.RequiresReview(text))

	p, err = ParseReviewPolicy("ALWAYS", nil)
	require.NoError(t, err)
	assert.True(t, p.RequiresReview(text))

	p, err = ParseReviewPolicy("never", nil)
	require.NoError(t, err)
	assert.False(t, p.RequiresReview(lead))

	_, err = ParseReviewPolicy("sometimes", nil)
	assert.Error(t, err)
}

// sharedBucket stands in for one KV bucket reached by several processes.
type sharedBucket struct {
	mu        sync.Mutex
	seq       uint64
	entries   map[string][]byte
	revs      map[string]uint64
	createErr error
}

func newSharedBucket() *sharedBucket {
	return &sharedBucket{entries: map[string][]byte{}, revs: map[string]uint64{}}
}

func (b *sharedBucket) Get(_ context.Context, key string) ([]byte, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.entries[key]
	if !ok {
		return nil, 0, core.ErrThreadNotFound
	}
	return append([]byte(nil), v...), b.revs[key], nil
}

func (b *sharedBucket) Create(_ context.Context, key string, value []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return 0, b.createErr
	}
	if _, ok := b.entries[key]; ok {
		return 0, memory.ErrRevisionConflict
	}
	return b.put(key, value), nil
}

func (b *sharedBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.revs[key] != revision {
		return 0, memory.ErrRevisionConflict
	}
	return b.put(key, value), nil
}

func (b *sharedBucket) Delete(_ context.Context, key string, revision uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; !ok || b.revs[key] != revision {
		return memory.ErrRevisionConflict
	}
	delete(b.entries, key)
	delete(b.revs, key)
	return nil
}

func (b *sharedBucket) put(key string, value []byte) uint64 {
	b.seq++
	b.entries[key] = append([]byte(nil), value...)
	b.revs[key] = b.seq
	return b.seq
}

func TestRun_OneRunPerThreadAcrossProcesses(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(model.Turn{Tokens: []string{"uno"}, Block: block}, model.TextTurn("dos"))
	bucket := newSharedBucket()
	a := f.runner(func(o *Options) { o.Store = memory.NewKVStore(bucket) })
	b := f.runner(func(o *Options) { o.Store = memory.NewKVStore(bucket) })
	ctx := context.Background()

	_, events, errs, err := a.Run(ctx, "T1", UserText("primero"))
	require.NoError(t, err)

	_, _, _, err = b.Run(ctx, "T1", UserText("segundo"))
	require.ErrorIs(t, err, core.ErrConcurrencyViolation)
	assert.True(t, IsRejection(err))

	close(block)
	assert.Equal(t, "uno", testutil.Transcript(testutil.Drain(events)))
	require.NoError(t, <-errs)

	res, err := b.InvokeSync(ctx, "T1", UserText("segundo"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)

	thread, err := memory.NewKVStore(bucket).Load(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, thread.Messages, 4)
	assert.Equal(t, "segundo", thread.Messages[2].Text())
}

func TestRun_LeaseFailureReleasesTheLocalGuard(t *testing.T) {
	f := newFixture(model.TextTurn("hola"))
	bucket := newSharedBucket()
	bucket.createErr = errors.New("nats: no responders")
	r := f.runner(func(o *Options) { o.Store = memory.NewKVStore(bucket) })
	ctx := context.Background()

	_, _, _, err := r.Run(ctx, "T1", UserText("hola"))
	require.ErrorContains(t, err, "no responders")
	assert.False(t, errors.Is(err, core.ErrConcurrencyViolation))

	bucket.mu.Lock()
	bucket.createErr = nil
	bucket.mu.Unlock()

	res, err := r.InvokeSync(ctx, "T1", UserText("hola"))
	require.NoError(t, err)
	assert.Equal(t, StatusDone, res.Status)
}
