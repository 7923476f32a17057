package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	speechmodel "github.com/zhouzirui/pitch-arena/backend/internal/model/speech"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/ai"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/analysis"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/speech"
)

type fakeGenerator struct {
	mu      sync.Mutex
	err     error
	calls   []ai.TurnContext
	started chan struct{}
	release chan struct{}
}

func (g *fakeGenerator) GenerateQuestion(ctx context.Context, tc ai.TurnContext) (*ai.Question, error) {
	g.mu.Lock()
	g.calls = append(g.calls, tc)
	n := len(g.calls)
	err := g.err
	started, release := g.started, g.release
	g.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}
	return &ai.Question{Text: questionText(n), Provider: "fake", Parse: ai.ParsedObject}, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *fakeGenerator) lastCall() ai.TurnContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[len(g.calls)-1]
}

// block 让后续调用在 release 关闭前挂起。
func (g *fakeGenerator) block() (started chan struct{}, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = make(chan struct{}, 1)
	g.release = make(chan struct{})
	return g.started, g.release
}

func questionText(n int) string {
	return "Question " + string(rune('A'+n-1)) + "?"
}

type fakeTranscriber struct {
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, _ []byte, _ string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeSynth struct {
	mu     sync.Mutex
	spoken []speech.Utterance
	panics bool
}

func (f *fakeSynth) Speak(_ context.Context, u speech.Utterance) speechmodel.Playback {
	if f.panics {
		panic("audio device gone")
	}
	f.mu.Lock()
	f.spoken = append(f.spoken, u)
	f.mu.Unlock()
	return speechmodel.Playback{SessionID: u.SessionID, PersonaID: u.Persona.ID, Backend: "fake", Audio: []byte("mp3")}
}

type fakeAnalyzer struct {
	result model.AnalysisResult
	calls  int
	seen   []model.Turn
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analysis.Request) model.AnalysisResult {
	f.calls++
	f.seen = req.Conversation
	return f.result
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) count(t EventType) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (r *recordingSink) last(t EventType) (Event, bool) {
	events := r.all()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true
		}
	}
	return Event{}, false
}

// taskQueue 记录语音任务但不执行，用于观察异步派发。
type taskQueue struct {
	mu    sync.Mutex
	tasks []func()
}

func (q *taskQueue) launch(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

func (q *taskQueue) runAll() {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

type harness struct {
	gen      *fakeGenerator
	asr      *fakeTranscriber
	synth    *fakeSynth
	analyzer *fakeAnalyzer
	sink     *recordingSink
	tasks    *taskQueue
	service  *Service
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, nil, opts...)
}

// newHarnessWith 允许测试在构建编排器之前替换依赖。
func newHarnessWith(t *testing.T, override func(*Dependencies), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		gen:      &fakeGenerator{},
		asr:      &fakeTranscriber{text: "We cache at the edge."},
		synth:    &fakeSynth{},
		analyzer: &fakeAnalyzer{result: model.AnalysisResult{EngagementScore: 70, ContentAccuracyScore: 65, Summary: "ok"}},
		sink:     &recordingSink{},
		tasks:    &taskQueue{},
	}
	base := []Option{
		WithOpeningDelay(0),
		WithLauncher(h.tasks.launch),
		WithPicker(func(n int) int { return n - 1 }),
	}
	deps := Dependencies{
		Generator:   h.gen,
		Transcriber: h.asr,
		Synthesizer: h.synth,
		Analyzer:    h.analyzer,
	}
	if override != nil {
		override(&deps)
	}
	orch := NewOrchestrator(deps, append(base, opts...)...)
	h.service = NewService(orch, h.sink, nil)
	return h
}

// live 创建会话并走完 Setup 与媒体检查，GoLive 后开场问题已经生成。
func (h *harness) live(t *testing.T) *Session {
	t.Helper()
	s := h.service.Create()
	if err := s.Setup(model.Artifact{Name: "SolarMesh", Preview: "Mesh network of solar routers."}); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if err := s.ReportMedia(true, ""); err != nil {
		t.Fatalf("ReportMedia returned error: %v", err)
	}
	if err := s.GoLive(); err != nil {
		t.Fatalf("GoLive returned error: %v", err)
	}
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

var errProviderDown = errors.New("provider down")

type scriptedCompleter struct {
	name string
	out  string
	err  error
}

func (c scriptedCompleter) Name() string { return c.name }

func (c scriptedCompleter) Complete(context.Context, string, string) (string, error) {
	return c.out, c.err
}

func (g *fakeGenerator) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}
