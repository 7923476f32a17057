package interview

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/ai"
	"github.com/zhouzirui/pitch-arena/backend/internal/service/analysis"
	interviewsvc "github.com/zhouzirui/pitch-arena/backend/internal/service/interview"
)

type stubGenerator struct {
	mu      sync.Mutex
	err     error
	n       int
	started chan struct{}
	release chan struct{}
}

func (g *stubGenerator) GenerateQuestion(ctx context.Context, _ ai.TurnContext) (*ai.Question, error) {
	g.mu.Lock()
	started, release := g.started, g.release
	g.started, g.release = nil, nil
	g.mu.Unlock()

	if release != nil {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.n++
	return &ai.Question{Text: "What is your moat?", Provider: "stub"}, nil
}

// hold 让下一次生成阻塞，直到 release 被关闭。
func (g *stubGenerator) hold() (started, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = make(chan struct{})
	g.release = make(chan struct{})
	return g.started, g.release
}

func (g *stubGenerator) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, analysis.Request) model.AnalysisResult {
	return model.AnalysisResult{EngagementScore: 75, ContentAccuracyScore: 70, Summary: "solid"}
}

type testEnv struct {
	gen      *stubGenerator
	sessions *interviewsvc.Service
	events   *interviewsvc.Broadcaster
	router   http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gen := &stubGenerator{}
	events := interviewsvc.NewBroadcaster(32, nil)
	orch := interviewsvc.NewOrchestrator(interviewsvc.Dependencies{
		Generator: gen,
		Analyzer:  stubAnalyzer{},
	}, interviewsvc.WithOpeningDelay(0), interviewsvc.WithLauncher(func(task func()) { task() }))
	sessions := interviewsvc.NewService(orch, events, nil)

	r := chi.NewRouter()
	r.Route("/api", func(api chi.Router) {
		New(sessions, events, WithHeartbeat(20*time.Millisecond)).RegisterRoutes(api)
	})
	return &testEnv{gen: gen, sessions: sessions, events: events, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeSnapshot(t *testing.T, rr *httptest.ResponseRecorder) interviewsvc.Snapshot {
	t.Helper()
	var snap interviewsvc.Snapshot
	if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Code
}

// liveSession 通过 REST 接口把会话推进到 Live。
func (e *testEnv) liveSession(t *testing.T) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/interviews/", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status: %d", rr.Code)
	}
	id := decodeSnapshot(t, rr).ID

	steps := []struct {
		path string
		body any
	}{
		{"/artifact", map[string]string{"name": "SolarMesh", "preview": "Mesh routers"}},
		{"/media", map[string]any{"ok": true}},
		{"/live", nil},
	}
	for _, step := range steps {
		rr := e.do(t, http.MethodPost, "/api/interviews/"+id+step.path, step.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status: %d body=%s", step.path, rr.Code, rr.Body.String())
		}
	}
	return id
}

func TestInterviewRESTFlow(t *testing.T) {
	env := newTestEnv(t)
	id := env.liveSession(t)

	snap := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/interviews/"+id+"/", nil))
	if snap.Phase != model.PhaseLive || snap.TurnCount != 1 {
		t.Fatalf("unexpected snapshot after live: %+v", snap)
	}

	rr := env.do(t, http.MethodPost, "/api/interviews/"+id+"/responses", map[string]string{"text": "We sell to utilities."})
	if rr.Code != http.StatusOK {
		t.Fatalf("responses status: %d body=%s", rr.Code, rr.Body.String())
	}
	var turn turnResponse
	if err := json.NewDecoder(rr.Body).Decode(&turn); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if turn.Outcome.TurnCount != 2 || turn.Outcome.Question != "What is your moat?" {
		t.Fatalf("unexpected outcome: %+v", turn.Outcome)
	}

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/end", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("end status: %d", rr.Code)
	}
	snap = decodeSnapshot(t, rr)
	if snap.Phase != model.PhaseTerminal || snap.Analysis == nil || snap.Analysis.EngagementScore != 75 {
		t.Fatalf("unexpected snapshot after end: %+v", snap)
	}

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/responses", map[string]string{"text": "late"})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "not_live" {
		t.Fatalf("expected 409 not_live, got %d", rr.Code)
	}
}

func TestResponseSurvivesClientDisconnect(t *testing.T) {
	env := newTestEnv(t)
	id := env.liveSession(t)
	started, release := env.gen.hold()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/interviews/"+id+"/responses",
		strings.NewReader(`{"text":"We sell to utilities."}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		env.router.ServeHTTP(rr, req)
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not start")
	}
	cancel()
	close(release)
	<-done

	if rr.Code != http.StatusOK {
		t.Fatalf("expected the turn to complete, got %d body=%s", rr.Code, rr.Body.String())
	}
	session, err := env.sessions.Get(id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	snap := session.Snapshot()
	last := snap.Conversation[len(snap.Conversation)-1]
	if snap.TurnCount != 2 || last.Speaker != model.SpeakerPanelist {
		t.Fatalf("expected a panelist reply after disconnect, got turnCount=%d last=%+v", snap.TurnCount, last)
	}
}

func TestInterviewErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/interviews/missing/", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	id := env.liveSession(t)
	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/responses", map[string]string{"text": "  "})
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "input_required" {
		t.Fatalf("expected 400 input_required, got %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/artifact", map[string]string{"name": "again"})
	if rr.Code != http.StatusConflict || errorCode(t, rr) != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d", rr.Code)
	}

	env.gen.fail(errors.New("provider down"))
	rr = env.do(t, http.MethodPost, "/api/interviews/"+id+"/responses", map[string]string{"text": "answer"})
	if rr.Code != http.StatusUnprocessableEntity || errorCode(t, rr) != "turn_failed" {
		t.Fatalf("expected 422 turn_failed, got %d", rr.Code)
	}
}

func TestClassifyPrefersTurnFailure(t *testing.T) {
	err := errors.Join(interviewsvc.ErrTurnFailed, interviewsvc.ErrNoAudioCaptured)
	if status, code := classify(err); status != http.StatusUnprocessableEntity || code != "turn_failed" {
		t.Fatalf("classify = %d %s", status, code)
	}
	if status, _ := classify(errors.New("boom")); status != http.StatusInternalServerError {
		t.Fatalf("unknown errors should map to 500, got %d", status)
	}
}

func TestArtifactUpload(t *testing.T) {
	env := newTestEnv(t)
	id := decodeSnapshot(t, env.do(t, http.MethodPost, "/api/interviews/", nil)).ID

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("deck", "solarmesh.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile err: %v", err)
	}
	if _, err := part.Write([]byte("%PDF\x00\x01 Solar\n\nMesh")); err != nil {
		t.Fatalf("write deck err: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer.Close err: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/interviews/"+id+"/artifact", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upload status: %d body=%s", rr.Code, rr.Body.String())
	}
	snap := decodeSnapshot(t, rr)
	if snap.Artifact.Name != "solarmesh.pdf" || snap.Artifact.Preview != "%PDF Solar Mesh" {
		t.Fatalf("unexpected artifact: %+v", snap.Artifact)
	}
}

func TestDiscardSession(t *testing.T) {
	env := newTestEnv(t)
	id := decodeSnapshot(t, env.do(t, http.MethodPost, "/api/interviews/", nil)).ID

	if rr := env.do(t, http.MethodDelete, "/api/interviews/"+id+"/", nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status: %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/interviews/"+id+"/", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	id := decodeSnapshot(t, env.do(t, http.MethodPost, "/api/interviews/", nil)).ID

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/interviews/"+id+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	waitForLine(t, reader, "event: snapshot")

	if rr := env.do(t, http.MethodPost, "/api/interviews/"+id+"/artifact", map[string]string{"name": "deck"}); rr.Code != http.StatusOK {
		t.Fatalf("artifact status: %d", rr.Code)
	}
	waitForLine(t, reader, "event: phase_changed")
}

func waitForLine(t *testing.T, r *bufio.Reader, want string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended before %q: %v", want, err)
		}
		if strings.TrimSpace(line) == want {
			return
		}
	}
}
