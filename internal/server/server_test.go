package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"bugarena/internal/config"
	"bugarena/internal/db"
	"bugarena/internal/domain"
	"bugarena/internal/engine"
	"bugarena/internal/lifecycle"
	"bugarena/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowAgentHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-Id", "orchestrator")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

func TestHealthNoAuth(t *testing.T) {
	ts := newTestServer(t)
	res, err := ts.Client().Get(ts.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestMissingAuthRejected(t *testing.T) {
	ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v0/games", nil)
	res, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestGameLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.Client()

	res, data := doJSON(t, c, http.MethodPost, ts.URL+"/v0/games", CreateGameRequest{
		Artifact: "payments-svc", AgentCount: intPtr(2), TargetScore: intPtr(10),
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create game: %d %s", res.StatusCode, data)
	}
	g := decode[domain.Game](t, data)
	if g.Phase != domain.PhaseSetup {
		t.Fatalf("phase = %s", g.Phase)
	}

	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/games/"+g.ID+"/hunt/start", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start hunt: %d %s", res.StatusCode, data)
	}
	g = decode[domain.Game](t, data)
	if g.Phase != domain.PhaseHunt || g.Round != 1 {
		t.Fatalf("phase=%s round=%d", g.Phase, g.Round)
	}

	// double start conflicts
	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/games/"+g.ID+"/hunt/start", nil, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("second start: %d %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "illegal_transition" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}

	agentID := g.ID + "-agent-01"
	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/games/"+g.ID+"/findings", SubmitFindingRequest{
		AgentID:     agentID,
		Description: "nil map write on concurrent registration",
		FilePath:    "auth/register.go",
		LineStart:   88,
		LineEnd:     95,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit finding: %d %s", res.StatusCode, data)
	}
	f := decode[domain.Finding](t, data)
	if !f.IsPending() || f.PatternHash == "" {
		t.Fatalf("finding status=%s hash=%q", f.Status, f.PatternHash)
	}

	// premature check reports advanced=false with 200
	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/games/"+g.ID+"/hunt/check", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("check hunt: %d %s", res.StatusCode, data)
	}
	check := decode[PhaseCheckResponse](t, data)
	if check.Advanced {
		t.Fatalf("premature check advanced")
	}

	for _, suffix := range []string{"-agent-01", "-agent-02"} {
		res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/games/"+g.ID+"/agents/"+g.ID+suffix+"/hunt-done", nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("hunt done: %d %s", res.StatusCode, data)
		}
	}
	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/games/"+g.ID+"/hunt/check", nil, nil)
	check = decode[PhaseCheckResponse](t, data)
	if !check.Advanced || check.Game.Phase != domain.PhaseHuntScoring {
		t.Fatalf("advanced=%v phase=%s", check.Advanced, check.Game.Phase)
	}

	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/findings/"+f.ID+"/validate", ValidateFindingRequest{
		Verdict: "confirmed", Confidence: "high",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate: %d %s", res.StatusCode, data)
	}
	f = decode[domain.Finding](t, data)
	if !f.IsValid() || f.PointsAwarded != 10 {
		t.Fatalf("status=%s points=%d", f.Status, f.PointsAwarded)
	}

	res, data = doJSON(t, c, http.MethodGet, ts.URL+"/v0/games/"+g.ID+"/scoreboard", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("scoreboard: %d %s", res.StatusCode, data)
	}
	board := decode[ScoreboardResponse](t, data)
	if len(board.Entries) != 2 || board.Entries[0].Agent.ID != agentID || board.Entries[0].Agent.Score != 10 {
		t.Fatalf("scoreboard = %s", data)
	}
}

func TestDisputeConflictsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	c := ts.Client()
	ctx := context.Background()

	g, err := ts.Engine.CreateGame(ctx, engine.GameCreateOptions{Artifact: "svc", AgentCount: 2, ActorID: "orchestrator"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Engine.StartHunt(ctx, g.ID, "orchestrator"); err != nil {
		t.Fatal(err)
	}
	a1, a2 := g.ID+"-agent-01", g.ID+"-agent-02"
	f, err := ts.Engine.SubmitFinding(ctx, engine.FindingSubmitOptions{
		GameID: g.ID, AgentID: a1, Description: "double free in parser", FilePath: "parse.go", LineStart: 5, LineEnd: 9,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range []string{a1, a2} {
		if _, err := ts.Engine.SignalHuntDone(ctx, g.ID, a); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := ts.Engine.CheckHunt(ctx, g.ID, "orchestrator"); err != nil {
		t.Fatal(err)
	}
	if _, err := ts.Engine.ValidateFinding(ctx, f.ID, lifecycle.ValidateOptions{Verdict: "confirmed"}, "adjudicator"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := ts.Engine.StartReview(ctx, g.ID, "orchestrator"); err != nil {
		t.Fatal(err)
	}

	// self dispute conflicts
	res, data := doJSON(t, c, http.MethodPost, ts.URL+"/v0/findings/"+f.ID+"/disputes", SubmitDisputeRequest{
		AgentID: a1, Reason: "my own finding",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("self dispute: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/findings/"+f.ID+"/disputes", SubmitDisputeRequest{
		AgentID: a2, Reason: "freed pointer is reassigned first",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("dispute: %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, c, http.MethodPost, ts.URL+"/v0/findings/"+f.ID+"/disputes", SubmitDisputeRequest{
		AgentID: a2, Reason: "again",
	}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("repeat dispute: %d %s", res.StatusCode, data)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "dispute_exists" {
		t.Fatalf("code = %s", envelope.Error.Code)
	}
}

func TestNotFoundEnvelope(t *testing.T) {
	ts := newTestServer(t)
	res, data := doJSON(t, ts.Client(), http.MethodGet, ts.URL+"/v0/games/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatal(err)
	}
	if envelope.Error.Code != "not_found" || envelope.Error.Message == "" {
		t.Fatalf("envelope = %s", data)
	}
}

func intPtr(v int) *int { return &v }
