package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/metrics"
	"github.com/issuebot/issuebot/internal/poller"
	"github.com/issuebot/issuebot/internal/store"
)

type gatewayFixture struct {
	server   *Server
	store    *store.Store
	recorder *events.Recorder
	http     *httptest.Server
}

func newGatewayFixture(t *testing.T, mutate func(*Config)) *gatewayFixture {
	t.Helper()

	st, err := store.NewStoreFromPath(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	rec := events.NewRecorder(st)
	cfg := Config{
		Store:    st,
		Recorder: rec,
		Version:  "1.2.3",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s := New(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &gatewayFixture{server: s, store: st, recorder: rec, http: ts}
}

func seedRepo(t *testing.T, st *store.Store, owner, name string) *store.Repo {
	t.Helper()
	repo := &store.Repo{
		Owner:            owner,
		Name:             name,
		DefaultBranch:    "main",
		Mode:             store.ModeAutonomous,
		MaxIterations:    3,
		CIEnabled:        true,
		CITimeoutMinutes: 30,
		AutoMerge:        true,
	}
	if err := st.UpsertRepo(repo); err != nil {
		t.Fatalf("failed to seed repo: %v", err)
	}
	return repo
}

func seedIssue(t *testing.T, st *store.Store, repoID int64, number int, title string) *store.Issue {
	t.Helper()
	issue := &store.Issue{RepoID: repoID, IssueNumber: number, IssueTitle: title}
	if err := st.CreateIssue(issue); err != nil {
		t.Fatalf("failed to seed issue #%d: %v", number, err)
	}
	return issue
}

func getJSON(t *testing.T, fx *gatewayFixture, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(fx.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s returned %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode %s response: %v", path, err)
		}
	}
	return resp
}

type stubPoller struct {
	status poller.Status
}

func (p *stubPoller) Status() poller.Status { return p.status }

func TestHealthEndpoint(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	var body map[string]string
	resp := getJSON(t, fx, "/health", &body)

	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	next := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := newGatewayFixture(t, func(cfg *Config) {
		cfg.Poller = &stubPoller{status: poller.Status{
			Running:  true,
			Interval: time.Minute,
			NextRun:  next,
		}}
	})

	repo := seedRepo(t, fx.store, "acme", "site")
	pending := seedIssue(t, fx.store, repo.ID, 1, "Fix login")
	queued := seedIssue(t, fx.store, repo.ID, 2, "Add logout")
	if ok, err := fx.store.MarkQueued(queued.ID); err != nil || !ok {
		t.Fatalf("failed to queue issue: ok=%v err=%v", ok, err)
	}
	cost := &store.Cost{
		IssueID:       pending.ID,
		IterationNum:  1,
		InputTokens:   100,
		OutputTokens:  40,
		EstimatedCost: 0.25,
		ModelUsed:     "codegen-large",
		Phase:         store.CostPhaseImplementation,
	}
	if err := fx.store.AddCost(cost); err != nil {
		t.Fatalf("failed to add cost: %v", err)
	}

	var body statusResponse
	getJSON(t, fx, "/api/v1/status", &body)

	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", body.Version)
	}
	if body.Repos != 1 {
		t.Errorf("repos = %d, want 1", body.Repos)
	}
	if body.Issues[store.StatusPending] != 1 || body.Issues[store.StatusQueued] != 1 {
		t.Errorf("issue counts = %v, want 1 PENDING and 1 QUEUED", body.Issues)
	}
	if got, ok := body.Issues[store.StatusCompleted]; !ok || got != 0 {
		t.Errorf("COMPLETED count = %d (present=%v), want explicit 0", got, ok)
	}
	if body.EventClients != 0 {
		t.Errorf("event_clients = %d, want 0", body.EventClients)
	}
	if body.Cost.InputTokens != 100 || body.Cost.OutputTokens != 40 || body.Cost.Invocations != 1 {
		t.Errorf("cost = %+v, want 100 in / 40 out / 1 invocation", body.Cost)
	}
	if !body.Poller.Running {
		t.Error("poller.running = false, want true")
	}
	if body.Poller.Interval != "1m0s" {
		t.Errorf("poller.interval = %q, want 1m0s", body.Poller.Interval)
	}
	if body.Poller.NextRun != "2026-03-01T12:00:00Z" {
		t.Errorf("poller.next_run = %q", body.Poller.NextRun)
	}
	if body.Poller.LastRun != "" {
		t.Errorf("poller.last_run = %q, want empty before the first cycle", body.Poller.LastRun)
	}
}

func TestReposEndpoint(t *testing.T) {
	fx := newGatewayFixture(t, nil)
	seedRepo(t, fx.store, "acme", "site")
	seedRepo(t, fx.store, "acme", "api")

	var body struct {
		Repos []repoBody `json:"repos"`
	}
	getJSON(t, fx, "/api/v1/repos", &body)

	if len(body.Repos) != 2 {
		t.Fatalf("got %d repos, want 2", len(body.Repos))
	}
	names := map[string]bool{}
	for _, r := range body.Repos {
		names[r.FullName] = true
		if r.DefaultBranch != "main" || r.Mode != store.ModeAutonomous {
			t.Errorf("repo %s = %+v", r.FullName, r)
		}
	}
	if !names["acme/site"] || !names["acme/api"] {
		t.Errorf("repo names = %v", names)
	}
}

func TestIssuesEndpointFiltersByStatus(t *testing.T) {
	fx := newGatewayFixture(t, nil)
	repo := seedRepo(t, fx.store, "acme", "site")
	seedIssue(t, fx.store, repo.ID, 1, "Fix login")
	queued := seedIssue(t, fx.store, repo.ID, 2, "Add logout")
	if ok, err := fx.store.MarkQueued(queued.ID); err != nil || !ok {
		t.Fatalf("failed to queue issue: ok=%v err=%v", ok, err)
	}

	var all struct {
		Issues []issueBody `json:"issues"`
	}
	getJSON(t, fx, "/api/v1/issues", &all)
	if len(all.Issues) != 2 {
		t.Fatalf("got %d issues, want 2", len(all.Issues))
	}
	if all.Issues[0].Repo != "acme/site" {
		t.Errorf("repo = %q, want acme/site", all.Issues[0].Repo)
	}

	var filtered struct {
		Issues []issueBody `json:"issues"`
	}
	getJSON(t, fx, "/api/v1/issues?status=QUEUED", &filtered)
	if len(filtered.Issues) != 1 {
		t.Fatalf("got %d QUEUED issues, want 1", len(filtered.Issues))
	}
	got := filtered.Issues[0]
	if got.IssueNumber != 2 || got.Status != store.StatusQueued || got.Title != "Add logout" {
		t.Errorf("filtered issue = %+v", got)
	}

	resp, err := http.Get(fx.http.URL + "/api/v1/issues?status=BOGUS")
	if err != nil {
		t.Fatalf("GET with bogus status: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus status returned %d, want 400", resp.StatusCode)
	}
}

func TestAPIRejectsNonGET(t *testing.T) {
	fx := newGatewayFixture(t, nil)

	for _, path := range []string{"/api/v1/status", "/api/v1/repos", "/api/v1/issues"} {
		resp, err := http.Post(fx.http.URL+path, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("POST %s returned %d, want 405", path, resp.StatusCode)
		}
	}
}

func TestBasicAuthGuardsAPI(t *testing.T) {
	fx := newGatewayFixture(t, func(cfg *Config) {
		cfg.Username = "admin"
		cfg.Password = "s3cret"
	})

	// No credentials.
	resp, err := http.Get(fx.http.URL + "/api/v1/status")
	if err != nil {
		t.Fatalf("GET without creds: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no creds returned %d, want 401", resp.StatusCode)
	}
	if got := resp.Header.Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Errorf("WWW-Authenticate = %q, want Basic challenge", got)
	}

	// Wrong password.
	req, _ := http.NewRequest(http.MethodGet, fx.http.URL+"/api/v1/status", nil)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with wrong creds: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong creds returned %d, want 401", resp.StatusCode)
	}

	// Valid credentials.
	req, _ = http.NewRequest(http.MethodGet, fx.http.URL+"/api/v1/status", nil)
	req.SetBasicAuth("admin", "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with valid creds: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid creds returned %d, want 200", resp.StatusCode)
	}

	// Health and metrics stay public.
	for _, path := range []string{"/health", "/metrics"} {
		resp, err := http.Get(fx.http.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s returned %d, want 200 without creds", path, resp.StatusCode)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	fx := newGatewayFixture(t, func(cfg *Config) {
		cfg.Metrics = m
		cfg.Gatherer = reg
	})

	m.PollsTotal.Inc()

	resp, err := http.Get(fx.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read metrics body: %v", err)
	}
	if !strings.Contains(string(body), "issuebot_polls_total 1") {
		t.Errorf("metrics body missing issuebot_polls_total:\n%s", body)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{})

	if s.config.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", s.config.Host)
	}
	if s.config.Port != 8090 {
		t.Errorf("port = %d, want 8090", s.config.Port)
	}
	if s.config.Metrics == nil || s.config.Gatherer == nil {
		t.Error("nil Metrics or Gatherer not defaulted")
	}
	if s.auth != nil {
		t.Error("auth configured without credentials")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	st, err := store.NewStoreFromPath(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	s := New(Config{
		Host:     "127.0.0.1",
		Port:     18090,
		Store:    st,
		Recorder: events.NewRecorder(st),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	waitFor(t, "listener to come up", func() bool {
		resp, err := http.Get("http://127.0.0.1:18090/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down after cancel")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
