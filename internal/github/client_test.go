package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const testToken = "test-token"

func TestNewClient(t *testing.T) {
	client := NewClient(testToken)
	if client == nil {
		t.Fatal("NewClient returned nil")
	}
	if client.baseURL != githubAPIURL {
		t.Errorf("client.baseURL = %s, want %s", client.baseURL, githubAPIURL)
	}
}

func TestGetIssue(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   interface{}
		wantErr    bool
	}{
		{
			name:       "success",
			statusCode: http.StatusOK,
			response: Issue{
				Number:  42,
				Title:   "Test Issue",
				Body:    "Issue body",
				State:   "open",
				HTMLURL: "https://github.com/owner/repo/issues/42",
			},
			wantErr: false,
		},
		{
			name:       "not found",
			statusCode: http.StatusNotFound,
			response:   map[string]string{"message": "Not Found"},
			wantErr:    true,
		},
		{
			name:       "unauthorized",
			statusCode: http.StatusUnauthorized,
			response:   map[string]string{"message": "Bad credentials"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/repos/owner/repo/issues/42" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				if r.Method != http.MethodGet {
					t.Errorf("expected GET, got %s", r.Method)
				}
				if r.Header.Get("Authorization") != "Bearer "+testToken {
					t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
				}
				if r.Header.Get("Accept") != "application/vnd.github+json" {
					t.Errorf("unexpected Accept header: %s", r.Header.Get("Accept"))
				}

				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client := NewClientWithBaseURL(testToken, server.URL)
			issue, err := client.GetIssue(context.Background(), "owner", "repo", 42)

			if (err != nil) != tt.wantErr {
				t.Errorf("GetIssue() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && issue.Number != 42 {
				t.Errorf("issue.Number = %d, want 42", issue.Number)
			}
		})
	}
}

func TestListIssuesFiltersLabelsCaseInsensitively(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/repos/owner/repo/issues") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		issues := []Issue{
			{Number: 1, Title: "ready", Labels: []Label{{Name: "Agent-Ready"}}},
			{Number: 2, Title: "escalated", Labels: []Label{{Name: "agent-ready"}, {Name: "needs-human"}}},
			{Number: 3, Title: "unlabeled"},
		}
		_ = json.NewEncoder(w).Encode(issues)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	issues, err := client.ListIssues(context.Background(), "owner", "repo", &ListIssuesOptions{
		State:  StateOpen,
		Labels: []string{LabelAgentReady},
	})
	if err != nil {
		t.Fatalf("ListIssues failed: %v", err)
	}

	if len(issues) != 2 {
		t.Fatalf("expected 2 labeled issues, got %d", len(issues))
	}
	if issues[0].Number != 1 || issues[1].Number != 2 {
		t.Errorf("unexpected issues: %v, %v", issues[0].Number, issues[1].Number)
	}
	if !HasLabel(issues[1], "NEEDS-HUMAN") {
		t.Error("expected case-insensitive label match")
	}
}

func TestRemoveLabelToleratesNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Label does not exist"}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	if err := client.RemoveLabel(context.Background(), "owner", "repo", 1, "needs-human"); err != nil {
		t.Errorf("expected 404 tolerated, got: %v", err)
	}
}

func TestCreatePullRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/pulls" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		var input PullRequestInput
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			t.Fatalf("failed to decode input: %v", err)
		}
		if input.Head != "issuebot/issue-7-add-widget" {
			t.Errorf("unexpected head: %s", input.Head)
		}
		if input.Base != "main" {
			t.Errorf("unexpected base: %s", input.Base)
		}

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(PullRequest{
			Number: 99,
			State:  "open",
			Title:  input.Title,
			Head:   BranchRef{Ref: input.Head, SHA: "abc123"},
			Base:   BranchRef{Ref: input.Base},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	pr, err := client.CreatePullRequest(context.Background(), "owner", "repo", &PullRequestInput{
		Title: "Fix #7",
		Body:  "Resolves #7",
		Head:  "issuebot/issue-7-add-widget",
		Base:  "main",
	})
	if err != nil {
		t.Fatalf("CreatePullRequest failed: %v", err)
	}
	if pr.Number != 99 {
		t.Errorf("pr.Number = %d, want 99", pr.Number)
	}
}

func TestFindPRByBranch(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			head := r.URL.Query().Get("head")
			if head != "owner:issuebot/issue-7-add-widget" {
				t.Errorf("unexpected head query: %s", head)
			}
			_ = json.NewEncoder(w).Encode([]PullRequest{{Number: 12, State: "open"}})
		}))
		defer server.Close()

		client := NewClientWithBaseURL(testToken, server.URL)
		pr, err := client.FindPRByBranch(context.Background(), "owner", "repo", "issuebot/issue-7-add-widget")
		if err != nil {
			t.Fatalf("FindPRByBranch failed: %v", err)
		}
		if pr == nil || pr.Number != 12 {
			t.Errorf("expected PR 12, got %+v", pr)
		}
	})

	t.Run("none open", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode([]PullRequest{})
		}))
		defer server.Close()

		client := NewClientWithBaseURL(testToken, server.URL)
		pr, err := client.FindPRByBranch(context.Background(), "owner", "repo", "issuebot/issue-7-add-widget")
		if err != nil {
			t.Fatalf("FindPRByBranch failed: %v", err)
		}
		if pr != nil {
			t.Errorf("expected nil for no open PR, got %+v", pr)
		}
	})
}

func TestGetCombinedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/commits/abc123/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(CombinedStatus{
			State:      "success",
			SHA:        "abc123",
			TotalCount: 2,
			Statuses: []CommitStatus{
				{State: "success", Context: "ci/build"},
				{State: "success", Context: "ci/test"},
			},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	status, err := client.GetCombinedStatus(context.Background(), "owner", "repo", "abc123")
	if err != nil {
		t.Fatalf("GetCombinedStatus failed: %v", err)
	}
	if status.State != "success" {
		t.Errorf("status.State = %s, want success", status.State)
	}
	if status.TotalCount != 2 {
		t.Errorf("status.TotalCount = %d, want 2", status.TotalCount)
	}
}

func TestListCheckRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/commits/abc123/check-runs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(CheckRunsResponse{
			TotalCount: 1,
			CheckRuns: []CheckRun{
				{ID: 1, Name: "test", Status: "completed", Conclusion: "failure"},
			},
		})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	runs, err := client.ListCheckRuns(context.Background(), "owner", "repo", "abc123")
	if err != nil {
		t.Fatalf("ListCheckRuns failed: %v", err)
	}
	if runs.TotalCount != 1 {
		t.Fatalf("runs.TotalCount = %d, want 1", runs.TotalCount)
	}
	if runs.CheckRuns[0].Conclusion != "failure" {
		t.Errorf("conclusion = %s, want failure", runs.CheckRuns[0].Conclusion)
	}
}

func TestMergePullRequest(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/owner/repo/pulls/99/merge" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"merged": true})
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	err := client.MergePullRequest(context.Background(), "owner", "repo", 99, MergeMethodSquash, "Fix widget (#7)")
	if err != nil {
		t.Fatalf("MergePullRequest failed: %v", err)
	}
	if gotBody["merge_method"] != "squash" {
		t.Errorf("merge_method = %s, want squash", gotBody["merge_method"])
	}
	if gotBody["commit_title"] != "Fix widget (#7)" {
		t.Errorf("commit_title = %s", gotBody["commit_title"])
	}
}

func TestGetRepositoryNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(testToken, server.URL)
	_, err := client.GetRepository(context.Background(), "owner", "gone")
	if err == nil {
		t.Fatal("expected error for missing repo")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound true for: %v", err)
	}
}

func TestLatestReviewStates(t *testing.T) {
	earlier := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Hour)
	reviews := []*PullRequestReview{
		{User: User{Login: "alice"}, State: ReviewStateChangesRequested, SubmittedAt: earlier},
		{User: User{Login: "bob"}, State: ReviewStateApproved, SubmittedAt: earlier},
		{User: User{Login: "alice"}, State: ReviewStateApproved, SubmittedAt: later},
	}

	latest := LatestReviewStates(reviews)
	if len(latest) != 2 {
		t.Fatalf("expected 2 reviewers, got %d", len(latest))
	}
	if latest["alice"].State != ReviewStateApproved {
		t.Errorf("expected alice's latest review APPROVED, got %s", latest["alice"].State)
	}
}

func TestDeleteBranchToleratesGone(t *testing.T) {
	for _, code := range []int{http.StatusNotFound, http.StatusUnprocessableEntity} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"message": "Reference does not exist"}`))
		}))

		client := NewClientWithBaseURL(testToken, server.URL)
		if err := client.DeleteBranch(context.Background(), "owner", "repo", "issuebot/issue-1-x"); err != nil {
			t.Errorf("status %d: expected tolerated, got: %v", code, err)
		}
		server.Close()
	}
}
