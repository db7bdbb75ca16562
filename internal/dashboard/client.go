package dashboard

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Status mirrors the gateway's /api/v1/status payload.
type Status struct {
	Version      string         `json:"version"`
	Poller       PollerStatus   `json:"poller"`
	Repos        int            `json:"repos"`
	Issues       map[string]int `json:"issues"`
	EventClients int            `json:"event_clients"`
	Cost         CostSummary    `json:"cost"`
}

// PollerStatus is the scheduler section of the status payload.
type PollerStatus struct {
	Running  bool   `json:"running"`
	Interval string `json:"interval"`
	NextRun  string `json:"next_run"`
	LastRun  string `json:"last_run"`
}

// CostSummary is the spend section of the status payload.
type CostSummary struct {
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
	Invocations   int     `json:"invocations"`
}

// Issue mirrors one entry of the gateway's /api/v1/issues payload.
type Issue struct {
	ID          int64  `json:"id"`
	Repo        string `json:"repo"`
	IssueNumber int    `json:"issue_number"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	Iteration   int    `json:"iteration"`
	Branch      string `json:"branch"`
	Phase       string `json:"phase"`
	BlockedBy   string `json:"blocked_by"`
	UpdatedAt   string `json:"updated_at"`
}

// EventFrame mirrors one message on the gateway's /ws/events stream.
type EventFrame struct {
	Ts       string `json:"ts"`
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Repo     string `json:"repo"`
	Issue    int    `json:"issue"`
	Message  string `json:"message"`
}

// Client is a thin consumer of the gateway API.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

// NewClient creates a client for the gateway listening at addr (host:port).
// Credentials may be empty when the gateway runs open.
func NewClient(addr, username, password string) *Client {
	return &Client{
		baseURL:  "http://" + addr,
		username: username,
		password: password,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchStatus retrieves the orchestrator snapshot.
func (c *Client) FetchStatus(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/api/v1/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// FetchIssues retrieves all tracked issues.
func (c *Client) FetchIssues(ctx context.Context) ([]Issue, error) {
	var body struct {
		Issues []Issue `json:"issues"`
	}
	if err := c.get(ctx, "/api/v1/issues", &body); err != nil {
		return nil, err
	}
	return body.Issues, nil
}

// StreamEvents dials the gateway's event stream and delivers frames until
// the connection drops or ctx is cancelled. The first server message is the
// backfill array; its frames arrive on the channel individually, followed by
// live frames. The channel closes when the stream ends.
func (c *Client) StreamEvents(ctx context.Context) (<-chan EventFrame, error) {
	url := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/events"
	header := http.Header{}
	if c.username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(c.username + ":" + c.password))
		header.Set("Authorization", "Basic "+cred)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial event stream: %s", resp.Status)
		}
		return nil, fmt.Errorf("failed to dial event stream: %w", err)
	}

	out := make(chan EventFrame, 64)
	go func() {
		defer close(out)
		defer func() { _ = conn.Close() }()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-stop:
			}
		}()

		first := true
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if first {
				first = false
				var batch []EventFrame
				if err := json.Unmarshal(msg, &batch); err == nil {
					for _, f := range batch {
						select {
						case out <- f:
						case <-ctx.Done():
							return
						}
					}
					continue
				}
				// Not an array; treat it as a single frame below.
			}
			var f EventFrame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
