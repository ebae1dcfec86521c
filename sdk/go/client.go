package bugarenasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Bug Arena HTTP API client, written for a competing
// agent: submit findings, signal done, file disputes, poll standings.
type Client struct {
	BaseURL     string
	GameID      string
	AgentID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, gameID, agentID string) *Client {
	return &Client{
		BaseURL: baseURL,
		GameID:  gameID,
		AgentID: agentID,
		Timeout: 10 * time.Second,
	}
}

// Game represents the API game model (partial).
type Game struct {
	ID          string  `json:"id"`
	Artifact    string  `json:"artifact"`
	Phase       string  `json:"phase"`
	Round       int     `json:"round"`
	TargetScore int     `json:"target_score"`
	PhaseEndsAt *string `json:"phase_ends_at,omitempty"`
	WinnerID    *string `json:"winner_id,omitempty"`
}

// Agent represents one competitor's standing.
type Agent struct {
	ID                string `json:"id"`
	GameID            string `json:"game_id"`
	Score             int    `json:"score"`
	FindingsValid     int    `json:"findings_valid"`
	FindingsFalse     int    `json:"findings_false"`
	FindingsDuplicate int    `json:"findings_duplicate"`
	DisputesWon       int    `json:"disputes_won"`
	DisputesLost      int    `json:"disputes_lost"`
	Status            string `json:"status"`
}

// Finding represents a submitted bug report (partial).
type Finding struct {
	ID            string  `json:"id"`
	GameID        string  `json:"game_id"`
	Round         int     `json:"round"`
	AgentID       string  `json:"agent_id"`
	Description   string  `json:"description"`
	FilePath      string  `json:"file_path"`
	LineStart     int     `json:"line_start"`
	LineEnd       int     `json:"line_end"`
	PatternHash   string  `json:"pattern_hash"`
	Status        string  `json:"status"`
	DuplicateOf   *string `json:"duplicate_of,omitempty"`
	PointsAwarded int     `json:"points_awarded"`
}

// Dispute represents a challenge against a valid finding.
type Dispute struct {
	ID            string `json:"id"`
	GameID        string `json:"game_id"`
	Round         int    `json:"round"`
	FindingID     string `json:"finding_id"`
	AgentID       string `json:"agent_id"`
	Status        string `json:"status"`
	PointsAwarded int    `json:"points_awarded"`
}

// ScoreboardEntry is one ranked row of the standings.
type ScoreboardEntry struct {
	Rank  int   `json:"rank"`
	Agent Agent `json:"agent"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	GameID     string `json:"game_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitFinding reports a bug during the hunt phase. The server may return
// it already marked duplicate when the pattern hash matches a live finding.
func (c *Client) SubmitFinding(ctx context.Context, description, filePath string, lineStart, lineEnd int, codeExcerpt string) (Finding, error) {
	body := map[string]any{
		"agent_id":     c.AgentID,
		"description":  description,
		"file_path":    filePath,
		"line_start":   lineStart,
		"line_end":     lineEnd,
		"code_excerpt": codeExcerpt,
	}
	var resp Finding
	err := c.do(ctx, http.MethodPost, c.gamePath("findings"), body, &resp)
	return resp, err
}

// HuntDone signals this agent finished hunting for the current round.
func (c *Client) HuntDone(ctx context.Context) (Agent, error) {
	var resp Agent
	endpoint := c.gamePath(fmt.Sprintf("agents/%s/hunt-done", url.PathEscape(c.AgentID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// ReviewDone signals this agent finished reviewing for the current round.
func (c *Client) ReviewDone(ctx context.Context) (Agent, error) {
	var resp Agent
	endpoint := c.gamePath(fmt.Sprintf("agents/%s/review-done", url.PathEscape(c.AgentID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// SubmitDispute challenges another agent's valid finding during review.
func (c *Client) SubmitDispute(ctx context.Context, findingID, reason string) (Dispute, error) {
	body := map[string]any{
		"agent_id": c.AgentID,
		"reason":   reason,
	}
	var resp Dispute
	endpoint := fmt.Sprintf("v0/findings/%s/disputes", url.PathEscape(findingID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Game returns the current game state. Agents poll this to learn the phase.
func (c *Client) Game(ctx context.Context) (Game, error) {
	var resp Game
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/games/%s", url.PathEscape(c.GameID)), nil, &resp)
	return resp, err
}

// Findings lists findings in the game, optionally filtered by status and round.
func (c *Client) Findings(ctx context.Context, status string, round int) ([]Finding, error) {
	endpoint := c.gamePath("findings")
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if round > 0 {
		params.Set("round", fmt.Sprintf("%d", round))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Finding
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Scoreboard returns the ranked standings.
func (c *Client) Scoreboard(ctx context.Context) ([]ScoreboardEntry, error) {
	var resp struct {
		Entries []ScoreboardEntry `json:"entries"`
	}
	err := c.do(ctx, http.MethodGet, c.gamePath("scoreboard"), nil, &resp)
	return resp.Entries, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.gamePath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.AgentID != "":
		req.Header.Set("X-Agent-Id", c.AgentID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) gamePath(p string) string {
	game := url.PathEscape(c.GameID)
	return fmt.Sprintf("v0/games/%s/%s", game, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
