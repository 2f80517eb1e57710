// Package store implements the Task Store Client: a narrow client to the
// canonical, remote task store. The store itself is out of scope (spec
// §1) — this package only specifies the contract the core talks through:
// create/get/list/claim/submit/accept/reject/update, each carrying the
// configured scope. Submit, Accept, Reject and Update also carry the
// task's current version for compare-and-set concurrency; Create, Claim
// and RecordHookEvidence send no version.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/alphie-orchestrator/taskctl/pkg/models"
)

// Config holds the settings needed to talk to the remote task store.
type Config struct {
	// BaseURL is the store's HTTP endpoint, e.g. "https://tasks.example.com".
	BaseURL string
	// Scope is the multi-tenant partition tag injected into every request.
	// Required: the store rejects requests that omit it.
	Scope string
	// APIKey authenticates this orchestrator to the store.
	APIKey string
	// HTTPClient overrides the default http.Client (used in tests).
	HTTPClient *http.Client
	// MaxRetries is the number of retries after the first attempt for
	// Transient errors; zero or a negative value means 5.
	MaxRetries int
}

// Client is the Task Store Client.
type Client struct {
	baseURL    string
	scope      string
	apiKey     string
	http       *http.Client
	maxRetries int
}

// New creates a Task Store Client. Scope is mandatory: a missing scope is
// a fatal configuration error, per spec — the scheduler must not run
// without one.
func New(cfg Config) (*Client, error) {
	if cfg.Scope == "" {
		return nil, fmt.Errorf("store: scope is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("store: base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		scope:      cfg.Scope,
		apiKey:     cfg.APIKey,
		http:       httpClient,
		maxRetries: maxRetries,
	}, nil
}

// Scope returns the scope this client injects into every request.
func (c *Client) Scope() string {
	return c.scope
}

// NormalizeBlockedBy applies the caller-side normalization rule: the
// literal string "None", the empty string, and nil all mean "no
// blockers" and must be sent to the store as nil.
func NormalizeBlockedBy(blockedBy []string) []string {
	if len(blockedBy) == 0 {
		return nil
	}
	if len(blockedBy) == 1 && (blockedBy[0] == "" || blockedBy[0] == "None") {
		return nil
	}
	return blockedBy
}

// CreateParams are the fields accepted by Create.
type CreateParams struct {
	ID                 string
	FilePath           string
	Title              string
	Role               string
	Priority           models.Priority
	Queue              models.Queue // defaults to incoming if empty
	Branch             string
	Hooks              []models.Hook
	BlockedBy          []string
	ProjectID          string
	Metadata           map[string]string
}

// Create submits a new task to the store in the incoming queue (unless
// Queue is overridden). Returns InvalidArgumentError if BlockedBy is the
// literal string "None" without having been normalized by the caller.
func (c *Client) Create(ctx context.Context, p CreateParams) (*models.Task, error) {
	for _, b := range p.BlockedBy {
		if b == "None" {
			return nil, &InvalidArgumentError{Field: "blocked_by", Reason: `literal "None" must be normalized to nil before Create`}
		}
	}

	queue := p.Queue
	if queue == "" {
		queue = models.QueueIncoming
	}

	body := map[string]any{
		"id":         p.ID,
		"file_path":  p.FilePath,
		"title":      p.Title,
		"role":       p.Role,
		"priority":   p.Priority,
		"queue":      queue,
		"branch":     p.Branch,
		"hooks":      p.Hooks,
		"blocked_by": NormalizeBlockedBy(p.BlockedBy),
		"project_id": p.ProjectID,
		"metadata":   p.Metadata,
	}

	var task models.Task
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Get fetches a single task by ID. Returns *NotFoundError if absent.
func (c *Client) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	path := fmt.Sprintf("/tasks/%s", id)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListParams filters the List call.
type ListParams struct {
	Queue     models.Queue
	ClaimedBy string
}

// List returns tasks matching the given filters, ordered: expedited
// first, then priority ascending, then creation time ascending.
func (c *Client) List(ctx context.Context, p ListParams) ([]*models.Task, error) {
	path := "/tasks?"
	if p.Queue != "" {
		path += "queue=" + string(p.Queue) + "&"
	}
	if p.ClaimedBy != "" {
		path += "claimed_by=" + p.ClaimedBy + "&"
	}

	var tasks []*models.Task
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	SortForClaim(tasks)
	return tasks, nil
}

// SortForClaim applies the deterministic ordering used by both List and
// Claim: expedited first, then priority ascending, then created_at
// ascending.
func SortForClaim(tasks []*models.Task) {
	// insertion sort keeps this stable and dependency-free; task lists are
	// small (bounded by queue_limits) so O(n^2) is fine.
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && lessForClaim(tasks[j], tasks[j-1]); j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

func lessForClaim(a, b *models.Task) bool {
	if a.Expedite != b.Expedite {
		return a.Expedite
	}
	if a.Priority != b.Priority {
		return a.Priority.Less(b.Priority)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// ClaimParams filters which task Claim may pick.
type ClaimParams struct {
	OrchestratorID  string
	AgentName       string
	RoleFilter      string
	TypeFilter      string
	Queue           models.Queue // defaults to incoming
	MaxClaimed      int
	LeaseDuration   time.Duration
}

// Claim atomically picks a claimable task matching the filters and
// transitions it to claimed, attaching a lease. Returns (nil, nil) — not
// an error — when nothing is claimable.
func (c *Client) Claim(ctx context.Context, p ClaimParams) (*models.Task, error) {
	queue := p.Queue
	if queue == "" {
		queue = models.QueueIncoming
	}

	body := map[string]any{
		"orchestrator_id":     p.OrchestratorID,
		"agent_name":          p.AgentName,
		"role_filter":         p.RoleFilter,
		"type_filter":         p.TypeFilter,
		"queue":               queue,
		"max_claimed":         p.MaxClaimed,
		"lease_duration_secs": int(p.LeaseDuration.Seconds()),
	}

	var resp struct {
		Task *models.Task `json:"task"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/tasks/claim", body, &resp); err != nil {
		var nf *NotFoundError
		if asNotFound(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Task, nil
}

func asNotFound(err error, target **NotFoundError) bool {
	nf, ok := err.(*NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// SubmitParams are the fields accepted by Submit.
type SubmitParams struct {
	TaskID          string
	Version         int
	CommitsCount    int
	TurnsUsed       int
	ExecutionNotes  string
}

// Submit moves a task from claimed to provisional. Returns
// *PreconditionFailedError if any pending before_submit agent-hook
// remains.
func (c *Client) Submit(ctx context.Context, p SubmitParams) (*models.Task, error) {
	body := map[string]any{
		"version":         p.Version,
		"commits_count":   p.CommitsCount,
		"turns_used":      p.TurnsUsed,
		"execution_notes": p.ExecutionNotes,
	}
	var task models.Task
	path := fmt.Sprintf("/tasks/%s/submit", p.TaskID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Accept moves a task from provisional to done. Fails if any pending
// before_merge orchestrator-hook remains.
func (c *Client) Accept(ctx context.Context, taskID string, version int, acceptedBy string) (*models.Task, error) {
	body := map[string]any{"version": version, "accepted_by": acceptedBy}
	var task models.Task
	path := fmt.Sprintf("/tasks/%s/accept", taskID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Reject moves a task from provisional back to incoming (or escalated
// once the rejection cap is reached) and increments rejection_count.
func (c *Client) Reject(ctx context.Context, taskID string, version int, reason, rejectedBy string) (*models.Task, error) {
	body := map[string]any{"version": version, "reason": reason, "rejected_by": rejectedBy}
	var task models.Task
	path := fmt.Sprintf("/tasks/%s/reject", taskID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Update applies an arbitrary field patch, for transitions not covered
// by the specific verbs above (e.g. queue changes, hook-status updates).
func (c *Client) Update(ctx context.Context, taskID string, version int, fields map[string]any) (*models.Task, error) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["version"] = version

	var task models.Task
	path := fmt.Sprintf("/tasks/%s", taskID)
	if err := c.doJSON(ctx, http.MethodPatch, path, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// RecordHookEvidence updates the status of a single hook attached to a
// task, as reported by the agent process.
func (c *Client) RecordHookEvidence(ctx context.Context, taskID, hookName string, status models.HookStatus, data string) error {
	body := map[string]any{
		"hook_name": hookName,
		"status":    status,
		"data":      data,
	}
	path := fmt.Sprintf("/tasks/%s/hooks/evidence", taskID)
	return c.doJSON(ctx, http.MethodPost, path, body, nil)
}

// doJSON performs an HTTP request against the store, injecting scope and
// auth, retrying Transient failures with capped exponential backoff and
// jitter, and decoding the response into out (skipped if out is nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("store: marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}

		var transient *TransientError
		if te, ok := err.(*TransientError); ok {
			transient = te
			lastErr = transient
			continue
		}
		// Conflict, NotFound, PreconditionFailed, InvalidArgument are not retried.
		return err
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	sep := "?"
	if bytes.ContainsRune([]byte(path), '?') {
		sep = "&"
	}
	url := c.baseURL + path + sep + "scope=" + c.scope

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if out == nil || len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("store: decode response: %w", err)
		}
		return nil
	case http.StatusNotFound:
		return &NotFoundError{ID: path}
	case http.StatusConflict:
		var ce ConflictError
		_ = json.Unmarshal(respBody, &ce)
		return &ce
	case http.StatusPreconditionFailed:
		var pe PreconditionFailedError
		_ = json.Unmarshal(respBody, &pe)
		return &pe
	case http.StatusBadRequest:
		var ie InvalidArgumentError
		_ = json.Unmarshal(respBody, &ie)
		return &ie
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &TransientError{Err: fmt.Errorf("store returned %d: %s", resp.StatusCode, string(respBody))}
	default:
		return fmt.Errorf("store: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
}

// sleepBackoff waits an exponentially growing, jittered delay before a
// retry attempt, honoring context cancellation.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 200 * time.Millisecond
	maxDelay := 10 * time.Second
	delay := time.Duration(math.Min(float64(maxDelay), float64(base)*math.Pow(2, float64(attempt-1))))
	jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
	select {
	case <-time.After(delay + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
