// Package client is a Go client for the taskdeck API. It holds the session
// token pair, attaches the access token to every authenticated request, and
// transparently performs a single refresh-and-retry cycle when a request is
// rejected for an authorization failure.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrSessionExpired is returned when a request fails authorization and the
// subsequent token refresh fails too. The stored token pair is cleared; the
// caller must log in again.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// User is a public user identity.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Task is a task record as served by the API.
type Task struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      bool      `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Pagination describes a listing page.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int   `json:"pages"`
}

// TaskPage is one page of tasks.
type TaskPage struct {
	Tasks      []Task     `json:"tasks"`
	Pagination Pagination `json:"pagination"`
}

// ListOptions filters and pages a task listing. Zero values are omitted.
type ListOptions struct {
	Status *bool
	Search string
	Page   int
	Limit  int
}

// TaskUpdate is a partial task update; nil fields are left unchanged.
type TaskUpdate struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *bool   `json:"status,omitempty"`
}

// Client talks to a taskdeck server. It is safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Tokens returns the stored token pair. Both are empty when logged out.
func (c *Client) Tokens() (accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken, c.refreshToken
}

// SetTokens restores a previously saved session.
func (c *Client) SetTokens(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
}

func (c *Client) clearTokens() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = ""
	c.refreshToken = ""
}

// Register creates a new account. It does not log the client in.
func (c *Client) Register(ctx context.Context, email, password string) (*User, error) {
	var user User
	err := c.doPublic(ctx, http.MethodPost, "/auth/register",
		map[string]string{"email": email, "password": password}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login authenticates and stores the returned token pair.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var pair struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	err := c.doPublic(ctx, http.MethodPost, "/auth/login",
		map[string]string{"email": email, "password": password}, &pair)
	if err != nil {
		return err
	}
	c.SetTokens(pair.AccessToken, pair.RefreshToken)
	return nil
}

// Logout revokes the session server-side and clears the stored tokens. The
// tokens are cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doAuthed(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.clearTokens()
	return err
}

// CreateTask creates a task owned by the logged-in user.
func (c *Client) CreateTask(ctx context.Context, title, description string) (*Task, error) {
	var task Task
	err := c.doAuthed(ctx, http.MethodPost, "/tasks",
		map[string]string{"title": title, "description": description}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks fetches one page of the user's tasks.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (*TaskPage, error) {
	q := url.Values{}
	if opts.Status != nil {
		q.Set("status", strconv.FormatBool(*opts.Status))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page TaskPage
	if err := c.doAuthed(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetTask fetches a single task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.doAuthed(ctx, http.MethodGet, "/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask applies a partial update to a task.
func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (*Task, error) {
	var task Task
	if err := c.doAuthed(ctx, http.MethodPatch, "/tasks/"+id, update, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ToggleTask flips a task's completion status.
func (c *Client) ToggleTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	if err := c.doAuthed(ctx, http.MethodPatch, "/tasks/"+id+"/toggle", nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask permanently removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.doAuthed(ctx, http.MethodDelete, "/tasks/"+id, nil, nil)
}

// doPublic performs an unauthenticated request.
func (c *Client) doPublic(ctx context.Context, method, path string, body, out interface{}) error {
	resp, err := c.send(ctx, method, path, body, "")
	if err != nil {
		return err
	}
	return decode(resp, out)
}

// doAuthed performs a request with the access token attached. On a 401 or
// 403 response it refreshes the access token once and retries; a failed
// refresh clears the session and reports ErrSessionExpired.
func (c *Client) doAuthed(ctx context.Context, method, path string, body, out interface{}) error {
	c.mu.Lock()
	access := c.accessToken
	c.mu.Unlock()

	resp, err := c.send(ctx, method, path, body, access)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		drain(resp)
		access, err = c.refresh(ctx)
		if err != nil {
			c.clearTokens()
			return ErrSessionExpired
		}
		resp, err = c.send(ctx, method, path, body, access)
		if err != nil {
			return err
		}
	}

	return decode(resp, out)
}

// refresh exchanges the stored refresh token for a new access token.
func (c *Client) refresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if refreshToken == "" {
		return "", ErrSessionExpired
	}

	resp, err := c.send(ctx, http.MethodPost, "/auth/refresh",
		map[string]string{"refreshToken": refreshToken}, "")
	if err != nil {
		return "", err
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := decode(resp, &body); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.accessToken = body.AccessToken
	c.mu.Unlock()

	return body.AccessToken, nil
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}, bearer string) (*http.Response, error) {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	return c.httpc.Do(req)
}

func decode(resp *http.Response, out interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// echo wraps error bodies as {"message": <payload>} where payload is
		// either a plain string or a structured {error, code} object.
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Message json.RawMessage `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && len(envelope.Message) > 0 {
			var structured struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			if err := json.Unmarshal(envelope.Message, &structured); err == nil && structured.Error != "" {
				apiErr.Message = structured.Error
				apiErr.Code = structured.Code
			} else {
				var plain string
				if json.Unmarshal(envelope.Message, &plain) == nil {
					apiErr.Message = plain
				}
			}
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
