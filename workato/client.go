// Package workato is a small client for the Workato developer API, used to
// back the getWorkatoRecipe function of the workato memory preset.
package workato

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/darkostanimirovic/groupchat/internal/retry"
)

// DefaultBaseURL is the Workato API root for the US data center.
const DefaultBaseURL = "https://www.workato.com/api"

// TokenEnv names the environment variable holding the API token.
const TokenEnv = "WORKATO_API_TOKEN"

var (
	// ErrMissingToken is returned when a client is built without a token.
	ErrMissingToken = errors.New("workato: api token is required")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("workato: unauthorized")
)

// Recipe is the subset of recipe fields the agents report on.
type Recipe struct {
	ID                int        `json:"id"`
	Name              string     `json:"name"`
	FolderID          int        `json:"folder_id"`
	Running           bool       `json:"running"`
	JobSucceededCount int        `json:"job_succeeded_count"`
	JobFailedCount    int        `json:"job_failed_count"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// Job is one recipe run.
type Job struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// JobLog is a page of jobs for a recipe along with its counters.
type JobLog struct {
	RecipeID          int   `json:"recipe_id"`
	JobSucceededCount int   `json:"job_succeeded_count"`
	JobFailedCount    int   `json:"job_failed_count"`
	Jobs              []Job `json:"items"`
}

// Client calls the Workato API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	retry   retry.RetryConfig
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another data center or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithRetry sets the retry policy for 429 and 5xx responses.
func WithRetry(cfg retry.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client authenticating with token.
func New(token string, opts ...Option) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		retry:   retry.DefaultRetryConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.Logger = c.logger
	return c, nil
}

// ListRecipes returns the recipes in folderID.
func (c *Client) ListRecipes(ctx context.Context, folderID int) ([]Recipe, error) {
	q := url.Values{}
	q.Set("folder_id", strconv.Itoa(folderID))

	var body struct {
		Items []Recipe `json:"items"`
	}
	if err := c.get(ctx, "/recipes", q, &body); err != nil {
		return nil, fmt.Errorf("workato: list recipes in folder %d: %w", folderID, err)
	}
	return body.Items, nil
}

// RecipeJobs returns the most recent jobs of a recipe.
func (c *Client) RecipeJobs(ctx context.Context, recipeID int) (*JobLog, error) {
	var log JobLog
	if err := c.get(ctx, "/recipes/"+strconv.Itoa(recipeID)+"/jobs", nil, &log); err != nil {
		return nil, fmt.Errorf("workato: jobs for recipe %d: %w", recipeID, err)
	}
	log.RecipeID = recipeID
	return &log, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := retry.WithRetry(ctx, c.retry, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, path, query, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	c.logger.Debug("workato request", "path", path, "status", resp.StatusCode)
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(msg))

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	return retry.FromStatus(resp.StatusCode, fmt.Errorf("workato: status %d: %s", resp.StatusCode, detail))
}
