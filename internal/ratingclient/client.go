// Package ratingclient reads contest and submission history from the
// Codeforces public API.
package ratingclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "cftrack/pkg/logx"
)

const (
	DefaultBaseURL   = "https://codeforces.com/api"
	DefaultUserAgent = "cftrack/1.0"

	defaultMaxBody = 32 << 20
)

type Config struct {
	BaseURL    string
	RatePerSec float64
	Burst      int
	UserAgent  string
	// SubmissionLimit caps user.status results; 0 fetches the full history.
	SubmissionLimit int
}

// RatingChange is one entry of user.rating.
type RatingChange struct {
	ContestID   int       `json:"contestId"`
	ContestName string    `json:"contestName"`
	Rank        int       `json:"rank"`
	OldRating   int       `json:"oldRating"`
	NewRating   int       `json:"newRating"`
	UpdatedAt   time.Time `json:"-"`

	UpdateTimeSeconds int64 `json:"ratingUpdateTimeSeconds"`
}

type Problem struct {
	ContestID int    `json:"contestId"`
	Index     string `json:"index"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
}

// Submission is one entry of user.status.
type Submission struct {
	ID          int64     `json:"id"`
	ContestID   int       `json:"contestId"`
	Problem     Problem   `json:"problem"`
	Verdict     string    `json:"verdict"`
	SubmittedAt time.Time `json:"-"`

	CreationTimeSeconds int64 `json:"creationTimeSeconds"`
}

type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type Client struct {
	http    *http.Client
	log     logx.Logger
	maxBody int64

	mu      sync.RWMutex
	cfg     Config
	base    *url.URL
	limiter *rate.Limiter
}

// New builds a client. hc may be nil; per-call deadlines come from ctx.
func New(cfg Config, hc *http.Client, log logx.Logger) (*Client, error) {
	if hc == nil {
		hc = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{http: hc, log: log, maxBody: defaultMaxBody}
	if err := c.Apply(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply swaps endpoint and rate settings.
func (c *Client) Apply(cfg Config) error {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.SubmissionLimit < 0 {
		cfg.SubmissionLimit = 0
	}
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return fmt.Errorf("rating_service.base_url: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.base = u
	c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	return nil
}

// ContestHistory returns the rated contests of handle in ascending order.
func (c *Client) ContestHistory(ctx context.Context, handle string) ([]RatingChange, error) {
	var out []RatingChange
	if err := c.call(ctx, "user.rating", handle, url.Values{"handle": {handle}}, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].UpdatedAt = time.Unix(out[i].UpdateTimeSeconds, 0).UTC()
	}
	return out, nil
}

// Submissions returns the submissions of handle, newest first.
func (c *Client) Submissions(ctx context.Context, handle string) ([]Submission, error) {
	q := url.Values{"handle": {handle}, "from": {"1"}}
	c.mu.RLock()
	if n := c.cfg.SubmissionLimit; n > 0 {
		q.Set("count", strconv.Itoa(n))
	}
	c.mu.RUnlock()

	var out []Submission
	if err := c.call(ctx, "user.status", handle, q, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].SubmittedAt = time.Unix(out[i].CreationTimeSeconds, 0).UTC()
		if out[i].Problem.ContestID == 0 {
			out[i].Problem.ContestID = out[i].ContestID
		}
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, method, handle string, q url.Values, out any) error {
	c.mu.RLock()
	base, lim, ua := c.base, c.limiter, c.cfg.UserAgent
	c.mu.RUnlock()

	fail := func(kind Kind, status int, err error) *FetchError {
		return &FetchError{Kind: kind, Op: method, Handle: handle, Status: status, Err: err}
	}

	if err := lim.Wait(ctx); err != nil {
		return fail(Transient, 0, err)
	}

	u := *base
	u.Path = u.Path + "/" + method
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fail(Permanent, 0, err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			err = fmt.Errorf("timeout: %w", err)
		}
		return fail(Transient, 0, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return fail(Transient, resp.StatusCode, err)
	}
	tooLarge := int64(len(body)) > c.maxBody
	c.log.Debug("rating api call",
		logx.String("method", method),
		logx.String("handle", handle),
		logx.Int("status", resp.StatusCode),
		logx.Bool("truncated", tooLarge),
		logx.Duration("took", time.Since(start)),
	)

	var (
		env       envelope
		decodeErr error
	)
	if !tooLarge {
		decodeErr = json.Unmarshal(body, &env)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		fe := fail(Transient, resp.StatusCode, errors.New("rate limited"))
		fe.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return fe
	case resp.StatusCode >= 500:
		return fail(Transient, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	case tooLarge:
		return fail(Permanent, resp.StatusCode, fmt.Errorf("%w: over %d bytes", ErrResponseTooLarge, c.maxBody))
	}

	if decodeErr == nil && env.Status == "FAILED" {
		return classifyComment(fail, resp.StatusCode, env.Comment)
	}
	if resp.StatusCode >= 400 {
		return fail(Permanent, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}
	if decodeErr != nil {
		return fail(Permanent, resp.StatusCode, fmt.Errorf("malformed response: %w", decodeErr))
	}
	if env.Status != "OK" {
		return fail(Permanent, resp.StatusCode, fmt.Errorf("unexpected status %q", env.Status))
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fail(Permanent, resp.StatusCode, fmt.Errorf("malformed result: %w", err))
	}
	return nil
}

func classifyComment(fail func(Kind, int, error) *FetchError, status int, comment string) error {
	lc := strings.ToLower(comment)
	switch {
	case strings.Contains(lc, "not found"):
		return fail(Permanent, status, fmt.Errorf("%w: %s", ErrHandleNotFound, comment))
	case strings.Contains(lc, "limit exceeded"):
		return fail(Transient, status, errors.New(comment))
	default:
		return fail(Permanent, status, errors.New(comment))
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0)
	}
	return 0
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}
