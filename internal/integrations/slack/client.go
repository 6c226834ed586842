package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/metrics"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/ratelimit"
)

// ConnState tracks the connector state machine.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var (
	// ErrConnectionExhausted is surfaced after the last failed connection
	// attempt. Fatal to the run.
	ErrConnectionExhausted = errors.New("slack: connection attempts exhausted")

	// ErrNotConnected rejects calls issued before Connect succeeds or
	// after Disconnect.
	ErrNotConnected = errors.New("slack: client not connected")
)

// conversationsAPI is the slice of the Slack API the client depends on.
// *slack.Client satisfies it; tests substitute fakes.
type conversationsAPI interface {
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetConversationRepliesContext(ctx context.Context, params *slack.GetConversationRepliesParameters) ([]slack.Message, bool, string, error)
}

// Options tunes the client's retry and pacing behavior. Zero values pick
// the defaults below.
type Options struct {
	MaxRetries   int           // connection attempts before giving up
	RetryDelay   time.Duration // fixed delay between connection attempts
	PageSize     int           // provider-imposed batch ceiling per page
	PageDelay    time.Duration // fixed delay between history pages
	ReplyStagger time.Duration // per-root stagger for reply fetches
	ReplyWorkers int           // in-flight reply fetch ceiling
}

func (o *Options) applyDefaults() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.PageDelay <= 0 {
		o.PageDelay = time.Second
	}
	if o.ReplyStagger <= 0 {
		o.ReplyStagger = 200 * time.Millisecond
	}
	if o.ReplyWorkers <= 0 {
		o.ReplyWorkers = 3
	}
}

// Client wraps the Slack API behind the connector state machine. All
// outbound calls are gated by the shared per-dependency rate limiter; the
// history pager carries its own fixed inter-page throttle on top.
type Client struct {
	api     conversationsAPI
	limiter *ratelimit.Limiter
	pager   *rate.Limiter
	opts    Options

	mu        sync.Mutex
	state     ConnState
	botUserID string
}

// NewClient builds a client for the given bot token. Connect must be
// called before any other method.
func NewClient(botToken string, limiter *ratelimit.Limiter, opts Options) *Client {
	return newClientWithAPI(slack.New(botToken), limiter, opts)
}

func newClientWithAPI(api conversationsAPI, limiter *ratelimit.Limiter, opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		api:     api,
		limiter: limiter,
		pager:   rate.NewLimiter(rate.Every(opts.PageDelay), 1),
		opts:    opts,
		state:   StateDisconnected,
	}
}

// Connect establishes the session and performs an auth.test capability
// probe before declaring the client connected. A probe failure counts as a
// connection failure and is retried after a fixed delay, up to the retry
// budget.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	delay := &backoff.Backoff{
		Min:    c.opts.RetryDelay,
		Max:    c.opts.RetryDelay,
		Factor: 1,
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			c.setState(StateDisconnected)
			return err
		}

		resp, err := c.api.AuthTestContext(ctx)
		if err == nil {
			metrics.SlackAPICalls.WithLabelValues("auth.test", "success").Inc()
			c.mu.Lock()
			c.state = StateConnected
			c.botUserID = resp.UserID
			c.mu.Unlock()
			slog.Info("Connected to Slack", "attempt", attempt, "bot_user_id", resp.UserID)
			return nil
		}

		metrics.SlackAPICalls.WithLabelValues("auth.test", "error").Inc()
		lastErr = err
		slog.Warn("Slack connection attempt failed",
			"attempt", attempt,
			"max_retries", c.opts.MaxRetries,
			"error", err)

		if attempt < c.opts.MaxRetries {
			timer := time.NewTimer(delay.Duration())
			select {
			case <-ctx.Done():
				timer.Stop()
				c.setState(StateDisconnected)
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	c.setState(StateDisconnected)
	return fmt.Errorf("%w after %d attempts: %v", ErrConnectionExhausted, c.opts.MaxRetries, lastErr)
}

// Disconnect returns the client to the disconnected state. Subsequent
// calls fail with ErrNotConnected until Connect succeeds again.
func (c *Client) Disconnect() {
	c.setState(StateDisconnected)
	slog.Info("Disconnected from Slack")
}

// State reports the current connector state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BotUserID returns the authenticated bot user id, empty until connected.
func (c *Client) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botUserID
}

func (c *Client) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ErrNotConnected
	}
	return nil
}
