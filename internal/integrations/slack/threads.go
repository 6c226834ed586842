package slack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/metrics"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
)

// FetchChannelMessages assembles a channel's recent history and
// reconstructs its thread structure. History is paged newest-first in
// fixed-size batches until limit messages are accumulated or a short page
// signals the end; pages are additionally spaced by the client's fixed
// inter-page throttle. Replies are then fetched for every thread root.
//
// A channel with no messages returns an empty history without error. A
// reply fetch that fails does not abort reconstruction: the failure is
// logged and that thread simply has no recorded replies.
func (c *Client) FetchChannelMessages(ctx context.Context, channelID string, limit int) (*models.ChannelHistory, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = c.opts.PageSize
	}

	history := &models.ChannelHistory{
		ChannelID: channelID,
		Replies:   make(map[string][]models.Message),
	}

	var roots []string
	cursor := ""
	remaining := limit
	for remaining > 0 {
		batch := c.opts.PageSize
		if remaining < batch {
			batch = remaining
		}

		// Fixed inter-page delay, deliberately independent of the
		// shared rate limiter.
		if err := c.pager.Wait(ctx); err != nil {
			return nil, err
		}
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     batch,
			Cursor:    cursor,
		})
		if err != nil {
			metrics.SlackAPICalls.WithLabelValues("conversations.history", "error").Inc()
			return nil, fmt.Errorf("fetching history for %s: %w", channelID, err)
		}
		metrics.SlackAPICalls.WithLabelValues("conversations.history", "success").Inc()

		for _, raw := range resp.Messages {
			msg, err := convertMessage(raw, channelID)
			if err != nil {
				slog.Warn("Skipping message with unparseable timestamp",
					"channel", channelID, "timestamp", raw.Timestamp, "error", err)
				continue
			}
			history.Messages = append(history.Messages, msg)
			if isThreadRoot(raw) {
				roots = append(roots, raw.Timestamp)
			}
		}

		remaining -= len(resp.Messages)
		if len(resp.Messages) < batch || resp.ResponseMetaData.NextCursor == "" {
			break
		}
		cursor = resp.ResponseMetaData.NextCursor
	}

	c.fetchThreadReplies(ctx, channelID, roots, history)

	slog.Debug("Channel history assembled",
		"channel", channelID,
		"messages", len(history.Messages),
		"threads", len(roots))
	return history, nil
}

// fetchThreadReplies fills in the root-to-replies mapping. Fetches start
// staggered by the root's index and at most ReplyWorkers run at once.
func (c *Client) fetchThreadReplies(ctx context.Context, channelID string, roots []string, history *models.ChannelHistory) {
	if len(roots) == 0 {
		return
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, c.opts.ReplyWorkers)
	)

	for i, rootID := range roots {
		wg.Add(1)
		go func(index int, rootID string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(index) * c.opts.ReplyStagger):
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			replies, err := c.fetchReplies(ctx, channelID, rootID)
			if err != nil {
				slog.Warn("Failed to fetch thread replies",
					"channel", channelID, "thread", rootID, "error", err)
				return
			}

			if len(replies) > 0 {
				mu.Lock()
				history.Replies[rootID] = replies
				mu.Unlock()
			}
		}(i, rootID)
	}

	wg.Wait()
}

// fetchReplies pages through one thread. The root itself is excluded; it
// already appears in the flat history.
func (c *Client) fetchReplies(ctx context.Context, channelID, rootID string) ([]models.Message, error) {
	var replies []models.Message
	cursor := ""
	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		msgs, hasMore, nextCursor, err := c.api.GetConversationRepliesContext(ctx, &slack.GetConversationRepliesParameters{
			ChannelID: channelID,
			Timestamp: rootID,
			Limit:     c.opts.PageSize,
			Inclusive: true,
			Cursor:    cursor,
		})
		if err != nil {
			metrics.SlackAPICalls.WithLabelValues("conversations.replies", "error").Inc()
			return nil, fmt.Errorf("fetching replies for thread %s: %w", rootID, err)
		}
		metrics.SlackAPICalls.WithLabelValues("conversations.replies", "success").Inc()

		for _, raw := range msgs {
			if raw.Timestamp == rootID {
				continue
			}
			msg, err := convertMessage(raw, channelID)
			if err != nil {
				slog.Warn("Skipping reply with unparseable timestamp",
					"channel", channelID, "thread", rootID, "error", err)
				continue
			}
			replies = append(replies, msg)
		}

		if !hasMore || nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	return replies, nil
}
