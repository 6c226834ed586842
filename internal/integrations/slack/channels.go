package slack

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/metrics"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
)

// ListChannels pages through every public channel the bot is a member of
// and classifies each by naming convention. Each page acquires a slot from
// the Slack rate limiter.
func (c *Client) ListChannels(ctx context.Context) ([]*models.Channel, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	var channels []*models.Channel
	cursor := ""
	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		params := &slack.GetConversationsParameters{
			Cursor:          cursor,
			Limit:           c.opts.PageSize,
			Types:           []string{"public_channel"},
			ExcludeArchived: true,
		}
		page, nextCursor, err := c.api.GetConversationsContext(ctx, params)
		if err != nil {
			metrics.SlackAPICalls.WithLabelValues("conversations.list", "error").Inc()
			return nil, fmt.Errorf("listing conversations: %w", err)
		}
		metrics.SlackAPICalls.WithLabelValues("conversations.list", "success").Inc()

		for _, raw := range page {
			channels = append(channels, convertChannel(raw))
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	slog.Info("Channel discovery complete", "channels", len(channels))
	return channels, nil
}

func convertChannel(raw slack.Channel) *models.Channel {
	return &models.Channel{
		ID:          raw.ID,
		Name:        raw.Name,
		Type:        models.ClassifyChannel(raw.Name),
		Topic:       raw.Topic.Value,
		Purpose:     raw.Purpose.Value,
		MemberCount: raw.NumMembers,
	}
}
