package slack

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
)

// ParseTimestamp converts a provider timestamp into time.Time. A value
// containing '.' is seconds with a fractional microsecond part; a bare
// number is whole seconds.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if strings.Contains(ts, ".") {
		parts := strings.SplitN(ts, ".", 2)
		sec, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp seconds %q: %w", ts, err)
		}
		frac := parts[1]
		if len(frac) > 6 {
			frac = frac[:6]
		}
		for len(frac) < 6 {
			frac += "0"
		}
		micros, err := strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp fraction %q: %w", ts, err)
		}
		return time.Unix(sec, micros*1000).UTC(), nil
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// convertMessage maps a raw provider message onto the canonical shape. The
// message id is the provider timestamp, unique per channel.
func convertMessage(raw slack.Message, channelID string) (models.Message, error) {
	ts, err := ParseTimestamp(raw.Timestamp)
	if err != nil {
		return models.Message{}, err
	}

	reactions := 0
	for _, r := range raw.Reactions {
		reactions += r.Count
	}

	return models.Message{
		ID:              raw.Timestamp,
		ChannelID:       channelID,
		UserID:          raw.User,
		Text:            raw.Text,
		Timestamp:       ts,
		ThreadRootID:    raw.ThreadTimestamp,
		AttachmentCount: len(raw.Attachments) + len(raw.Files),
		ReactionCount:   reactions,
		ReplyCount:      raw.ReplyCount,
	}, nil
}

// isThreadRoot reports whether a history message originates a thread.
func isThreadRoot(raw slack.Message) bool {
	if raw.ReplyCount == 0 {
		return false
	}
	return raw.ThreadTimestamp == "" || raw.ThreadTimestamp == raw.Timestamp
}

// IsNotInChannel identifies the expected membership failure so the
// orchestrator can suppress it from error-level logs.
func IsNotInChannel(err error) bool {
	return err != nil && strings.Contains(err.Error(), "not_in_channel")
}
