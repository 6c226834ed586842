package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/integrations/slack"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/metrics"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/services"
)

// ChannelSource provides channel discovery and history retrieval.
type ChannelSource interface {
	ListChannels(ctx context.Context) ([]*models.Channel, error)
	FetchChannelMessages(ctx context.Context, channelID string, limit int) (*models.ChannelHistory, error)
}

// OpportunityExtractor analyzes one channel's window.
type OpportunityExtractor interface {
	Extract(ctx context.Context, channel *models.Channel, window *models.AnalysisWindow, messages []models.Message) ([]*models.Opportunity, error)
}

// Store persists one channel's pass atomically.
type Store interface {
	ProcessChannel(ctx context.Context, channel *models.Channel, messages []models.Message, window *models.AnalysisWindow, opportunities []*models.Opportunity) error
}

// Options tunes a pipeline run.
type Options struct {
	BatchSize    int
	WindowDays   int
	HistoryLimit int
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 3
	}
	if o.WindowDays <= 0 {
		o.WindowDays = 90
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 200
	}
}

// Skip reasons reported in Summary.Skipped.
const (
	SkipOffTopic     = "off_topic"
	SkipNotInChannel = "not_in_channel"
	SkipFetchFailed  = "fetch_failed"
	SkipExtractFail  = "extraction_failed"
	SkipPersistFail  = "persist_failed"
)

// Summary reports what one run accomplished.
type Summary struct {
	ChannelsDiscovered int
	ChannelsProcessed  int
	MessagesIngested   int
	OpportunitiesFound int
	Skipped            map[string]int
}

func (s *Summary) skip(reason string) {
	s.Skipped[reason]++
}

// Pipeline runs the full ingestion and opportunity-detection pass:
// discover channels, then for each eligible channel fetch history, build
// the analysis window, extract opportunities, and persist atomically.
// Channels are processed strictly sequentially in fixed-size batches; a
// failing channel never aborts the run.
type Pipeline struct {
	source    ChannelSource
	extractor OpportunityExtractor
	store     Store
	opts      Options
	now       func() time.Time
}

func New(source ChannelSource, extractor OpportunityExtractor, store Store, opts Options) *Pipeline {
	opts.applyDefaults()
	return &Pipeline{
		source:    source,
		extractor: extractor,
		store:     store,
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes one full pass. It returns an error only when discovery
// itself fails; per-channel failures are counted in the summary.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineRunDuration.Observe(time.Since(start).Seconds())
	}()

	channels, err := p.source.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovering channels: %w", err)
	}

	summary := &Summary{
		ChannelsDiscovered: len(channels),
		Skipped:            make(map[string]int),
	}
	slog.Info("Starting pipeline run", "channels", len(channels))

	var eligible []*models.Channel
	for _, channel := range channels {
		if channel.Type == models.ChannelOffTopic {
			slog.Debug("Skipping off-topic channel", "channel", channel.Name)
			summary.skip(SkipOffTopic)
			continue
		}
		eligible = append(eligible, channel)
	}

	for i := 0; i < len(eligible); i += p.opts.BatchSize {
		end := i + p.opts.BatchSize
		if end > len(eligible) {
			end = len(eligible)
		}
		slog.Info("Processing channel batch",
			"batch", i/p.opts.BatchSize+1, "size", end-i)

		for _, channel := range eligible[i:end] {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			p.processChannel(ctx, channel, summary)
		}
	}

	slog.Info("Pipeline run complete",
		"discovered", summary.ChannelsDiscovered,
		"processed", summary.ChannelsProcessed,
		"messages", summary.MessagesIngested,
		"opportunities", summary.OpportunitiesFound,
		"skipped", summary.Skipped)
	return summary, nil
}

func (p *Pipeline) processChannel(ctx context.Context, channel *models.Channel, summary *Summary) {
	history, err := p.source.FetchChannelMessages(ctx, channel.ID, p.opts.HistoryLimit)
	if err != nil {
		if slack.IsNotInChannel(err) {
			slog.Debug("Bot is not a member, skipping", "channel", channel.Name)
			summary.skip(SkipNotInChannel)
			metrics.ChannelsProcessed.WithLabelValues("skipped").Inc()
			return
		}
		slog.Warn("Failed to fetch channel history", "channel", channel.Name, "error", err)
		summary.skip(SkipFetchFailed)
		metrics.ChannelsProcessed.WithLabelValues("error").Inc()
		return
	}

	messages := history.Flatten()
	now := p.now()
	refreshChannelActivity(channel, messages, now)

	window := services.BuildWindow(channel.ID, messages, now, p.opts.WindowDays)

	opportunities, err := p.extractor.Extract(ctx, channel, window, messages)
	if err != nil {
		if !errors.Is(err, services.ErrExtractionParse) {
			slog.Warn("Extraction failed", "channel", channel.Name, "error", err)
			summary.skip(SkipExtractFail)
			metrics.ChannelsProcessed.WithLabelValues("error").Inc()
			return
		}
		// A response the model garbled is recorded as a window with no
		// opportunities rather than losing the ingested history.
		slog.Warn("Extraction response unparseable, persisting window without opportunities",
			"channel", channel.Name, "error", err)
		opportunities = nil
	}

	if err := p.store.ProcessChannel(ctx, channel, messages, window, opportunities); err != nil {
		slog.Error("Failed to persist channel pass", "channel", channel.Name, "error", err)
		summary.skip(SkipPersistFail)
		metrics.ChannelsProcessed.WithLabelValues("error").Inc()
		return
	}

	summary.ChannelsProcessed++
	summary.MessagesIngested += len(messages)
	summary.OpportunitiesFound += len(opportunities)
	metrics.ChannelsProcessed.WithLabelValues("success").Inc()
	metrics.MessagesIngested.Add(float64(len(messages)))

	slog.Info("Channel processed",
		"channel", channel.Name,
		"messages", len(messages),
		"opportunities", len(opportunities))
}

// refreshChannelActivity updates the channel's stored activity counters
// from the messages seen this pass.
func refreshChannelActivity(channel *models.Channel, messages []models.Message, now time.Time) {
	links, mentions := 0, 0
	for _, msg := range messages {
		links += strings.Count(msg.Text, "http")
		mentions += strings.Count(msg.Text, "<@")
	}
	channel.MessageCount = len(messages)
	channel.LinkCount = links
	channel.MentionCount = mentions
	channel.LastAnalyzed = now
}
