package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/metrics"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/ratelimit"
)

// ErrExtractionParse marks a model response that could not be parsed into
// the documented shape. Non-fatal: the caller persists the window without
// opportunities and moves on.
var ErrExtractionParse = errors.New("extraction response could not be parsed")

// completionAPI is the slice of the OpenAI client the extractor uses.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Extractor turns a channel's analysis window into validated opportunity
// drafts by prompting a generative model.
type Extractor struct {
	client  completionAPI
	limiter *ratelimit.Limiter
	model   string
	now     func() time.Time
}

// NewExtractor builds an extractor backed by the OpenAI API.
func NewExtractor(apiKey string, limiter *ratelimit.Limiter) *Extractor {
	return newExtractorWithClient(openai.NewClient(apiKey), limiter)
}

func newExtractorWithClient(client completionAPI, limiter *ratelimit.Limiter) *Extractor {
	return &Extractor{
		client:  client,
		limiter: limiter,
		model:   openai.GPT4,
		now:     time.Now,
	}
}

// extractionResponse is the documented JSON shape of the model output.
type extractionResponse struct {
	Opportunities []opportunityDraft `json:"opportunities"`
}

type opportunityDraft struct {
	Type               string          `json:"type"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Evidence           []evidenceDraft `json:"evidence"`
	KeyParticipants    []string        `json:"key_participants"`
	ImplicitInsights   string          `json:"implicit_insights"`
	PotentialSolutions []string        `json:"potential_solutions"`
	ConfidenceScore    *float64        `json:"confidence_score"`
	ImpactAssessment   struct {
		Scope          string `json:"scope"`
		EffortEstimate string `json:"effort_estimate"`
		PotentialValue string `json:"potential_value"`
	} `json:"impact_assessment"`
}

type evidenceDraft struct {
	MessageID     string `json:"message_id"`
	Author        string `json:"author"`
	Timestamp     string `json:"timestamp"`
	Content       string `json:"content"`
	RelevanceNote string `json:"relevance_note"`
}

// Extract prompts the model with the channel's window and returns the
// validated opportunities. Malformed responses yield ErrExtractionParse;
// individual drafts failing validation are dropped with a logged reason,
// never coerced.
func (e *Extractor) Extract(ctx context.Context, channel *models.Channel, window *models.AnalysisWindow, messages []models.Message) ([]*models.Opportunity, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(channel, window, messages)},
		},
	})
	metrics.ExtractionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OpenAIAPICalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("requesting completion: %w", err)
	}
	metrics.OpenAIAPICalls.WithLabelValues("success").Inc()

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrExtractionParse)
	}

	return e.parseResponse(channel.ID, window.ID, resp.Choices[0].Message.Content)
}

// parseResponse decodes the model output and validates every draft.
func (e *Extractor) parseResponse(channelID, windowID, raw string) ([]*models.Opportunity, error) {
	cleaned := stripCodeFences(raw)

	var parsed extractionResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionParse, err)
	}

	now := e.now()
	var opportunities []*models.Opportunity
	for i, draft := range parsed.Opportunities {
		if draft.ConfidenceScore == nil {
			slog.Warn("Dropping opportunity draft",
				"channel", channelID, "index", i, "reason", "missing confidence_score")
			metrics.OpportunitiesExtracted.WithLabelValues("dropped").Inc()
			continue
		}

		opp, err := models.NewOpportunity(models.OpportunityDraft{
			WindowID:        windowID,
			Category:        draft.Type,
			Title:           draft.Title,
			Description:     draft.Description,
			ImplicitInsight: draft.ImplicitInsights,
			Participants:    draft.KeyParticipants,
			Solutions:       draft.PotentialSolutions,
			Confidence:      *draft.ConfidenceScore,
			Scope:           draft.ImpactAssessment.Scope,
			Effort:          draft.ImpactAssessment.EffortEstimate,
			Value:           draft.ImpactAssessment.PotentialValue,
		}, now)
		if err != nil {
			slog.Warn("Dropping opportunity draft",
				"channel", channelID, "index", i, "reason", err)
			metrics.OpportunitiesExtracted.WithLabelValues("dropped").Inc()
			continue
		}

		for _, ev := range draft.Evidence {
			ts, tsErr := parseEvidenceTimestamp(ev.Timestamp)
			if tsErr != nil {
				ts = now
			}
			opp.Evidence = append(opp.Evidence, models.NewEvidence(
				opp.ID, ev.MessageID, ev.Author, ts, ev.Content, ev.RelevanceNote))
		}

		metrics.OpportunitiesExtracted.WithLabelValues("accepted").Inc()
		opportunities = append(opportunities, opp)
	}

	return opportunities, nil
}

// parseEvidenceTimestamp accepts the provider's seconds-with-fraction
// format or RFC3339; anything else falls back to the detection time.
func parseEvidenceTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	secPart := value
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		secPart = value[:idx]
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
	}
	return time.Unix(sec, 0).UTC(), nil
}

// stripCodeFences removes a surrounding markdown code block if the model
// wrapped its JSON in one.
func stripCodeFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

const systemPrompt = `You are an analyst reviewing engineering team conversations. You identify concrete opportunities for features, automations, integrations, and optimizations that the team has implicitly or explicitly surfaced. Respond with JSON only, no prose.`

// buildPrompt renders the channel metadata, window metrics, and transcript
// into the extraction prompt.
func buildPrompt(channel *models.Channel, window *models.AnalysisWindow, messages []models.Message) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Channel: #%s (%s)\n", channel.Name, channel.Type)
	if channel.Topic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", channel.Topic)
	}
	if channel.Purpose != "" {
		fmt.Fprintf(&b, "Purpose: %s\n", channel.Purpose)
	}
	fmt.Fprintf(&b, "Window: %s to %s, %d messages, %.2f messages/day, %d active threads\n\n",
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"),
		window.MessageCount, window.Metrics.MessagesPerDay, window.Metrics.ActiveThreads)

	b.WriteString("Transcript (oldest context last):\n")
	for _, msg := range messages {
		text := msg.Text
		if len(text) > 500 {
			text = text[:500]
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", msg.ID, msg.UserID, text)
	}

	b.WriteString(`
Identify opportunities in this conversation. Respond with JSON of the shape:
{"opportunities": [{"type": "feature|automation|integration|optimization",
"title": "...", "description": "...",
"evidence": [{"message_id": "...", "author": "...", "timestamp": "...",
"content": "...", "relevance_note": "..."}],
"key_participants": ["..."], "implicit_insights": "...",
"potential_solutions": ["..."], "confidence_score": 0.0,
"impact_assessment": {"scope": "team|department|organization",
"effort_estimate": "small|medium|large", "potential_value": "low|medium|high"}}]}
Return {"opportunities": []} if none are present.`)

	return b.String()
}
