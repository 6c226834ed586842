package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChannelType classifies a channel by its naming convention.
type ChannelType string

const (
	ChannelPriority ChannelType = "priority"
	ChannelStandard ChannelType = "standard"
	ChannelOffTopic ChannelType = "off-topic"
)

// WindowType tags how an analysis window was bounded. Only time_limit is
// produced today; message_limit is reserved for a count-bounded variant.
type WindowType string

const (
	WindowTimeLimit    WindowType = "time_limit"
	WindowMessageLimit WindowType = "message_limit"
)

// OpportunityStatus is the review lifecycle of an extracted opportunity.
type OpportunityStatus string

const (
	StatusPending       OpportunityStatus = "pending"
	StatusApproved      OpportunityStatus = "approved"
	StatusRejected      OpportunityStatus = "rejected"
	StatusNeedsMoreInfo OpportunityStatus = "needs_more_info"
)

// Closed enumerations for the impact triple and category.
var (
	ValidCategories = []string{"feature", "automation", "integration", "optimization"}
	ValidScopes     = []string{"team", "department", "organization"}
	ValidEfforts    = []string{"small", "medium", "large"}
	ValidValues     = []string{"low", "medium", "high"}
)

// Channel is a chat channel tracked by the pipeline. Created on first
// discovery, refreshed on every analysis pass, never deleted here.
type Channel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         ChannelType `json:"type"`
	Topic        string    `json:"topic"`
	Purpose      string    `json:"purpose"`
	MemberCount  int       `json:"member_count"`
	LastAnalyzed time.Time `json:"last_analyzed"`
	MessageCount int       `json:"message_count"`
	LinkCount    int       `json:"link_count"`
	MentionCount int       `json:"mention_count"`
}

var priorityPrefixes = []string{"proj-", "team-", "eng-", "incident-", "support-", "product-"}

var offTopicMarkers = []string{"random", "social", "fun", "watercooler", "off-topic", "offtopic", "memes", "pets"}

// ClassifyChannel derives a channel's type from its name. Priority prefixes
// win over off-topic markers; anything else is standard.
func ClassifyChannel(name string) ChannelType {
	lower := strings.ToLower(name)
	for _, prefix := range priorityPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return ChannelPriority
		}
	}
	for _, marker := range offTopicMarkers {
		if strings.Contains(lower, marker) {
			return ChannelOffTopic
		}
	}
	return ChannelStandard
}

// Message is a single channel message. ID is the provider timestamp string,
// unique per channel. ThreadRootID is empty for unthreaded messages.
type Message struct {
	ID              string    `json:"id"`
	ChannelID       string    `json:"channel_id"`
	UserID          string    `json:"user_id"`
	Text            string    `json:"text"`
	Timestamp       time.Time `json:"timestamp"`
	ThreadRootID    string    `json:"thread_root_id,omitempty"`
	AttachmentCount int       `json:"attachment_count"`
	ReactionCount   int       `json:"reaction_count"`
	ReplyCount      int       `json:"reply_count"`
}

// ChannelHistory is the reconstructed view of a channel: the flat message
// list plus, per thread root id, its ordered replies.
type ChannelHistory struct {
	ChannelID string
	Messages  []Message
	Replies   map[string][]Message
}

// Flatten returns root messages followed by thread replies, preserving the
// order roots were fetched in and reply order within each thread.
func (h *ChannelHistory) Flatten() []Message {
	out := make([]Message, 0, len(h.Messages))
	out = append(out, h.Messages...)
	for _, msg := range h.Messages {
		if replies, ok := h.Replies[msg.ID]; ok {
			out = append(out, replies...)
		}
	}
	return out
}

// WindowMetrics is the derived activity snapshot serialized into an
// AnalysisWindow. Field order is fixed so serialization is deterministic.
type WindowMetrics struct {
	Participants    []ParticipantCount `json:"participants"`
	KeyContributors []string           `json:"key_contributors"`
	MessagesPerDay  float64            `json:"messages_per_day"`
	ActiveThreads   int                `json:"active_threads"`
	PeakHours       []int              `json:"peak_hours"`
}

// ParticipantCount pairs an author with their message count in a window.
type ParticipantCount struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

// AnalysisWindow is one bounded slice of channel history per analysis run.
type AnalysisWindow struct {
	ID           string        `json:"id"`
	ChannelID    string        `json:"channel_id"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	MessageCount int           `json:"message_count"`
	Type         WindowType    `json:"type"`
	Metrics      WindowMetrics `json:"metrics"`
}

// Opportunity is a model-extracted candidate improvement with its evidence.
type Opportunity struct {
	ID              string            `json:"id"`
	WindowID        string            `json:"window_id"`
	Category        string            `json:"category"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	ImplicitInsight string            `json:"implicit_insight"`
	Participants    []string          `json:"participants"`
	Solutions       []string          `json:"solutions"`
	Confidence      float64           `json:"confidence"`
	Scope           string            `json:"scope"`
	Effort          string            `json:"effort"`
	Value           string            `json:"value"`
	Status          OpportunityStatus `json:"status"`
	DetectedAt      time.Time         `json:"detected_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Evidence        []Evidence        `json:"evidence"`
}

// Evidence is a quoted source message cited in support of an opportunity.
// MessageID may reference a message that was never stored if the source
// system could not supply a stable id.
type Evidence struct {
	ID            string    `json:"id"`
	OpportunityID string    `json:"opportunity_id"`
	MessageID     string    `json:"message_id"`
	UserID        string    `json:"user_id"`
	Timestamp     time.Time `json:"timestamp"`
	Content       string    `json:"content"`
	RelevanceNote string    `json:"relevance_note"`
}

// ValidationError reports why an entity draft was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// OpportunityDraft carries the unvalidated fields for NewOpportunity.
type OpportunityDraft struct {
	WindowID        string
	Category        string
	Title           string
	Description     string
	ImplicitInsight string
	Participants    []string
	Solutions       []string
	Confidence      float64
	Scope           string
	Effort          string
	Value           string
}

// NewOpportunity validates a draft and returns a pending opportunity, or a
// ValidationError describing the first failing field.
func NewOpportunity(draft OpportunityDraft, now time.Time) (*Opportunity, error) {
	if strings.TrimSpace(draft.Title) == "" {
		return nil, &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !containsString(ValidCategories, draft.Category) {
		return nil, &ValidationError{Field: "category", Reason: fmt.Sprintf("%q is not one of %v", draft.Category, ValidCategories)}
	}
	if draft.Confidence < 0 || draft.Confidence > 1 {
		return nil, &ValidationError{Field: "confidence_score", Reason: fmt.Sprintf("%v is outside [0,1]", draft.Confidence)}
	}
	if !containsString(ValidScopes, draft.Scope) {
		return nil, &ValidationError{Field: "scope", Reason: fmt.Sprintf("%q is not one of %v", draft.Scope, ValidScopes)}
	}
	if !containsString(ValidEfforts, draft.Effort) {
		return nil, &ValidationError{Field: "effort_estimate", Reason: fmt.Sprintf("%q is not one of %v", draft.Effort, ValidEfforts)}
	}
	if !containsString(ValidValues, draft.Value) {
		return nil, &ValidationError{Field: "potential_value", Reason: fmt.Sprintf("%q is not one of %v", draft.Value, ValidValues)}
	}

	return &Opportunity{
		ID:              uuid.New().String(),
		WindowID:        draft.WindowID,
		Category:        draft.Category,
		Title:           strings.TrimSpace(draft.Title),
		Description:     draft.Description,
		ImplicitInsight: draft.ImplicitInsight,
		Participants:    draft.Participants,
		Solutions:       draft.Solutions,
		Confidence:      draft.Confidence,
		Scope:           draft.Scope,
		Effort:          draft.Effort,
		Value:           draft.Value,
		Status:          StatusPending,
		DetectedAt:      now,
		UpdatedAt:       now,
	}, nil
}

// NewEvidence attaches a quoted message to an opportunity.
func NewEvidence(opportunityID, messageID, userID string, ts time.Time, content, note string) Evidence {
	return Evidence{
		ID:            uuid.New().String(),
		OpportunityID: opportunityID,
		MessageID:     messageID,
		UserID:        userID,
		Timestamp:     ts,
		Content:       content,
		RelevanceNote: note,
	}
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
