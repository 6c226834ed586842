package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testChannel() *models.Channel {
	return &models.Channel{
		ID:           "C1",
		Name:         "proj-payments",
		Type:         models.ChannelPriority,
		Topic:        "payments work",
		Purpose:      "coordination",
		MemberCount:  12,
		LastAnalyzed: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		MessageCount: 3,
		LinkCount:    1,
		MentionCount: 2,
	}
}

func testMessages(channelID string) []models.Message {
	base := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return []models.Message{
		{ID: "100.000001", ChannelID: channelID, UserID: "alice", Text: "root message", Timestamp: base},
		{ID: "100.000002", ChannelID: channelID, UserID: "bob", Text: "a reply", Timestamp: base.Add(time.Minute), ThreadRootID: "100.000001", ReactionCount: 2},
		{ID: "100.000003", ChannelID: channelID, UserID: "alice", Text: "another root", Timestamp: base.Add(2 * time.Minute)},
	}
}

func testWindow(channelID string) *models.AnalysisWindow {
	end := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.AnalysisWindow{
		ID:           uuid.New().String(),
		ChannelID:    channelID,
		Start:        end.AddDate(0, 0, -90),
		End:          end,
		MessageCount: 3,
		Type:         models.WindowTimeLimit,
		Metrics: models.WindowMetrics{
			Participants:    []models.ParticipantCount{{UserID: "alice", Count: 2}, {UserID: "bob", Count: 1}},
			KeyContributors: []string{"alice", "bob"},
			MessagesPerDay:  3.0 / 90.0,
			ActiveThreads:   1,
			PeakHours:       []int{9},
		},
	}
}

func makeOpportunity(t *testing.T, windowID, title string) *models.Opportunity {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	opp, err := models.NewOpportunity(models.OpportunityDraft{
		WindowID:     windowID,
		Category:     "automation",
		Title:        title,
		Description:  "description",
		Participants: []string{"alice"},
		Solutions:    []string{"a webhook"},
		Confidence:   0.8,
		Scope:        "team",
		Effort:       "small",
		Value:        "medium",
	}, now)
	if err != nil {
		t.Fatalf("NewOpportunity() error: %v", err)
	}
	opp.Evidence = append(opp.Evidence, models.NewEvidence(
		opp.ID, "100.000001", "alice", now.Add(-time.Hour), "root message", "states the manual step"))
	return opp
}

func TestProcessChannelPersistsFullPass(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	channel := testChannel()
	messages := testMessages(channel.ID)
	window := testWindow(channel.ID)
	opp := makeOpportunity(t, window.ID, "Automate deploy logs")

	if err := store.ProcessChannel(ctx, channel, messages, window, []*models.Opportunity{opp}); err != nil {
		t.Fatalf("ProcessChannel() error: %v", err)
	}

	got, err := store.GetChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetChannel() error: %v", err)
	}
	if got == nil {
		t.Fatal("GetChannel() returned nil for persisted channel")
	}
	if got.Name != "proj-payments" || got.Type != models.ChannelPriority {
		t.Errorf("channel round-trip = %+v", got)
	}
	if got.MessageCount != 3 || got.LinkCount != 1 || got.MentionCount != 2 {
		t.Errorf("channel counters = %d/%d/%d, want 3/1/2", got.MessageCount, got.LinkCount, got.MentionCount)
	}

	count, err := store.CountMessages(ctx, channel.ID)
	if err != nil {
		t.Fatalf("CountMessages() error: %v", err)
	}
	if count != 3 {
		t.Errorf("CountMessages() = %d, want 3", count)
	}

	windows, err := store.GetWindows(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetWindows() error: %v", err)
	}
	if len(windows) != 1 {
		t.Fatalf("GetWindows() returned %d windows, want 1", len(windows))
	}
	if windows[0].Metrics.ActiveThreads != 1 || len(windows[0].Metrics.KeyContributors) != 2 {
		t.Errorf("window metrics did not survive the round trip: %+v", windows[0].Metrics)
	}

	opportunities, err := store.GetOpportunities(ctx, window.ID)
	if err != nil {
		t.Fatalf("GetOpportunities() error: %v", err)
	}
	if len(opportunities) != 1 {
		t.Fatalf("GetOpportunities() returned %d, want 1", len(opportunities))
	}
	stored := opportunities[0]
	if stored.Title != "Automate deploy logs" || stored.Status != models.StatusPending {
		t.Errorf("opportunity round-trip = %+v", stored)
	}
	if len(stored.Evidence) != 1 || stored.Evidence[0].MessageID != "100.000001" {
		t.Errorf("evidence round-trip = %+v", stored.Evidence)
	}
}

func TestChannelUpsertRefreshesMutableFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	channel := testChannel()
	if err := store.ProcessChannel(ctx, channel, nil, testWindow(channel.ID), nil); err != nil {
		t.Fatalf("first pass error: %v", err)
	}

	updated := testChannel()
	updated.MemberCount = 20
	updated.Topic = "payments v2"
	if err := store.ProcessChannel(ctx, updated, nil, testWindow(channel.ID), nil); err != nil {
		t.Fatalf("second pass error: %v", err)
	}

	got, err := store.GetChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetChannel() error: %v", err)
	}
	if got.MemberCount != 20 {
		t.Errorf("MemberCount = %d, want 20", got.MemberCount)
	}
	if got.Topic != "payments v2" {
		t.Errorf("Topic = %q, want payments v2", got.Topic)
	}

	windows, err := store.GetWindows(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetWindows() error: %v", err)
	}
	if len(windows) != 2 {
		t.Errorf("GetWindows() returned %d windows, want one per pass", len(windows))
	}
}

func TestMessageUpsertPreservesContentRefreshesCounters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	channel := testChannel()
	messages := testMessages(channel.ID)
	if err := store.ProcessChannel(ctx, channel, messages, testWindow(channel.ID), nil); err != nil {
		t.Fatalf("first pass error: %v", err)
	}

	// Second pass sees the same message with edited text and more reactions.
	reFetched := testMessages(channel.ID)[:1]
	reFetched[0].Text = "edited upstream"
	reFetched[0].ReactionCount = 5
	reFetched[0].ReplyCount = 2
	if err := store.ProcessChannel(ctx, channel, reFetched, testWindow(channel.ID), nil); err != nil {
		t.Fatalf("second pass error: %v", err)
	}

	var content string
	var reactions, replies int
	err := store.db.QueryRowContext(ctx,
		"SELECT content, reaction_count, reply_count FROM messages WHERE channel_id = ? AND id = ?",
		channel.ID, "100.000001").Scan(&content, &reactions, &replies)
	if err != nil {
		t.Fatalf("querying message: %v", err)
	}
	if content != "root message" {
		t.Errorf("content = %q, original text must be preserved", content)
	}
	if reactions != 5 || replies != 2 {
		t.Errorf("counters = %d/%d, want refreshed 5/2", reactions, replies)
	}
}

func TestProcessChannelRollsBackWholePass(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	channel := testChannel()
	window := testWindow(channel.ID)

	opportunities := []*models.Opportunity{
		makeOpportunity(t, window.ID, "first"),
		makeOpportunity(t, window.ID, "second"),
		makeOpportunity(t, window.ID, "third"),
	}
	// Bypass the factory to violate the scope CHECK constraint mid-batch.
	opportunities[2].Scope = "galaxy"
	opportunities = append(opportunities,
		makeOpportunity(t, window.ID, "fourth"),
		makeOpportunity(t, window.ID, "fifth"),
	)

	err := store.ProcessChannel(ctx, channel, testMessages(channel.ID), window, opportunities)
	if err == nil {
		t.Fatal("ProcessChannel() should fail on the constraint violation")
	}

	got, err := store.GetChannel(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetChannel() error: %v", err)
	}
	if got != nil {
		t.Error("channel row survived a rolled-back first pass")
	}

	count, err := store.CountMessages(ctx, channel.ID)
	if err != nil {
		t.Fatalf("CountMessages() error: %v", err)
	}
	if count != 0 {
		t.Errorf("messages persisted despite rollback: %d rows", count)
	}

	windows, err := store.GetWindows(ctx, channel.ID)
	if err != nil {
		t.Fatalf("GetWindows() error: %v", err)
	}
	if len(windows) != 0 {
		t.Errorf("windows persisted despite rollback: %d rows", len(windows))
	}

	var oppCount int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&oppCount); err != nil {
		t.Fatalf("counting opportunities: %v", err)
	}
	if oppCount != 0 {
		t.Errorf("opportunities persisted despite rollback: %d rows", oppCount)
	}

	var evCount int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunity_evidence").Scan(&evCount); err != nil {
		t.Fatalf("counting evidence: %v", err)
	}
	if evCount != 0 {
		t.Errorf("evidence persisted despite rollback: %d rows", evCount)
	}
}
