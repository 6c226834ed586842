package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/metrics"
	"github.com/tonymishler/vibeathon-engineering-leads-sub000/internal/models"
)

// SQLiteStore owns all write access to the five pipeline entities. Readers
// elsewhere only select. A single connection is kept so at most one
// transaction is ever open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and initializes
// the schema. Foreign keys are enforced on the connection.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	slog.Info("Initializing database schema...")

	statements := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('priority','standard','off-topic')),
			topic TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL DEFAULT '',
			member_count INTEGER NOT NULL DEFAULT 0,
			last_analyzed TIMESTAMP,
			message_count INTEGER NOT NULL DEFAULT 0,
			link_count INTEGER NOT NULL DEFAULT 0,
			mention_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP NOT NULL,
			thread_root_id TEXT,
			attachment_count INTEGER NOT NULL DEFAULT 0,
			reaction_count INTEGER NOT NULL DEFAULT 0,
			reply_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (channel_id, id)
		);`,
		`CREATE TABLE IF NOT EXISTS channel_contexts (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
			window_start TIMESTAMP NOT NULL,
			window_end TIMESTAMP NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			window_type TEXT NOT NULL CHECK (window_type IN ('time_limit','message_limit')),
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS opportunities (
			id TEXT PRIMARY KEY,
			context_id TEXT NOT NULL REFERENCES channel_contexts(id) ON DELETE CASCADE,
			category TEXT NOT NULL CHECK (category IN ('feature','automation','integration','optimization')),
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			implicit_insight TEXT NOT NULL DEFAULT '',
			participants TEXT NOT NULL DEFAULT '[]',
			solutions TEXT NOT NULL DEFAULT '[]',
			confidence_score REAL NOT NULL CHECK (confidence_score >= 0 AND confidence_score <= 1),
			impact_scope TEXT NOT NULL CHECK (impact_scope IN ('team','department','organization')),
			impact_effort TEXT NOT NULL CHECK (impact_effort IN ('small','medium','large')),
			impact_value TEXT NOT NULL CHECK (impact_value IN ('low','medium','high')),
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected','needs_more_info')),
			detected_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS opportunity_evidence (
			id TEXT PRIMARY KEY,
			opportunity_id TEXT NOT NULL REFERENCES opportunities(id) ON DELETE CASCADE,
			message_id TEXT NOT NULL DEFAULT '',
			author TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMP,
			content TEXT NOT NULL DEFAULT '',
			relevance_note TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(channel_id, thread_root_id);`,
		`CREATE INDEX IF NOT EXISTS idx_contexts_channel ON channel_contexts(channel_id);`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_context ON opportunities(context_id);`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_status ON opportunities(status);`,
		`CREATE INDEX IF NOT EXISTS idx_evidence_opportunity ON opportunity_evidence(opportunity_id);`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	slog.Info("Database schema initialized successfully")
	return nil
}

// ProcessChannel persists one channel's analysis pass atomically: channel
// upsert, message upserts, window insert, then opportunities with their
// evidence, all inside a single transaction. Any failure rolls the whole
// pass back; no partial rows for the channel become visible.
//
// The channel upsert is inside the transaction, so a first-time channel
// whose pass fails leaves no channel row either.
func (s *SQLiteStore) ProcessChannel(ctx context.Context, channel *models.Channel, messages []models.Message, window *models.AnalysisWindow, opportunities []*models.Opportunity) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			metrics.TransactionRollbacks.Inc()
			metrics.DatabaseOperations.WithLabelValues("process_channel", "error").Inc()
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				slog.Error("Transaction rollback failed", "channel", channel.ID, "error", rbErr)
			}
		}
	}()

	if err = upsertChannel(ctx, tx, channel); err != nil {
		return err
	}
	if err = upsertMessages(ctx, tx, messages); err != nil {
		return err
	}
	if err = insertWindow(ctx, tx, window); err != nil {
		return err
	}
	for _, opp := range opportunities {
		if err = insertOpportunity(ctx, tx, opp); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	metrics.DatabaseOperations.WithLabelValues("process_channel", "success").Inc()
	return nil
}

func upsertChannel(ctx context.Context, tx *sql.Tx, channel *models.Channel) error {
	query := `
		INSERT INTO channels (
			id, name, type, topic, purpose, member_count, last_analyzed,
			message_count, link_count, mention_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			topic = excluded.topic,
			purpose = excluded.purpose,
			member_count = excluded.member_count,
			last_analyzed = excluded.last_analyzed,
			message_count = excluded.message_count,
			link_count = excluded.link_count,
			mention_count = excluded.mention_count,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := tx.ExecContext(ctx, query,
		channel.ID, channel.Name, string(channel.Type), channel.Topic, channel.Purpose,
		channel.MemberCount, nullableTime(channel.LastAnalyzed),
		channel.MessageCount, channel.LinkCount, channel.MentionCount,
	)
	if err != nil {
		return fmt.Errorf("upserting channel %s: %w", channel.ID, err)
	}
	return nil
}

func upsertMessages(ctx context.Context, tx *sql.Tx, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	// Author and content are immutable once stored; only the activity
	// counters are refreshed on later passes.
	query := `
		INSERT INTO messages (
			id, channel_id, user_id, content, timestamp, thread_root_id,
			attachment_count, reaction_count, reply_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, id) DO UPDATE SET
			attachment_count = excluded.attachment_count,
			reaction_count = excluded.reaction_count,
			reply_count = excluded.reply_count,
			updated_at = CURRENT_TIMESTAMP
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("preparing message upsert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		_, err := stmt.ExecContext(ctx,
			msg.ID, msg.ChannelID, msg.UserID, msg.Text, msg.Timestamp,
			nullableString(msg.ThreadRootID),
			msg.AttachmentCount, msg.ReactionCount, msg.ReplyCount,
		)
		if err != nil {
			return fmt.Errorf("upserting message %s: %w", msg.ID, err)
		}
	}
	return nil
}

func insertWindow(ctx context.Context, tx *sql.Tx, window *models.AnalysisWindow) error {
	metadata, err := json.Marshal(window.Metrics)
	if err != nil {
		return fmt.Errorf("serializing window metrics: %w", err)
	}

	query := `
		INSERT INTO channel_contexts (
			id, channel_id, window_start, window_end, message_count, window_type, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		window.ID, window.ChannelID, window.Start, window.End,
		window.MessageCount, string(window.Type), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("inserting window %s: %w", window.ID, err)
	}
	return nil
}

func insertOpportunity(ctx context.Context, tx *sql.Tx, opp *models.Opportunity) error {
	participants, err := json.Marshal(emptyIfNil(opp.Participants))
	if err != nil {
		return fmt.Errorf("serializing participants: %w", err)
	}
	solutions, err := json.Marshal(emptyIfNil(opp.Solutions))
	if err != nil {
		return fmt.Errorf("serializing solutions: %w", err)
	}

	query := `
		INSERT INTO opportunities (
			id, context_id, category, title, description, implicit_insight,
			participants, solutions, confidence_score,
			impact_scope, impact_effort, impact_value, status,
			detected_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		opp.ID, opp.WindowID, opp.Category, opp.Title, opp.Description, opp.ImplicitInsight,
		string(participants), string(solutions), opp.Confidence,
		opp.Scope, opp.Effort, opp.Value, string(opp.Status),
		opp.DetectedAt, opp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting opportunity %s: %w", opp.ID, err)
	}

	for _, ev := range opp.Evidence {
		if err := insertEvidence(ctx, tx, ev); err != nil {
			return err
		}
	}
	return nil
}

func insertEvidence(ctx context.Context, tx *sql.Tx, ev models.Evidence) error {
	query := `
		INSERT INTO opportunity_evidence (
			id, opportunity_id, message_id, author, timestamp, content, relevance_note
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		ev.ID, ev.OpportunityID, ev.MessageID, ev.UserID, ev.Timestamp,
		ev.Content, ev.RelevanceNote,
	)
	if err != nil {
		return fmt.Errorf("inserting evidence %s: %w", ev.ID, err)
	}
	return nil
}

// GetChannel returns the stored channel row, or nil if it does not exist.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	query := `
		SELECT id, name, type, topic, purpose, member_count, last_analyzed,
		       message_count, link_count, mention_count
		FROM channels WHERE id = ?
	`
	var (
		ch           models.Channel
		chType       string
		lastAnalyzed sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&ch.ID, &ch.Name, &chType, &ch.Topic, &ch.Purpose, &ch.MemberCount,
		&lastAnalyzed, &ch.MessageCount, &ch.LinkCount, &ch.MentionCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting channel %s: %w", id, err)
	}
	ch.Type = models.ChannelType(chType)
	if lastAnalyzed.Valid {
		ch.LastAnalyzed = lastAnalyzed.Time
	}
	return &ch, nil
}

// GetWindows returns the stored analysis windows for a channel, newest
// first.
func (s *SQLiteStore) GetWindows(ctx context.Context, channelID string) ([]*models.AnalysisWindow, error) {
	query := `
		SELECT id, channel_id, window_start, window_end, message_count, window_type, metadata
		FROM channel_contexts
		WHERE channel_id = ?
		ORDER BY window_end DESC
	`
	rows, err := s.db.QueryContext(ctx, query, channelID)
	if err != nil {
		return nil, fmt.Errorf("getting windows for %s: %w", channelID, err)
	}
	defer rows.Close()

	var windows []*models.AnalysisWindow
	for rows.Next() {
		var (
			w        models.AnalysisWindow
			wType    string
			metadata string
		)
		if err := rows.Scan(&w.ID, &w.ChannelID, &w.Start, &w.End, &w.MessageCount, &wType, &metadata); err != nil {
			return nil, fmt.Errorf("scanning window: %w", err)
		}
		w.Type = models.WindowType(wType)
		if err := json.Unmarshal([]byte(metadata), &w.Metrics); err != nil {
			return nil, fmt.Errorf("deserializing window metrics: %w", err)
		}
		windows = append(windows, &w)
	}
	return windows, rows.Err()
}

// GetOpportunities returns the opportunities attached to a window,
// evidence included.
func (s *SQLiteStore) GetOpportunities(ctx context.Context, windowID string) ([]*models.Opportunity, error) {
	query := `
		SELECT id, context_id, category, title, description, implicit_insight,
		       participants, solutions, confidence_score,
		       impact_scope, impact_effort, impact_value, status, detected_at, updated_at
		FROM opportunities
		WHERE context_id = ?
		ORDER BY detected_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, windowID)
	if err != nil {
		return nil, fmt.Errorf("getting opportunities for %s: %w", windowID, err)
	}
	defer rows.Close()

	var opportunities []*models.Opportunity
	for rows.Next() {
		var (
			opp                     models.Opportunity
			participants, solutions string
			status                  string
		)
		err := rows.Scan(
			&opp.ID, &opp.WindowID, &opp.Category, &opp.Title, &opp.Description,
			&opp.ImplicitInsight, &participants, &solutions, &opp.Confidence,
			&opp.Scope, &opp.Effort, &opp.Value, &status, &opp.DetectedAt, &opp.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning opportunity: %w", err)
		}
		opp.Status = models.OpportunityStatus(status)
		if err := json.Unmarshal([]byte(participants), &opp.Participants); err != nil {
			return nil, fmt.Errorf("deserializing participants: %w", err)
		}
		if err := json.Unmarshal([]byte(solutions), &opp.Solutions); err != nil {
			return nil, fmt.Errorf("deserializing solutions: %w", err)
		}
		opportunities = append(opportunities, &opp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, opp := range opportunities {
		evidence, err := s.getEvidence(ctx, opp.ID)
		if err != nil {
			return nil, err
		}
		opp.Evidence = evidence
	}
	return opportunities, nil
}

func (s *SQLiteStore) getEvidence(ctx context.Context, opportunityID string) ([]models.Evidence, error) {
	query := `
		SELECT id, opportunity_id, message_id, author, timestamp, content, relevance_note
		FROM opportunity_evidence
		WHERE opportunity_id = ?
		ORDER BY timestamp ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("getting evidence for %s: %w", opportunityID, err)
	}
	defer rows.Close()

	var evidence []models.Evidence
	for rows.Next() {
		var (
			ev models.Evidence
			ts sql.NullTime
		)
		if err := rows.Scan(&ev.ID, &ev.OpportunityID, &ev.MessageID, &ev.UserID, &ts, &ev.Content, &ev.RelevanceNote); err != nil {
			return nil, fmt.Errorf("scanning evidence: %w", err)
		}
		if ts.Valid {
			ev.Timestamp = ts.Time
		}
		evidence = append(evidence, ev)
	}
	return evidence, rows.Err()
}

// CountMessages reports how many messages are stored for a channel.
func (s *SQLiteStore) CountMessages(ctx context.Context, channelID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE channel_id = ?", channelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", channelID, err)
	}
	return count, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
