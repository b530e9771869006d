package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"emberchat/internal/migrations"
	"emberchat/internal/models"
	"emberchat/internal/security"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Database is the durable message store. It exclusively owns persisted
// message records; scheduler jobs and ephemeral timers are rebuilt from it
// on process start.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	// Validate database path to prevent directory traversal
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	schema, err := migrations.GetInitialSchema()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to read schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	enc, err := newEncryptor()
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize encryptor: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	return &Database{db: db, encryptor: enc}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const messageColumns = `id, sender_id, receiver_id, group_id, text, image,
	is_ephemeral, ephemeral_duration, is_scheduled, scheduled_send_time,
	is_sent, created_at, updated_at`

// SaveMessage persists a new message and assigns its id and creation time.
func (d *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	encryptedText, err := d.encryptor.EncryptIfEnabled(msg.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt text: %w", err)
	}
	encryptedImage, err := d.encryptor.EncryptIfEnabled(msg.Image)
	if err != nil {
		return fmt.Errorf("failed to encrypt image: %w", err)
	}

	query := `
		INSERT INTO messages (
			id, sender_id, receiver_id, group_id, text, image,
			is_ephemeral, ephemeral_duration, is_scheduled,
			scheduled_send_time, is_sent, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			msg.ID,
			msg.SenderID,
			nullable(msg.ReceiverID),
			nullable(msg.GroupID),
			encryptedText,
			encryptedImage,
			msg.IsEphemeral,
			msg.EphemeralDuration,
			msg.IsScheduled,
			nullableTime(msg.ScheduledSendTime),
			msg.IsSent,
			msg.CreatedAt,
			msg.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}
		return nil
	}, "save message")
}

// GetMessage retrieves a message by id, nil when absent.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = ?`, messageColumns)

	row := d.db.QueryRowContext(ctx, query, id)
	msg, err := d.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	if err := d.loadHides(ctx, []*models.Message{msg}); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetDirectMessages returns all sent messages between the unordered user
// pair, oldest first. Per-viewer hides are filtered at the read boundary by
// the caller, not here.
func (d *Database) GetDirectMessages(ctx context.Context, userA, userB string) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE ((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))
		  AND is_sent = 1
		ORDER BY created_at ASC`, messageColumns)

	return d.queryMessages(ctx, query, userA, userB, userB, userA)
}

// GetGroupMessages returns all sent messages of a group, oldest first.
func (d *Database) GetGroupMessages(ctx context.Context, groupID string) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE group_id = ? AND is_sent = 1
		ORDER BY created_at ASC`, messageColumns)

	return d.queryMessages(ctx, query, groupID)
}

// MarkSent atomically flips a still-pending scheduled message to sent and
// reports whether the transition happened. A false result means the message
// was already delivered, cancelled, or redacted; callers treat it as the
// authoritative loss of the fire/cancel race.
func (d *Database) MarkSent(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE messages
		SET is_sent = 1, is_scheduled = 0, updated_at = ?
		WHERE id = ? AND is_scheduled = 1 AND is_sent = 0
	`

	result, err := d.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark message sent: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

// RedactMessage replaces the text with the placeholder, clears the image,
// drops any pending schedule flag, and erases all per-viewer hides.
// Redaction supersedes per-user hiding.
func (d *Database) RedactMessage(ctx context.Context, id, placeholder string) error {
	encryptedText, err := d.encryptor.EncryptIfEnabled(placeholder)
	if err != nil {
		return fmt.Errorf("failed to encrypt placeholder: %w", err)
	}

	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin redaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result, err := tx.ExecContext(ctx, `
			UPDATE messages
			SET text = ?, image = '', is_scheduled = 0, updated_at = ?
			WHERE id = ?`, encryptedText, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to redact message: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("no message found with ID: %s", id)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM message_hides WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear hides: %w", err)
		}

		return tx.Commit()
	}, "redact message")
}

// HideMessageFor adds userID to the message's hide set. Idempotent.
func (d *Database) HideMessageFor(ctx context.Context, id, userID string) error {
	query := `INSERT OR IGNORE INTO message_hides (message_id, user_id) VALUES (?, ?)`

	return retryableDBOperation(ctx, func() error {
		if _, err := d.db.ExecContext(ctx, query, id, userID); err != nil {
			return fmt.Errorf("failed to hide message: %w", err)
		}
		return nil
	}, "hide message")
}

// DeleteMessage hard-deletes a message and its hide set. Used by the
// ephemeral burn path and by schedule-arming compensation only.
func (d *Database) DeleteMessage(ctx context.Context, id string) error {
	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin delete: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM message_hides WHERE message_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete hides: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}

		return tx.Commit()
	}, "delete message")
}

// ListPendingScheduled returns every scheduled-but-unsent message ordered by
// due time ascending, for scheduler recovery on startup.
func (d *Database) ListPendingScheduled(ctx context.Context) ([]*models.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE is_scheduled = 1 AND is_sent = 0
		ORDER BY scheduled_send_time ASC`, messageColumns)

	return d.queryMessages(ctx, query)
}

// ListBurnable returns the ephemeral sent messages a viewed signal applies
// to: addressed to the viewer (or their group) and not authored by the
// viewer. A viewer never burns their own sent messages by viewing.
func (d *Database) ListBurnable(ctx context.Context, viewerID, chatID string, isGroup bool) ([]*models.Message, error) {
	if isGroup {
		query := fmt.Sprintf(`
			SELECT %s FROM messages
			WHERE group_id = ? AND is_ephemeral = 1 AND is_sent = 1 AND sender_id <> ?`, messageColumns)
		return d.queryMessages(ctx, query, chatID, viewerID)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND is_ephemeral = 1 AND is_sent = 1`, messageColumns)
	return d.queryMessages(ctx, query, chatID, viewerID)
}

// SaveGroup stores or replaces a group and its member list.
func (d *Database) SaveGroup(ctx context.Context, groupID, name string, members []string) error {
	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin group save: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO groups (id, name) VALUES (?, ?)`, groupID, name); err != nil {
			return fmt.Errorf("failed to save group: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ?`, groupID); err != nil {
			return fmt.Errorf("failed to clear group members: %w", err)
		}
		for _, member := range members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)`, groupID, member); err != nil {
				return fmt.Errorf("failed to save group member: %w", err)
			}
		}

		return tx.Commit()
	}, "save group")
}

// GetGroupMembers returns the current member list of a group. The dispatcher
// fetches this fresh at delivery time, never from a cache.
func (d *Database) GetGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get group members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}
	return members, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var receiverID, groupID sql.NullString
	var scheduledSendTime sql.NullTime
	var encryptedText, encryptedImage string

	err := row.Scan(
		&msg.ID,
		&msg.SenderID,
		&receiverID,
		&groupID,
		&encryptedText,
		&encryptedImage,
		&msg.IsEphemeral,
		&msg.EphemeralDuration,
		&msg.IsScheduled,
		&scheduledSendTime,
		&msg.IsSent,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.ReceiverID = receiverID.String
	msg.GroupID = groupID.String
	if scheduledSendTime.Valid {
		t := scheduledSendTime.Time
		msg.ScheduledSendTime = &t
	}

	msg.Text, err = d.encryptor.DecryptIfEnabled(encryptedText)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt text: %w", err)
	}
	msg.Image, err = d.encryptor.DecryptIfEnabled(encryptedImage)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt image: %w", err)
	}

	return msg, nil
}

func (d *Database) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*models.Message
	for rows.Next() {
		msg, err := d.scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	if err := d.loadHides(ctx, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// loadHides populates DeletedFor for a batch of messages with one query.
func (d *Database) loadHides(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	placeholders := make([]string, len(messages))
	args := make([]interface{}, len(messages))
	byID := make(map[string]*models.Message, len(messages))
	for i, msg := range messages {
		placeholders[i] = "?"
		args[i] = msg.ID
		byID[msg.ID] = msg
	}

	query := fmt.Sprintf(
		`SELECT message_id, user_id FROM message_hides WHERE message_id IN (%s) ORDER BY hidden_at`,
		strings.Join(placeholders, ","))

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query hides: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var messageID, userID string
		if err := rows.Scan(&messageID, &userID); err != nil {
			return fmt.Errorf("failed to scan hide: %w", err)
		}
		if msg, ok := byID[messageID]; ok {
			msg.DeletedFor = append(msg.DeletedFor, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate hides: %w", err)
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
