// Package notification persists per-recipient notifications and fans them out
// to live connections, email and SMS.
package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"formation-review/internal/common/database"
	"formation-review/internal/models"
)

var ErrNotFound = errors.New("notification not found")

// Store is the PostgreSQL notification repository.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListFilter pages a recipient's notifications, newest first.
type ListFilter struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

const selectNotification = `
	SELECT n.id, n.recipient_id, n.type, n.title, n.message, n.is_read, n.read_at,
	       n.application_id, n.interview_id, n.created_at, f.title, i.scheduled_date
	FROM notifications n
	LEFT JOIN course_applications a ON a.id = n.application_id
	LEFT JOIN formations f ON f.id = a.formation_id
	LEFT JOIN interviews i ON i.id = n.interview_id`

// Create inserts a new unread notification. ID and CreatedAt must be set.
func (s *Store) Create(ctx context.Context, n *models.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, application_id, interview_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		n.ID, n.RecipientID, string(n.Type), n.Title, n.Message, n.ApplicationID, n.InterviewID, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// Get loads a notification owned by recipientID.
func (s *Store) Get(ctx context.Context, id, recipientID string) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, selectNotification+`
	WHERE n.id = $1 AND n.recipient_id = $2`, id, recipientID)

	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) || database.IsInvalidTextRepresentation(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, recipientID string, f ListFilter) ([]models.Notification, error) {
	query := selectNotification + `
	WHERE n.recipient_id = $1`
	if f.UnreadOnly {
		query += ` AND n.is_read = FALSE`
	}
	query += `
	ORDER BY n.created_at DESC
	LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, recipientID, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// MarkAsRead flips is_read and read_at together. An already read notification
// is left untouched; the returned bool reports whether a row changed.
func (s *Store) MarkAsRead(ctx context.Context, id, recipientID string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $3
		WHERE id = $1 AND recipient_id = $2 AND is_read = FALSE`,
		id, recipientID, now,
	)
	if database.IsInvalidTextRepresentation(err) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) MarkAllAsRead(ctx context.Context, recipientID string, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2
		WHERE recipient_id = $1 AND is_read = FALSE`,
		recipientID, now,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE`, recipientID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// RecordDelivery stores the outcome of one email or SMS attempt.
func (s *Store) RecordDelivery(ctx context.Context, d models.NotificationDelivery) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_deliveries (id, notification_id, channel, status, error, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.ID, d.NotificationID, string(d.Channel), string(d.Status), d.Error, d.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification delivery: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n              models.Notification
		typ            string
		readAt         sql.NullTime
		applicationID  sql.NullString
		interviewID    sql.NullString
		formationTitle sql.NullString
		interviewDate  sql.NullTime
	)
	if err := row.Scan(
		&n.ID, &n.RecipientID, &typ, &n.Title, &n.Message, &n.IsRead, &readAt,
		&applicationID, &interviewID, &n.CreatedAt, &formationTitle, &interviewDate,
	); err != nil {
		return nil, err
	}

	n.Type = models.NotificationType(typ)
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if applicationID.Valid {
		n.ApplicationID = &applicationID.String
	}
	if interviewID.Valid {
		n.InterviewID = &interviewID.String
	}
	if formationTitle.Valid {
		n.FormationTitle = &formationTitle.String
	}
	if interviewDate.Valid {
		t := interviewDate.Time
		n.InterviewDate = &t
	}
	return &n, nil
}
