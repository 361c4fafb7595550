package notification

import (
	"context"
	"errors"
	"time"

	apperrors "formation-review/internal/common/errors"
	"formation-review/internal/common/logger"
	"formation-review/internal/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Service serves a recipient's own notifications.
type Service struct {
	store  *Store
	cache  *UnreadCache
	logger logger.Logger
	now    func() time.Time
}

func NewService(store *Store, cache *UnreadCache, log logger.Logger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		logger: log.WithFields(map[string]interface{}{"component": "notification-service"}),
		now:    time.Now,
	}
}

// NormalizePage clamps limit to 1..MaxPageSize and offset to >= 0.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]models.Notification, error) {
	f.Limit, f.Offset = NormalizePage(f.Limit, f.Offset)
	list, err := s.store.List(ctx, userID, f)
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("list notifications", err)
	}
	return list, nil
}

// MarkAsRead is idempotent: a second call returns the row unchanged.
func (s *Service) MarkAsRead(ctx context.Context, userID, id string) (*models.Notification, error) {
	changed, err := s.store.MarkAsRead(ctx, id, userID, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("mark notification read", err)
	}

	n, err := s.store.Get(ctx, id, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, apperrors.NewNotFoundError("notification", id)
	}
	if err != nil {
		return nil, apperrors.NewQueryExecutionFailedError("get notification", err)
	}

	if changed {
		s.invalidate(ctx, userID)
	}
	return n, nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	count, err := s.store.MarkAllAsRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("mark all notifications read", err)
	}
	if count > 0 {
		s.invalidate(ctx, userID)
	}
	return count, nil
}

// UnreadCount reads through the redis cache when one is configured. The
// database count is cached only if no notification changed in between.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	if n, ok, err := s.cache.Get(ctx, userID); err != nil {
		s.logger.Warn("unread cache read failed", map[string]interface{}{"userId": userID, "error": err})
	} else if ok {
		return n, nil
	}

	gen, genErr := s.cache.Generation(ctx, userID)
	if genErr != nil {
		s.logger.Warn("unread cache generation read failed", map[string]interface{}{"userId": userID, "error": genErr})
	}

	n, err := s.store.UnreadCount(ctx, userID)
	if err != nil {
		return 0, apperrors.NewQueryExecutionFailedError("count unread notifications", err)
	}

	if genErr == nil {
		if _, err := s.cache.SetIfGeneration(ctx, userID, gen, n); err != nil {
			s.logger.Warn("unread cache write failed", map[string]interface{}{"userId": userID, "error": err})
		}
	}
	return n, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("unread cache invalidation failed", map[string]interface{}{"userId": userID, "error": err})
	}
}
