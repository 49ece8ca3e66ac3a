package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"readinglog/api/internal/events"
	"readinglog/api/internal/store"
)

// NormalizeTagName is the canonical form tags are stored and compared in.
func NormalizeTagName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// AttachTag links a tag to one of the caller's logs, creating the tag on
// first use. A concurrent attach that loses the race on the link's unique
// key is treated as success.
func (s *Service) AttachTag(ctx context.Context, session Session, logID int64, name string) (map[string]any, error) {
	normalized := NormalizeTagName(name)
	if normalized == "" {
		return nil, invalidField("name", "must not be blank")
	}
	if err := s.validate.Var("name", normalized, "max=64"); err != nil {
		return nil, err
	}
	if _, err := s.ownedLog(ctx, session, logID); err != nil {
		return nil, err
	}

	current, err := s.store.ListLogTags(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}
	for _, tag := range current {
		if tag.Name == normalized {
			return nil, domainError(
				http.StatusConflict,
				"TAG_ALREADY_ATTACHED",
				fmt.Sprintf(`Tag "%s" already added to this log.`, normalized),
				nil,
			)
		}
	}

	tag, err := s.findOrCreateTag(ctx, session.UserID, normalized)
	if err != nil {
		return nil, err
	}
	err = s.store.InsertLogTag(ctx, store.LogTag{LogID: logID, TagID: tag.ID, UserID: session.UserID})
	if err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, err
	}

	tags, err := s.store.ListLogTags(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}
	s.events.PublishAsync(events.TagAttached, session.UserID, events.TagData{LogID: logID, TagID: tag.ID, Name: tag.Name})
	return map[string]any{
		"tag":  tagPayload(tag),
		"tags": tagsPayload(sortTags(tags)),
	}, nil
}

func (s *Service) findOrCreateTag(ctx context.Context, userID, name string) (store.Tag, error) {
	tag, err := s.store.FindTag(ctx, userID, name)
	if err == nil {
		return tag, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return store.Tag{}, err
	}

	tag, err = s.store.InsertTag(ctx, userID, name)
	if errors.Is(err, store.ErrConflict) {
		return s.store.FindTag(ctx, userID, name)
	}
	return tag, err
}

// DetachTag removes only the link. The tag row stays even when no log uses
// it any more.
func (s *Service) DetachTag(ctx context.Context, session Session, logID, tagID int64) (map[string]any, error) {
	removed, err := s.store.DeleteLogTag(ctx, store.LogTag{LogID: logID, TagID: tagID, UserID: session.UserID})
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, notFound("Tag is not attached to this log")
	}
	tags, err := s.store.ListLogTags(ctx, session.UserID, logID)
	if err != nil {
		return nil, err
	}
	s.events.PublishAsync(events.TagDetached, session.UserID, events.TagData{LogID: logID, TagID: tagID})
	return map[string]any{
		"ok":   true,
		"tags": tagsPayload(sortTags(tags)),
	}, nil
}

func (s *Service) ListTags(ctx context.Context, session Session) (map[string]any, error) {
	tags, err := s.store.ListUserTags(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tags": tagsPayload(sortTags(tags))}, nil
}

func sortTags(tags []store.Tag) []store.Tag {
	sorted := make([]store.Tag, len(tags))
	copy(sorted, tags)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Name < sorted[j].Name
	})
	return sorted
}
