package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/magnolia-webhooks/internal/domain"
)

// DecodeEventCursor parses an opaque page cursor; empty input means the first page
func DecodeEventCursor(cursorStr string) (*domain.EventCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor encoding: %w", err)
	}

	createdPart, id, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	if _, err := fmt.Sscanf(createdPart, "%d", &createdAt); err != nil {
		return nil, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return &domain.EventCursor{
		CreatedAt: time.Unix(0, createdAt).UTC(),
		ID:        id,
	}, nil
}

// EncodeEventCursor points at the given event as the last row of a page
func EncodeEventCursor(event *domain.WebhookEvent) string {
	cs := fmt.Sprintf("%d|%s", event.CreatedAt.UnixNano(), event.ID)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
