package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/cuongbtq/upload-pipeline/internal/storage"
)

func DecodeFileCursor(cursorStr string) (*storage.FileCursor, error) {
	createdAt, id, ok, err := decodeKeyset(cursorStr)
	if err != nil || !ok {
		return nil, err
	}
	return &storage.FileCursor{CreatedAt: createdAt, FileID: id}, nil
}

func EncodeFileCursor(cursor *storage.FileCursor) string {
	return encodeKeyset(cursor.CreatedAt, cursor.FileID)
}

func DecodeActivityCursor(cursorStr string) (*storage.ActivityCursor, error) {
	createdAt, id, ok, err := decodeKeyset(cursorStr)
	if err != nil || !ok {
		return nil, err
	}
	return &storage.ActivityCursor{CreatedAt: createdAt, ActivityID: id}, nil
}

func EncodeActivityCursor(cursor *storage.ActivityCursor) string {
	return encodeKeyset(cursor.CreatedAt, cursor.ActivityID)
}

// decodeKeyset parses "<unix nanos>|<id>"; ok is false for an empty cursor.
func decodeKeyset(cursorStr string) (time.Time, string, bool, error) {
	if cursorStr == "" {
		return time.Time{}, "", false, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(cursorStr)
	if err != nil {
		return time.Time{}, "", false, err
	}

	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 || decodedParts[1] == "" {
		return time.Time{}, "", false, fmt.Errorf("invalid cursor format")
	}

	var createdAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &createdAt)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("invalid createdAt in cursor: %w", err)
	}

	return time.Unix(0, createdAt).UTC(), decodedParts[1], true, nil
}

func encodeKeyset(createdAt time.Time, id string) string {
	cs := fmt.Sprintf("%d|%s", createdAt.UnixNano(), id)
	return base64.URLEncoding.EncodeToString([]byte(cs))
}
