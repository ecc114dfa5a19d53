// Package transform converts raw ledger objects into normalized todos.
// Decoding is tolerant: alternate field names, string-encoded booleans,
// and second/millisecond timestamps all normalize to one entity shape.
// Objects that lack the expected encoding fail with a DecodeError rather
// than a panic or a partial record.
package transform

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"todochain/internal/cache"
	"todochain/internal/ledger"
	"todochain/internal/todo"
)

// millisThreshold separates epoch seconds from epoch milliseconds: no
// plausible second count exceeds it.
const millisThreshold = 1e12

// DecodeError reports why a raw object could not become a todo.
type DecodeError struct {
	ObjectID string
	Reason   string
}

func (e *DecodeError) Error() string {
	if e.ObjectID == "" {
		return "decode ledger object: " + e.Reason
	}

	return fmt.Sprintf("decode ledger object %s: %s", e.ObjectID, e.Reason)
}

// Transformer decodes raw objects and, on success, populates the shared
// cache so repeated reads of the same object skip the decode entirely.
type Transformer struct {
	cache *cache.Cache
	urls  *cache.Rewriter
}

// New returns a transformer writing into the given cache. Either
// dependency may be nil, in which case the corresponding side effect is
// skipped.
func New(entryCache *cache.Cache, urls *cache.Rewriter) *Transformer {
	return &Transformer{cache: entryCache, urls: urls}
}

// Transform decodes one raw ledger object. It returns a *DecodeError
// (never panics) when the object has no content payload, an unrecognized
// content type, or no fields bag.
func (t *Transformer) Transform(raw ledger.RawObject) (*todo.Todo, error) {
	data := raw.Data
	if data == nil {
		return nil, decodeFailure("", "object has no data payload")
	}

	if data.Content == nil {
		return nil, decodeFailure(data.ObjectID, "object has no content")
	}

	if data.Content.DataType != ledger.MoveObjectDataType {
		return nil, decodeFailure(data.ObjectID,
			fmt.Sprintf("unrecognized content dataType %q", data.Content.DataType))
	}

	fields := data.Content.Fields
	if fields == nil {
		return nil, decodeFailure(data.ObjectID, "object content has no fields bag")
	}

	decoded := todo.Todo{
		ID:          data.ObjectID,
		ObjectID:    data.ObjectID,
		Title:       stringField(fields, "title"),
		Description: stringField(fields, "description"),
		Priority:    DecodePriority(fields["priority"]),
		Tags:        stringSliceField(fields, "tags"),
		DueDate:     stringField(fields, "due_date", "dueDate"),
		Owner:       stringField(fields, "owner"),
		Private:     boolField(fields, "is_private", "private"),
		ImageRef:    stringField(fields, "image_url", "imageUrl", "image_ref"),
	}

	decoded.Completed = boolField(fields, "completed", "is_completed")

	if decoded.Completed {
		completedAt := timeField(fields, "completed_at", "completedAt")
		if completedAt == nil {
			now := time.Now().UTC()
			completedAt = &now
		}

		decoded.CompletedAt = completedAt
	}

	createdAt := timeField(fields, "created_at", "createdAt")
	if createdAt != nil {
		decoded.CreatedAt = *createdAt
	}

	metadataRaw, metadata := decodeMetadata(data.ObjectID, fields["metadata"])
	decoded.Metadata = metadataRaw

	t.populateCache(decoded, metadata)

	return &decoded, nil
}

func (t *Transformer) populateCache(decoded todo.Todo, metadata map[string]any) {
	if t.cache == nil {
		return
	}

	entry := cache.Entry{Todo: decoded, Metadata: metadata}

	if t.urls != nil && decoded.ImageRef != "" {
		entry.ThumbnailURL = t.urls.ResolveBlobURL(decoded.ImageRef, cache.VariantThumbnail)
		entry.PreviewURL = t.urls.ResolveBlobURL(decoded.ImageRef, cache.VariantPreview)
		entry.FullURL = t.urls.ResolveBlobURL(decoded.ImageRef, cache.VariantFull)
	}

	t.cache.Put(decoded.ObjectID, entry)
}

func decodeFailure(objectID, reason string) error {
	slog.Warn("skipping undecodable ledger object", "object_id", objectID, "reason", reason)

	return &DecodeError{ObjectID: objectID, Reason: reason}
}

// DecodePriority maps the on-chain numeric encoding (0 is most urgent) to
// the named levels; string values normalize through the usual table.
func DecodePriority(value any) string {
	switch v := value.(type) {
	case float64:
		return priorityFromNumber(v)
	case int:
		return priorityFromNumber(float64(v))
	case json.Number:
		parsed, err := v.Float64()
		if err == nil {
			return priorityFromNumber(parsed)
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return priorityFromNumber(parsed)
		}

		return todo.NormalizePriority(v)
	}

	return todo.PriorityMedium
}

func priorityFromNumber(value float64) string {
	switch value {
	case 0:
		return todo.PriorityHigh
	case 1:
		return todo.PriorityMedium
	case 2:
		return todo.PriorityLow
	default:
		return todo.PriorityMedium
	}
}

func decodeMetadata(objectID string, value any) (string, map[string]any) {
	raw, ok := value.(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return "{}", map[string]any{}
	}

	var parsed map[string]any

	err := json.Unmarshal([]byte(raw), &parsed)
	if err != nil {
		slog.Warn("malformed todo metadata, using empty object", "object_id", objectID, "err", err)

		return "{}", map[string]any{}
	}

	return raw, parsed
}

func stringField(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := fields[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}

	return ""
}

func boolField(fields map[string]any, keys ...string) bool {
	for _, key := range keys {
		value, present := fields[key]
		if !present {
			continue
		}

		switch v := value.(type) {
		case bool:
			return v
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				return parsed
			}
		}
	}

	return false
}

func stringSliceField(fields map[string]any, keys ...string) []string {
	for _, key := range keys {
		values, ok := fields[key].([]any)
		if !ok {
			continue
		}

		tags := make([]string, 0, len(values))

		for _, value := range values {
			if tag, isString := value.(string); isString {
				tags = append(tags, tag)
			}
		}

		return tags
	}

	return nil
}

func timeField(fields map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		value, present := fields[key]
		if !present || value == nil {
			continue
		}

		if parsed := NormalizeTimestamp(value); parsed != nil {
			return parsed
		}
	}

	return nil
}

// NormalizeTimestamp accepts RFC3339 strings, epoch seconds, and epoch
// milliseconds. Values above 1e12 are taken as milliseconds.
func NormalizeTimestamp(value any) *time.Time {
	switch v := value.(type) {
	case string:
		return parseTimeString(v)
	case float64:
		return epochToTime(v)
	case int64:
		return epochToTime(float64(v))
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return nil
		}

		return epochToTime(parsed)
	}

	return nil
}

func parseTimeString(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	if epoch, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return epochToTime(epoch)
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			utc := parsed.UTC()

			return &utc
		}
	}

	return nil
}

func epochToTime(value float64) *time.Time {
	if value <= 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}

	var parsed time.Time
	if value > millisThreshold {
		parsed = time.UnixMilli(int64(value)).UTC()
	} else {
		parsed = time.Unix(int64(value), 0).UTC()
	}

	return &parsed
}
