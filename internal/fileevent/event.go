package fileevent

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind is the filesystem transition that triggered ingestion. The wire values
// mirror the inotify mask names so consumers in other languages can match on them.
type Kind string

const (
	// KindCreated marks a file newly created inside the watched tree.
	KindCreated Kind = "IN_CREATE"
	// KindMovedIn marks a file relocated into the watched tree.
	KindMovedIn Kind = "IN_MOVED_TO"
)

// ParseKind validates a wire event_type value.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCreated, KindMovedIn:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown event_type %q", ErrMalformed, s)
	}
}

// ErrMalformed marks a message body that cannot be decoded into a FileEvent.
// Not retryable; such messages go to the dead-letter path.
var ErrMalformed = errors.New("malformed file event")

// FileEvent is the record published for every file discovered in the watched
// tree. Schema evolution is additive only: decoders ignore unknown fields and
// new fields must be optional.
type FileEvent struct {
	Path         string    `json:"file_path"`
	Kind         Kind      `json:"event_type"`
	SHA256       string    `json:"sha256_hash"`
	XXH128       string    `json:"xxh128_hash"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modified_time"`
	AccessedTime time.Time `json:"accessed_time"`
	ChangedTime  time.Time `json:"changed_time"`
	Discovered   time.Time `json:"timestamp"`
	Neighbors    []string  `json:"neighbors"`
}

// Encode serializes the event as JSON with all timestamps normalized to UTC.
func (e *FileEvent) Encode() ([]byte, error) {
	c := *e
	c.ModifiedTime = c.ModifiedTime.UTC()
	c.AccessedTime = c.AccessedTime.UTC()
	c.ChangedTime = c.ChangedTime.UTC()
	c.Discovered = c.Discovered.UTC()
	if c.Neighbors == nil {
		c.Neighbors = []string{}
	}
	return json.Marshal(&c)
}

// Decode parses a wire message into a FileEvent. Invalid JSON, a missing
// file_path or an unknown event_type all return an error wrapping ErrMalformed.
func Decode(data []byte) (*FileEvent, error) {
	var e FileEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if e.Path == "" {
		return nil, fmt.Errorf("%w: missing file_path", ErrMalformed)
	}
	if _, err := ParseKind(string(e.Kind)); err != nil {
		return nil, err
	}
	return &e, nil
}
