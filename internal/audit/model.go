package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/psique-app/platform/internal/shared/types"
)

// canonicalJSON encodes v with map keys sorted at every level, so a hash
// computed over it survives a round trip through JSONB.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// ActorType tells users apart from the platform itself.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

// Entry is an immutable audit log record. Each entry's hash covers its
// content and the hash of the entry before it.
type Entry struct {
	Sequence  int64     `json:"sequence"`
	ID        types.ID  `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prevHash,omitempty"`

	ActorType ActorType `json:"actorType"`
	ActorID   *types.ID `json:"actorId,omitempty"`
	ActorRole string    `json:"actorRole,omitempty"`

	Action       string    `json:"action"`
	ResourceType string    `json:"resourceType"`
	ResourceID   *types.ID `json:"resourceId,omitempty"`

	Changes       map[string]any `json:"changes,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// ComputeHash returns the SHA-256 of the entry's canonical content.
// Timestamps are hashed in UTC at microsecond precision, as Postgres stores
// them.
func (e *Entry) ComputeHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}
	if e.ActorID != nil {
		data["actor_id"] = *e.ActorID
	}
	if e.ActorRole != "" {
		data["actor_role"] = e.ActorRole
	}
	if e.ResourceID != nil {
		data["resource_id"] = *e.ResourceID
	}
	if len(e.Changes) > 0 {
		data["changes"] = e.Changes
	}
	if e.CorrelationID != "" {
		data["correlation_id"] = e.CorrelationID
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// Seal links the entry to prevHash and sets its hash.
func (e *Entry) Seal(prevHash string) {
	e.PrevHash = prevHash
	e.Hash = e.ComputeHash()
}

// ListFilter selects audit entries. Zero fields are not filtered on.
type ListFilter struct {
	ActorID      *types.ID
	Action       string // prefix match
	ResourceType string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// EffectiveLimit clamps the requested page size.
func (f ListFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

// VerifyResult reports the integrity of the chain.
type VerifyResult struct {
	Valid      bool     `json:"valid"`
	Checked    int      `json:"checked"`
	BrokenAt   *int64   `json:"brokenAt,omitempty"`
	Violations []string `json:"violations,omitempty"`
}
