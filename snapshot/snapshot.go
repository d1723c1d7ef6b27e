package snapshot

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Rare-Specie/authkeeper/model"
)

// Key is the session-scoped storage key of the snapshot.
const Key = "app_session"

// ErrInvalid is returned for snapshots that fail structural validation.
var ErrInvalid = errors.New("invalid session snapshot")

// Snapshot is a point-in-time copy of the session.
type Snapshot struct {
	CapturedAt  time.Time
	Token       string
	User        *model.UserProfile
	Path        string
	Initialized bool
	InstanceID  string
}

type wireSnapshot struct {
	CapturedAt  *int64             `json:"capturedAtEpochMs"`
	Token       *string            `json:"token"`
	User        *model.UserProfile `json:"user"`
	Path        string             `json:"path"`
	Initialized bool               `json:"initialized"`
	InstanceID  string             `json:"instanceId,omitempty"`
}

// Encode serializes s.
func Encode(s Snapshot) ([]byte, error) {
	ms := s.CapturedAt.UnixMilli()
	token := s.Token
	return json.Marshal(wireSnapshot{
		CapturedAt:  &ms,
		Token:       &token,
		User:        s.User,
		Path:        s.Path,
		Initialized: s.Initialized,
		InstanceID:  s.InstanceID,
	})
}

// Decode parses data. A missing or non-string token, a missing timestamp or
// undecodable JSON yield [ErrInvalid].
func Decode(data []byte) (Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return Snapshot{}, ErrInvalid
	}
	if w.Token == nil || w.CapturedAt == nil {
		return Snapshot{}, ErrInvalid
	}
	if w.User != nil && w.User.ID == "" {
		w.User = nil
	}
	return Snapshot{
		CapturedAt:  time.UnixMilli(*w.CapturedAt),
		Token:       *w.Token,
		User:        w.User,
		Path:        w.Path,
		Initialized: w.Initialized,
		InstanceID:  w.InstanceID,
	}, nil
}

// Stale reports whether s is older than ttl at now.
func (s Snapshot) Stale(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CapturedAt) > ttl
}
