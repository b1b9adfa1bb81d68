package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	DefaultIdleWindow = 30 * time.Second
	DefaultKeyPrefix  = "presence:rooms"
)

var (
	ErrNameTaken        = errors.New("name is already present")
	ErrStoreUnavailable = errors.New("presence store unavailable")
)

// Entry is one live participant in one room.
type Entry struct {
	RoomID        string
	ParticipantID string
	Name          string
	LastSeenAt    time.Time
}

// record is the stored form of an Entry. The room and participant ids live in
// the key and the hash field.
type record struct {
	Name       string `json:"name"`
	LastSeenAt int64  `json:"last_seen_at"`
}

type Option func(*Registry)

func WithIdleWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.idleWindow = d
		}
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(r *Registry) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Registry) {
		r.now = clock
	}
}

// Registry tracks which display names are present in which rooms. Names are
// unique across every room, compared case-insensitively.
//
// The uniqueness check and the write that follows are separate store round
// trips, so two participants racing for the same name can both be admitted.
type Registry struct {
	store      Store
	log        *slog.Logger
	idleWindow time.Duration
	prefix     string
	now        func() time.Time
}

func NewRegistry(store Store, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		log:        logger,
		idleWindow: DefaultIdleWindow,
		prefix:     DefaultKeyPrefix,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Registry) IdleWindow() time.Duration {
	return r.idleWindow
}

func (r *Registry) key(roomID string) string {
	return r.prefix + ":" + roomID
}

func (r *Registry) roomID(key string) string {
	return strings.TrimPrefix(key, r.prefix+":")
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

// Join admits participantID into roomID under displayName. It fails with
// ErrNameTaken when another participant holds the same name in any room.
func (r *Registry) Join(ctx context.Context, roomID, participantID, displayName string) error {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return nil
	}

	taken, err := r.NameTaken(ctx, name, participantID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	value, err := json.Marshal(record{Name: name, LastSeenAt: r.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode presence record: %w", err)
	}

	key := r.key(roomID)
	if err := r.store.HSetTTL(ctx, key, participantID, value, 2*r.idleWindow); err != nil {
		// The write may have landed before the error was reported. A
		// rejected join must not hold the name.
		if derr := r.store.HDel(ctx, key, participantID); derr != nil {
			r.log.Warn("presence rollback failed", "room_id", roomID, "participant_id", participantID, "err", derr)
		}
		return storeErr("hset", err)
	}

	return nil
}

// Leave removes the participant from the room. Removing an absent
// participant is not an error.
func (r *Registry) Leave(ctx context.Context, roomID, participantID string) error {
	if err := r.store.HDel(ctx, r.key(roomID), participantID); err != nil {
		return storeErr("hdel", err)
	}
	return nil
}

// ActiveNames returns the sorted, distinct names present in roomID.
func (r *Registry) ActiveNames(ctx context.Context, roomID string) ([]string, error) {
	entries, err := r.roomEntries(ctx, r.key(roomID))
	if err != nil {
		return nil, err
	}
	return distinctNames(entries), nil
}

// AllActiveNames returns the sorted, distinct names present in any room.
func (r *Registry) AllActiveNames(ctx context.Context) ([]string, error) {
	entries, err := r.allEntries(ctx)
	if err != nil {
		return nil, err
	}
	return distinctNames(entries), nil
}

// NameTaken reports whether a participant other than exceptParticipantID
// currently holds name in any room.
func (r *Registry) NameTaken(ctx context.Context, name, exceptParticipantID string) (bool, error) {
	name = strings.TrimSpace(name)

	entries, err := r.allEntries(ctx)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		if e.ParticipantID == exceptParticipantID {
			continue
		}
		if strings.EqualFold(e.Name, name) {
			return true, nil
		}
	}

	return false, nil
}

// ClearRoom drops every entry of roomID.
func (r *Registry) ClearRoom(ctx context.Context, roomID string) error {
	if err := r.store.Del(ctx, r.key(roomID)); err != nil {
		return storeErr("del", err)
	}
	return nil
}

// ResetAll drops every entry of every room.
func (r *Registry) ResetAll(ctx context.Context) error {
	keys, err := r.store.Keys(ctx, r.prefix+":")
	if err != nil {
		return storeErr("scan", err)
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return storeErr("del", err)
	}
	return nil
}

func (r *Registry) allEntries(ctx context.Context) ([]Entry, error) {
	keys, err := r.store.Keys(ctx, r.prefix+":")
	if err != nil {
		return nil, storeErr("scan", err)
	}

	var entries []Entry
	for _, key := range keys {
		roomEntries, err := r.roomEntries(ctx, key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, roomEntries...)
	}

	return entries, nil
}

// roomEntries reads the non-expired entries stored under key. Records that
// fail to decode are skipped.
func (r *Registry) roomEntries(ctx context.Context, key string) ([]Entry, error) {
	fields, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, storeErr("hgetall", err)
	}

	cutoff := r.now().Add(-r.idleWindow)
	entries := make([]Entry, 0, len(fields))
	for participantID, raw := range fields {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.log.Debug("skipping malformed presence record",
				"key", key, "participant_id", participantID, "err", err)
			continue
		}

		lastSeen := time.UnixMilli(rec.LastSeenAt)
		if lastSeen.Before(cutoff) {
			continue
		}

		entries = append(entries, Entry{
			RoomID:        r.roomID(key),
			ParticipantID: participantID,
			Name:          rec.Name,
			LastSeenAt:    lastSeen,
		})
	}

	return entries, nil
}

func distinctNames(entries []Entry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}
