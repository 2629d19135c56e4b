package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/nessievoice/internal/voice"
)

// ErrNotFound is returned for refs that were never issued, were replaced, or expired.
var ErrNotFound = errors.New("artifact not found")

// Backend holds artifact bytes. Keys are refs issued by Store.
type Backend interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Artifact is a stored clip ready to be served.
type Artifact struct {
	Ref         string
	CallID      string
	Turn        int
	Data        []byte
	ContentType string
	CreatedAt   time.Time
}

type record struct {
	callID      string
	turn        int
	contentType string
	createdAt   time.Time
}

// Store issues playback refs for synthesized audio. Each call has at most one
// current artifact; storing a new one for the same call deletes the previous.
// Artifacts outlive their session until the retention window passes so the
// final message of a call can still be fetched after hangup.
type Store struct {
	backend   Backend
	retention time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	records map[string]record
	current map[string]string
	now     func() time.Time
}

func NewStore(backend Backend, retention time.Duration, logger *slog.Logger) *Store {
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   backend,
		retention: retention,
		logger:    logger,
		records:   make(map[string]record),
		current:   make(map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Put stores audio for callID at the given turn and returns its ref.
func (s *Store) Put(ctx context.Context, callID string, turn int, audio voice.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("artifact for call %s turn %d is empty", callID, turn)
	}
	ref := fmt.Sprintf("%s-%d-%s%s", safeID(callID), turn, strings.ReplaceAll(uuid.NewString(), "-", "")[:12], extensionFor(audio.ContentType))
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := s.backend.Put(ctx, ref, audio.Data, contentType); err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}

	s.mu.Lock()
	previous := s.current[callID]
	s.records[ref] = record{callID: callID, turn: turn, contentType: contentType, createdAt: s.now()}
	s.current[callID] = ref
	if previous != "" {
		delete(s.records, previous)
	}
	s.mu.Unlock()

	if previous != "" {
		s.deleteBlob(ctx, previous)
	}
	return ref, nil
}

// Open returns the artifact behind ref.
func (s *Store) Open(ctx context.Context, ref string) (Artifact, error) {
	s.mu.Lock()
	rec, ok := s.records[ref]
	s.mu.Unlock()
	if !ok || s.now().Sub(rec.createdAt) > s.retention {
		return Artifact{}, ErrNotFound
	}

	data, err := s.backend.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Artifact{}, ErrNotFound
		}
		return Artifact{}, fmt.Errorf("load artifact: %w", err)
	}
	return Artifact{
		Ref:         ref,
		CallID:      rec.callID,
		Turn:        rec.turn,
		Data:        data,
		ContentType: rec.contentType,
		CreatedAt:   rec.createdAt,
	}, nil
}

// Release drops the current artifact of callID immediately.
func (s *Store) Release(ctx context.Context, callID string) {
	s.mu.Lock()
	ref, ok := s.current[callID]
	if ok {
		delete(s.current, callID)
		delete(s.records, ref)
	}
	s.mu.Unlock()
	if ok {
		s.deleteBlob(ctx, ref)
	}
}

// Sweep deletes artifacts older than the retention window and reports how many went.
func (s *Store) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.retention)
	var expired []string

	s.mu.Lock()
	for ref, rec := range s.records {
		if rec.createdAt.Before(cutoff) {
			expired = append(expired, ref)
			delete(s.records, ref)
			if s.current[rec.callID] == ref {
				delete(s.current, rec.callID)
			}
		}
	}
	s.mu.Unlock()

	for _, ref := range expired {
		s.deleteBlob(ctx, ref)
	}
	return len(expired)
}

func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(ctx); n > 0 {
					s.logger.Debug("expired call audio", "count", n)
				}
			}
		}
	}()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) deleteBlob(ctx context.Context, ref string) {
	if err := s.backend.Delete(ctx, ref); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Warn("delete call audio failed", "ref", ref, "error", err)
	}
}

// URLFor is the public URL the telephony provider fetches ref from.
func URLFor(baseURL, ref string) string {
	return strings.TrimRight(baseURL, "/") + "/audio/" + ref
}

func safeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "call"
	}
	return b.String()
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return ".mp3"
	case strings.Contains(contentType, "wav"):
		return ".wav"
	default:
		return ".bin"
	}
}
