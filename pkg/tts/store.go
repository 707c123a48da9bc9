package tts

import (
	"strings"
	"time"

	"estate-voice-server/pkg/cache"

	"github.com/google/uuid"
)

// StoredAudio is a synthesized clip waiting to be fetched by the client
type StoredAudio struct {
	Data        []byte
	ContentType string
	Duration    float64
	CreatedAt   time.Time
}

// AudioStore keeps recent clips in memory under random ids. Old clips are
// dropped by size and age.
type AudioStore struct {
	clips   *cache.LRU[string, StoredAudio]
	baseURL string
}

// NewAudioStore creates a store holding at most maxClips for ttl. URLs are
// baseURL + "/" + id.
func NewAudioStore(maxClips int, ttl time.Duration, baseURL string) *AudioStore {
	return &AudioStore{
		clips:   cache.NewLRU[string, StoredAudio](maxClips, ttl, cache.WithCleanupInterval[string, StoredAudio](time.Minute)),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Put stores a clip and returns its id
func (s *AudioStore) Put(data []byte, contentType string, duration float64) string {
	id := uuid.New().String()
	s.clips.Set(id, StoredAudio{
		Data:        data,
		ContentType: contentType,
		Duration:    duration,
		CreatedAt:   time.Now(),
	})
	return id
}

// Get returns a stored clip
func (s *AudioStore) Get(id string) (StoredAudio, bool) {
	return s.clips.Get(id)
}

// URL returns the public address of a clip
func (s *AudioStore) URL(id string) string {
	return s.baseURL + "/" + id
}

// Len returns the number of stored clips
func (s *AudioStore) Len() int {
	return s.clips.Len()
}

// Close stops the background expiry
func (s *AudioStore) Close() {
	s.clips.Close()
}
