// Package gallery holds the company's important images. Images are only
// ever removed through a completed secure deletion.
package gallery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pjcompanyofficial/PJ-ECS/images"
)

const MaxUploadBytes = 5 * 1024 * 1024

var (
	ErrNotFound     = errors.New("image not found")
	ErrTitleMissing = errors.New("title is required")
	ErrTooLarge     = errors.New("image is larger than 5MB")
)

type Image struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DataURI   string    `json:"data_uri,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	List(ctx context.Context) ([]Image, error)
	Get(ctx context.Context, id string) (Image, error)
	Put(ctx context.Context, img Image) error
	Delete(ctx context.Context, id string) error
}

// NewImage validates an upload and prepares it for storage.
func NewImage(title, dataURI string) (Image, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Image{}, ErrTitleMissing
	}

	_, data, err := images.ParseDataURI(dataURI)
	if err != nil {
		return Image{}, err
	}
	if len(data) > MaxUploadBytes {
		return Image{}, ErrTooLarge
	}
	decoded, err := images.Decode(data)
	if err != nil {
		return Image{}, err
	}
	thumb, err := images.Thumbnail(decoded.Image, 400, 400)
	if err != nil {
		return Image{}, fmt.Errorf("failed to build thumbnail: %w", err)
	}

	return Image{
		ID:        "cii-" + uuid.NewString(),
		Name:      title,
		DataURI:   dataURI,
		Thumbnail: thumb,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// newestFirst orders a listing the way the gallery shows it.
func newestFirst(list []Image) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
}

// ------------------------------------------------------------------------------

type MemoryStore struct {
	images map[string]Image
	mutex  sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{images: make(map[string]Image)}
}

func (s *MemoryStore) List(_ context.Context) ([]Image, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	list := make([]Image, 0, len(s.images))
	for _, img := range s.images {
		list = append(list, img)
	}
	newestFirst(list)
	return list, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Image, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	img, ok := s.images[id]
	if !ok {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return img, nil
}

func (s *MemoryStore) Put(_ context.Context, img Image) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.images[img.ID] = img
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.images[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.images, id)
	return nil
}

// ------------------------------------------------------------------------------

type RedisStore struct {
	client    goredis.UniversalClient
	namespace string
}

func NewRedisStore(client goredis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) key() string {
	return fmt.Sprintf("%s:gallery", s.namespace)
}

func (s *RedisStore) List(ctx context.Context) ([]Image, error) {
	fields, err := s.client.HGetAll(ctx, s.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list gallery: %w", err)
	}
	list := make([]Image, 0, len(fields))
	for id, raw := range fields {
		var img Image
		if err := json.Unmarshal([]byte(raw), &img); err != nil {
			return nil, fmt.Errorf("failed to decode gallery image %s: %w", id, err)
		}
		list = append(list, img)
	}
	newestFirst(list)
	return list, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Image, error) {
	raw, err := s.client.HGet(ctx, s.key(), id).Result()
	if errors.Is(err, goredis.Nil) {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Image{}, err
	}
	var img Image
	if err := json.Unmarshal([]byte(raw), &img); err != nil {
		return Image{}, fmt.Errorf("failed to decode gallery image %s: %w", id, err)
	}
	return img, nil
}

func (s *RedisStore) Put(ctx context.Context, img Image) error {
	payload, err := json.Marshal(img)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key(), img.ID, payload).Err()
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.HDel(ctx, s.key(), id).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
