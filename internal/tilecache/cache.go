package tilecache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/banshee-data/cropseq/internal/parcel"
	"github.com/banshee-data/cropseq/internal/raster"
	"github.com/banshee-data/cropseq/internal/tiling"
)

// DefaultTTL is how long Redis keeps an entry.
const DefaultTTL = 7 * 24 * time.Hour

// Cache is a byte store keyed by string.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Memory is a process-local Cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Redis stores entries in a Redis server.
type Redis struct {
	Client *redis.Client
	TTL    time.Duration
}

// OpenRedis connects to addr. An empty addr returns nil.
func OpenRedis(addr, password string, db int) *Redis {
	if addr == "" {
		return nil
	}
	return &Redis{
		Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		TTL:    DefaultTTL,
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("tilecache: redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	ttl := r.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := r.Client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("tilecache: redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error { return r.Client.Close() }

// Key names the cache entry of a tile under one configuration and input.
func Key(t tiling.Tile, configFingerprint, inputDigest uint64) string {
	d := xxhash.New()
	var buf [8]byte
	for _, v := range []int{t.Index, t.Core.Row, t.Core.Col, t.Core.Rows, t.Core.Cols,
		t.Window.Row, t.Window.Col, t.Window.Rows, t.Window.Cols} {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		_, _ = d.Write(buf[:])
	}
	binary.LittleEndian.PutUint64(buf[:], configFingerprint)
	_, _ = d.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], inputDigest)
	_, _ = d.Write(buf[:])
	return fmt.Sprintf("csb:tile:%d:%016x", t.Index, d.Sum64())
}

// Fingerprint hashes a serialized configuration.
func Fingerprint(config []byte) uint64 { return xxhash.Sum64(config) }

// InputDigest hashes every category of the stack inside w.
func InputDigest(stack *raster.Stack, w raster.Window) uint64 {
	d := xxhash.New()
	var buf [2]byte
	for _, g := range stack.Grids {
		binary.LittleEndian.PutUint16(buf[:], uint16(g.Year))
		_, _ = d.Write(buf[:])
		clip := g.Window.Intersect(w)
		for k := 0; k < clip.Len(); k++ {
			binary.LittleEndian.PutUint16(buf[:], g.At(clip.CellAt(k)))
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

// Store adapts a Cache to tiling.Cache for one configuration and input.
type Store struct {
	Cache       Cache
	Fingerprint uint64
	// Digest returns the input digest of a tile window.
	Digest func(w raster.Window) uint64
}

func (s *Store) key(t tiling.Tile) string {
	var digest uint64
	if s.Digest != nil {
		digest = s.Digest(t.Window)
	}
	return Key(t, s.Fingerprint, digest)
}

// Load implements tiling.Cache.
func (s *Store) Load(ctx context.Context, t tiling.Tile) (*parcel.Set, bool, error) {
	b, ok, err := s.Cache.Get(ctx, s.key(t))
	if err != nil || !ok {
		return nil, false, err
	}
	set, err := DecodeSet(b)
	if err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// Store implements tiling.Cache.
func (s *Store) Store(ctx context.Context, t tiling.Tile, set *parcel.Set) error {
	b, err := EncodeSet(set)
	if err != nil {
		return err
	}
	return s.Cache.Put(ctx, s.key(t), b)
}
