package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"
)

// Texts longer than this are synthesized but never cached.
const maxCachedTextLength = 500

// generateTimeout bounds a shared generation once its callers are gone.
const generateTimeout = 2 * time.Minute

// AudioCache stores synthesized speech on disk keyed by provider, voice and
// text.
type AudioCache struct {
	cacheDir string
	mutex    sync.RWMutex
	group    singleflight.Group
}

func NewAudioCache(cacheDir string) *AudioCache {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		slog.Error("Failed to create cache directory", "dir", cacheDir, "error", err)
	}
	return &AudioCache{cacheDir: cacheDir}
}

func (ac *AudioCache) cacheKey(voice, text string) string {
	hash := sha256.Sum256([]byte(voice + ":" + text))
	return hex.EncodeToString(hash[:])
}

func (ac *AudioCache) cachePath(key string) string {
	return filepath.Join(ac.cacheDir, key+".mp3")
}

// Cacheable reports whether text is short enough to be worth caching.
func (ac *AudioCache) Cacheable(text string) bool {
	return utf8.RuneCountInString(text) <= maxCachedTextLength
}

func (ac *AudioCache) Get(voice, text string) ([]byte, bool) {
	if !ac.Cacheable(text) {
		return nil, false
	}

	ac.mutex.RLock()
	defer ac.mutex.RUnlock()

	path := ac.cachePath(ac.cacheKey(voice, text))
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read cached audio", "path", path, "error", err)
		}
		return nil, false
	}
	return data, true
}

func (ac *AudioCache) Set(voice, text string, audio []byte) error {
	if !ac.Cacheable(text) {
		return nil
	}

	ac.mutex.Lock()
	defer ac.mutex.Unlock()

	path := ac.cachePath(ac.cacheKey(voice, text))
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return fmt.Errorf("failed to write cached audio: %w", err)
	}
	return nil
}

// GetOrGenerate returns cached audio or calls generate and caches its result.
func (ac *AudioCache) GetOrGenerate(ctx context.Context, voice, text string, generate func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if audio, ok := ac.Get(voice, text); ok {
		slog.Info("Audio cache hit", "voice", voice, "size", humanize.Bytes(uint64(len(audio))))
		return audio, nil
	}

	ch := ac.group.DoChan(ac.cacheKey(voice, text), func() (interface{}, error) {
		genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), generateTimeout)
		defer cancel()

		audio, err := generate(genCtx)
		if err != nil {
			return nil, err
		}
		if err := ac.Set(voice, text, audio); err != nil {
			slog.Warn("Failed to cache audio", "error", err)
		}
		return audio, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Stats returns the number of cached files and their total size.
func (ac *AudioCache) Stats() (int, int64, error) {
	ac.mutex.RLock()
	defer ac.mutex.RUnlock()

	entries, err := os.ReadDir(ac.cacheDir)
	if err != nil {
		return 0, 0, err
	}

	var total int64
	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".mp3" {
			continue
		}
		count++
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return count, total, nil
}
