package tts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/lexiqai/interview-gateway/internal/audio"
)

// AssetLibrary loads prerecorded WAV files and caches them as PCMU
type AssetLibrary struct {
	dir   string
	mu    sync.Mutex
	cache map[string]*AudioChunk
}

// NewAssetLibrary creates a library rooted at dir
func NewAssetLibrary(dir string) *AssetLibrary {
	return &AssetLibrary{dir: dir, cache: make(map[string]*AudioChunk)}
}

// Load returns the named asset converted to 8kHz PCMU
func (l *AssetLibrary) Load(name string) (*AudioChunk, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: %q", ErrAssetNotFound, name)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if chunk, ok := l.cache[name]; ok {
		return chunk, nil
	}

	data, err := os.ReadFile(filepath.Join(l.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
		}
		return nil, fmt.Errorf("failed to read asset %s: %w", name, err)
	}

	pcm, sampleRate, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", name, err)
	}
	pcmu, err := audio.ConvertPCMToPCMU(pcm, sampleRate, audio.MulawSampleRate)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", name, err)
	}

	chunk := &AudioChunk{Data: pcmu, SampleRate: audio.MulawSampleRate, Channels: 1}
	l.cache[name] = chunk
	return chunk, nil
}
