// internal/codec/registry.go
package codec

import (
	"fmt"
	"sync"

	"device-bridge/internal/model"
)

// Registry holds one codec per wire format
type Registry struct {
	codecs map[model.Format]Codec
	mu     sync.RWMutex
}

// NewRegistry creates a registry with every built-in codec registered
func NewRegistry() *Registry {
	r := &Registry{
		codecs: make(map[model.Format]Codec),
	}

	r.Register(JSONCodec{})
	r.Register(XMLCodec{})
	r.Register(CSVCodec{})
	r.Register(RawLineCodec{})

	return r
}

// Register registers a codec under its own format, replacing any previous one
func (r *Registry) Register(codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.codecs[codec.Format()] = codec
}

// Get returns the codec for a format
func (r *Registry) Get(format model.Format) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if codec, exists := r.codecs[format]; exists {
		return codec, nil
	}

	return nil, model.NewMalformedRequest(fmt.Sprintf("no codec registered for format %q", format))
}

// Formats returns the registered formats in declaration order
func (r *Registry) Formats() []model.Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]model.Format, 0, len(r.codecs))
	for _, format := range model.Formats {
		if _, exists := r.codecs[format]; exists {
			formats = append(formats, format)
		}
	}
	return formats
}

var defaultRegistry = NewRegistry()

// New returns the built-in codec for a format
func New(format model.Format) (Codec, error) {
	return defaultRegistry.Get(format)
}
