package node

import "github.com/hbomb79/pvplayer/internal/perr"

// Factory constructs a fresh Node instance for one datapath leg (source,
// decoder, or sink). Factories are registered per mime type so
// internal/engine's AddDataSource/Prepare phases can look one up without
// knowing the concrete node implementation.
type Factory func() Node

// FactoryRegistry maps a mime type to the Factory that can produce a node
// for it. Source, decoder, and sink nodes each register in their own
// registry instance - the engine holds one of each.
type FactoryRegistry struct {
	factories map[string]Factory
}

func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register associates mimeType with factory, replacing any previous
// registration for that type.
func (r *FactoryRegistry) Register(mimeType string, factory Factory) {
	r.factories[mimeType] = factory
}

// Lookup instantiates a node for mimeType, or fails ErrNotSupported if no
// factory is registered.
func (r *FactoryRegistry) Lookup(mimeType string) (Node, error) {
	f, ok := r.factories[mimeType]
	if !ok {
		return nil, perr.New(perr.ErrNotSupported, "no node factory registered for mime type %q", mimeType)
	}
	return f(), nil
}

// FormatRecognizer inspects a source URI/descriptor and reports the mime
// type it believes describes the content.
type FormatRecognizer interface {
	Recognize(sourceURI string) (mimeType string, err error)
}

// RecognizerRegistry holds the ordered list of recognizers consulted for
// AddDataSource's format-recognition phase. The first recognizer to return a
// non-error result wins.
type RecognizerRegistry struct {
	recognizers []FormatRecognizer
}

func NewRecognizerRegistry() *RecognizerRegistry {
	return &RecognizerRegistry{}
}

func (r *RecognizerRegistry) Add(rec FormatRecognizer) {
	r.recognizers = append(r.recognizers, rec)
}

func (r *RecognizerRegistry) Recognize(sourceURI string) (string, error) {
	for _, rec := range r.recognizers {
		if mime, err := rec.Recognize(sourceURI); err == nil {
			return mime, nil
		}
	}
	return "", perr.New(perr.ErrNotSupported, "no format recognizer could identify %q", sourceURI)
}
