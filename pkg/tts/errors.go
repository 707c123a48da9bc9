package tts

import (
	"errors"
)

// Error definitions
var (
	ErrNoProviderAvailable = errors.New("no text-to-speech provider available")
	ErrEmptyText           = errors.New("no text to synthesize")
	ErrEmptyAudio          = errors.New("provider returned no audio")
)
