package stt

import (
	"errors"
)

// Error definitions
var (
	ErrNoProviderAvailable  = errors.New("no speech-to-text provider available")
	ErrInitializationFailed = errors.New("provider initialization failed")
	ErrEmptyAudio           = errors.New("no audio to transcribe")
)
