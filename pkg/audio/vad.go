package audio

// Per-mode frame thresholds. Higher modes demand more energy and reject
// noise-like (high zero-crossing) frames more readily.
var (
	vadEnergyThresholds = [4]float64{0.003, 0.006, 0.01, 0.02}
	vadZCRCeilings      = [4]float64{1.0, 0.6, 0.45, 0.35}
)

// VoiceActivityDetector classifies fixed-duration frames as speech or
// non-speech using RMS energy and zero-crossing rate. It keeps no state
// between calls so one instance can serve every session.
type VoiceActivityDetector struct {
	frameSize       int
	energyThreshold float64
	zcrCeiling      float64
	mode            int
}

// NewVoiceActivityDetector creates a VAD for config's frame size and mode
func NewVoiceActivityDetector(config ProcessingConfig) *VoiceActivityDetector {
	mode := config.VADMode
	if mode < 0 {
		mode = 0
	}
	if mode > 3 {
		mode = 3
	}

	frameSize := config.FrameSize()
	if frameSize <= 0 {
		frameSize = DefaultProcessingConfig().FrameSize()
	}

	return &VoiceActivityDetector{
		frameSize:       frameSize,
		energyThreshold: vadEnergyThresholds[mode],
		zcrCeiling:      vadZCRCeilings[mode],
		mode:            mode,
	}
}

// IsSpeechFrame classifies a single frame
func (v *VoiceActivityDetector) IsSpeechFrame(frame []float64) bool {
	if len(frame) == 0 {
		return false
	}
	if rms(frame) < v.energyThreshold {
		return false
	}
	return zeroCrossingRate(frame) <= v.zcrCeiling
}

// ContainsSpeech returns true as soon as any full frame is speech. A trailing
// partial frame is only considered when the input is shorter than one frame.
func (v *VoiceActivityDetector) ContainsSpeech(samples []float64) bool {
	if len(samples) < v.frameSize {
		return v.IsSpeechFrame(samples)
	}

	for start := 0; start+v.frameSize <= len(samples); start += v.frameSize {
		if v.IsSpeechFrame(samples[start : start+v.frameSize]) {
			return true
		}
	}
	return false
}

// SpeechRatio returns the fraction of full frames classified as speech
func (v *VoiceActivityDetector) SpeechRatio(samples []float64) float64 {
	frames, speech := 0, 0
	for start := 0; start+v.frameSize <= len(samples); start += v.frameSize {
		frames++
		if v.IsSpeechFrame(samples[start : start+v.frameSize]) {
			speech++
		}
	}
	if frames == 0 {
		return 0
	}
	return float64(speech) / float64(frames)
}

// FrameSize returns the frame length in samples
func (v *VoiceActivityDetector) FrameSize() int {
	return v.frameSize
}

// Mode returns the aggressiveness mode in use
func (v *VoiceActivityDetector) Mode() int {
	return v.mode
}
