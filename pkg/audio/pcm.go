package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"estate-voice-server/pkg/errors"
)

const bytesPerSample = 2

// DecodePCM16 converts little-endian 16-bit PCM into samples in [-1, 1].
// A RIFF/WAVE header is accepted and validated against sampleRate.
func DecodePCM16(data []byte, sampleRate int) ([]float64, error) {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		pcm, err := wavPayload(data, sampleRate)
		if err != nil {
			return nil, err
		}
		data = pcm
	}

	if len(data) == 0 {
		return nil, errors.NewInvalidAudio("empty payload")
	}
	if len(data)%bytesPerSample != 0 {
		return nil, errors.NewInvalidAudio("odd byte count for 16-bit PCM", map[string]interface{}{
			"bytes": len(data),
		})
	}

	samples := make([]float64, len(data)/bytesPerSample)
	for i := range samples {
		sample := int16(data[2*i]) | int16(data[2*i+1])<<8
		samples[i] = float64(sample) / 32768.0
	}
	return samples, nil
}

// EncodePCM16 converts samples back to little-endian 16-bit PCM, clamping to [-1, 1]
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		v := int16(s * 32767.0)
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// EncodeWAV wraps PCM16 mono samples in a canonical 44-byte WAV header
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// wavPayload walks the RIFF chunks and returns the data chunk
func wavPayload(data []byte, sampleRate int) ([]byte, error) {
	var (
		sawFormat bool
		offset    = 12
	)

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(data) {
			// tolerate streaming writers that leave the data size unset
			if id == "data" && sawFormat {
				return data[body:], nil
			}
			return nil, errors.NewInvalidAudio("truncated WAV chunk", map[string]interface{}{"chunk": id})
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, errors.NewInvalidAudio("short WAV fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body:])
			channels := binary.LittleEndian.Uint16(data[body+2:])
			rate := binary.LittleEndian.Uint32(data[body+4:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, errors.NewInvalidAudio(fmt.Sprintf("unsupported WAV format %d/%dch/%dbit", format, channels, bits))
			}
			if int(rate) != sampleRate {
				return nil, errors.NewInvalidAudio(fmt.Sprintf("sample rate %d, want %d", rate, sampleRate))
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, errors.NewInvalidAudio("WAV data before fmt chunk")
			}
			return data[body : body+size], nil
		}

		// chunks are word aligned
		offset = body + size + size%2
	}

	return nil, errors.NewInvalidAudio("WAV without data chunk")
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func rms(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(values)))
}

func zeroCrossingRate(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(values); i++ {
		if (values[i] >= 0) != (values[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(values)-1)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
