// Package audio estimates the playback duration of raw audio fragments.
// All timeline offset math downstream depends on these estimates being
// monotonic and consistent within one encoding.
package audio

import "strings"

// Assumed constant bitrate for compressed speech codecs. Opus speech
// streams typically run 24-40 kbps; 32 kbps is the conservative middle.
const opusBitrateBps = 32000

// DurationMS maps a raw audio payload plus its encoding and sample rate to
// a duration in milliseconds. The PCM path is exact; every other path is
// an estimate and callers must treat offsets derived from it as such.
func DurationMS(payload []byte, sampleRate int, encoding string) int64 {
	if sampleRate <= 0 {
		return 0
	}
	switch strings.ToLower(encoding) {
	case "pcm", "linear16":
		return pcmDurationMS(len(payload), sampleRate)
	case "opus", "ogg-opus":
		return opusDurationMS(len(payload))
	default:
		// Unknown encoding: assume 2 bytes per sample at the given rate.
		return pcmDurationMS(len(payload), sampleRate)
	}
}

// pcmDurationMS computes the exact duration of 16-bit mono PCM.
func pcmDurationMS(sizeBytes, sampleRate int) int64 {
	samples := sizeBytes / 2
	return int64(float64(samples) / float64(sampleRate) * 1000)
}

// opusDurationMS estimates the duration of a compressed speech payload
// from the assumed constant bitrate.
func opusDurationMS(sizeBytes int) int64 {
	bytesPerSecond := float64(opusBitrateBps) / 8
	return int64(float64(sizeBytes) / bytesPerSecond * 1000)
}
