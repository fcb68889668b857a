package media

import (
	"encoding/binary"
	"math"
)

// RMS computes the root-mean-square energy of a little-endian PCM16
// frame, normalized to [0, 1]. Odd trailing bytes are ignored.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples*2; i += 2 {
		s := int16(binary.LittleEndian.Uint16(pcm[i:]))
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(samples))
}
