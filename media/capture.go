package media

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
)

const (
	CaptureSampleRate = 48000
	CaptureChannels   = 1
	CaptureSampleSize = 16
)

// Microphone captures mono PCM16 frames from the default input device.
type Microphone struct {
	track mediadevices.Track
	audio *mediadevices.AudioTrack
}

func OpenMicrophone() (*Microphone, error) {
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(CaptureSampleRate)
			c.ChannelCount = prop.Int(CaptureChannels)
			c.SampleSize = prop.Int(CaptureSampleSize)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening microphone: %w", err)
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("no audio track in microphone stream")
	}
	audio, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		return nil, errors.New("microphone track is not an audio track")
	}
	return &Microphone{track: tracks[0], audio: audio}, nil
}

// Frames returns a frame source reading from the microphone. Each call to
// the returned reader yields one chunk of little-endian PCM16 bytes.
func (m *Microphone) Frames() *FrameReader {
	return &FrameReader{reader: m.audio.NewReader(false)}
}

func (m *Microphone) Close() error {
	return m.track.Close()
}

// FrameReader converts captured audio chunks to PCM16 byte frames.
type FrameReader struct {
	reader interface {
		Read() (wave.Audio, func(), error)
	}
}

// ReadFrame blocks for the next captured chunk.
func (r *FrameReader) ReadFrame() ([]byte, error) {
	chunk, release, err := r.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading audio chunk: %w", err)
	}
	defer release()
	return PCM16Bytes(chunk), nil
}

// PCM16Bytes flattens an audio chunk into interleaved little-endian PCM16.
func PCM16Bytes(chunk wave.Audio) []byte {
	if typed, ok := chunk.(*wave.Int16Interleaved); ok {
		out := make([]byte, len(typed.Data)*2)
		for i, s := range typed.Data {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
		}
		return out
	}
	info := chunk.ChunkInfo()
	out := make([]byte, 0, info.Len*info.Channels*2)
	var scratch [2]byte
	for i := 0; i < info.Len; i++ {
		for ch := 0; ch < info.Channels; ch++ {
			s := wave.Int16SampleFormat.Convert(chunk.At(i, ch)).(wave.Int16Sample)
			binary.LittleEndian.PutUint16(scratch[:], uint16(s))
			out = append(out, scratch[0], scratch[1])
		}
	}
	return out
}
