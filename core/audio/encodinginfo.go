package audio

import "fmt"

const (
	DefaultSampleRate  = 16000
	RealtimeSampleRate = 24000
	DefaultChunkFrames = 1024
	DefaultFormat      = "pcm16"
	DefaultChannels    = 1
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{
		SampleRate:  DefaultSampleRate,
		Format:      encodingFormat(DefaultFormat),
		Channels:    DefaultChannels,
		ChunkFrames: DefaultChunkFrames,
	}
}

// EncodingInfo describes the fixed PCM format both device directions are
// opened with. Chunks are opaque byte slices of ChunkBytes() length.
type EncodingInfo struct {
	SampleRate  int
	Format      encodingFormat
	Channels    int
	ChunkFrames int
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

func (e EncodingInfo) Validate() error {
	switch {
	case e.SampleRate != DefaultSampleRate && e.SampleRate != RealtimeSampleRate:
		return fmt.Errorf("unsupported sample rate %d", e.SampleRate)
	case e.Format != EncodingPCM16:
		return fmt.Errorf("unsupported format %q", e.Format)
	case e.Channels != 1:
		return fmt.Errorf("unsupported channel count %d", e.Channels)
	case e.ChunkFrames <= 0:
		return fmt.Errorf("chunk frames must be positive")
	}
	return nil
}

// ChunkBytes is the size of a single capture chunk in bytes.
func (e EncodingInfo) ChunkBytes() int {
	return e.ChunkFrames * e.Channels * e.Format.ByteSize()
}

func (e EncodingInfo) BytesPerSecond() int {
	return e.SampleRate * e.Channels * e.Format.ByteSize()
}

// SilenceValue is the byte that pads a partial buffer with silence. Signed
// PCM16 silence is all zero bytes.
func (e EncodingInfo) SilenceValue() byte {
	return 0
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	if e == EncodingPCM16 {
		return 2
	}
	return -1
}

// EncodingPCM16 is the only format the device backends produce. The wire
// protocol also knows g711 formats, but nothing here transcodes to them.
const EncodingPCM16 encodingFormat = "pcm16"
