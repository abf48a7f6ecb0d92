package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"mime"
	"strconv"
	"strings"

	"github.com/petems/clipdeck/internal/media"
	"github.com/zaf/g711"
)

// Codec converts mono float32 samples to and from one media type.
type Codec interface {
	// MediaType returns the full type for artifacts at sampleRate.
	MediaType(sampleRate int) string
	// Header is the first chunk of every take; nil if the format has none.
	Header(sampleRate int) []byte
	Encode(samples []float32) []byte
	Decode(a media.Artifact) (samples []float32, sampleRate int, err error)
}

var codecs = map[string]Codec{
	"audio/wav":  wavCodec{},
	"audio/pcmu": pcmuCodec{},
	"audio/l16":  l16Codec{},
}

func codecFor(mediaType string) (Codec, bool) {
	c, ok := codecs[media.BaseType(mediaType)]
	return c, ok
}

var errShortWAV = errors.New("truncated wav header")

// streamingSize marks a WAV whose length was unknown when the header was written.
const streamingSize = 0xFFFFFFFF

type wavCodec struct{}

func (wavCodec) MediaType(int) string { return media.FormatWAV }

func (wavCodec) Header(sampleRate int) []byte {
	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], streamingSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], 1) // mono
	binary.LittleEndian.PutUint32(h[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(h[32:], 2)
	binary.LittleEndian.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], streamingSize)
	return h
}

func (wavCodec) Encode(samples []float32) []byte {
	return pcm16(samples, binary.LittleEndian)
}

func (wavCodec) Decode(a media.Artifact) ([]float32, int, error) {
	data := a.Data
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errShortWAV
	}

	var (
		rate     int
		channels int
		bits     int
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := data[pos+8:]

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, 0, errShortWAV
			}
			if format := binary.LittleEndian.Uint16(body[0:]); format != 1 {
				return nil, 0, fmt.Errorf("unsupported wav encoding %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:]))
			rate = int(binary.LittleEndian.Uint32(body[4:]))
			bits = int(binary.LittleEndian.Uint16(body[14:]))
			if channels == 0 || rate == 0 {
				return nil, 0, errors.New("wav fmt chunk has no channels or rate")
			}
		case "data":
			if rate == 0 {
				return nil, 0, errors.New("wav data before fmt chunk")
			}
			if bits != 16 {
				return nil, 0, fmt.Errorf("unsupported wav sample size %d", bits)
			}
			if uint32(size) == streamingSize || size > len(body) {
				size = len(body)
			}
			samples := fromPCM16(body[:size], binary.LittleEndian)
			return downmixInterleaved(samples, channels, len(samples)/channels), rate, nil
		}

		if size < 0 || pos+8+size > len(data) {
			break
		}
		pos += 8 + size + size%2
	}
	return nil, 0, errors.New("wav has no data chunk")
}

type pcmuCodec struct{}

func (pcmuCodec) MediaType(sampleRate int) string {
	return rawMediaType(media.FormatPCMU, sampleRate)
}

func (pcmuCodec) Header(int) []byte { return nil }

func (pcmuCodec) Encode(samples []float32) []byte {
	return g711.EncodeUlaw(pcm16(samples, binary.LittleEndian))
}

func (pcmuCodec) Decode(a media.Artifact) ([]float32, int, error) {
	rate, err := rateParam(a.MediaType, 8000)
	if err != nil {
		return nil, 0, err
	}
	return fromPCM16(g711.DecodeUlaw(a.Data), binary.LittleEndian), rate, nil
}

// l16Codec is RFC 2586 linear PCM: signed 16-bit big-endian.
type l16Codec struct{}

func (l16Codec) MediaType(sampleRate int) string {
	return rawMediaType(media.FormatL16, sampleRate)
}

func (l16Codec) Header(int) []byte { return nil }

func (l16Codec) Encode(samples []float32) []byte {
	return pcm16(samples, binary.BigEndian)
}

func (l16Codec) Decode(a media.Artifact) ([]float32, int, error) {
	rate, err := rateParam(a.MediaType, 44100)
	if err != nil {
		return nil, 0, err
	}
	return fromPCM16(a.Data, binary.BigEndian), rate, nil
}

func rawMediaType(base string, sampleRate int) string {
	return mime.FormatMediaType(base, map[string]string{
		"rate":     strconv.Itoa(sampleRate),
		"channels": "1",
	})
}

func rateParam(mediaType string, fallback int) (int, error) {
	_, params, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return 0, fmt.Errorf("bad media type %q: %w", mediaType, err)
	}
	v, ok := params["rate"]
	if !ok {
		return fallback, nil
	}
	rate, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("bad sample rate %q", v)
	}
	return rate, nil
}

func pcm16(samples []float32, order binary.ByteOrder) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		order.PutUint16(out[i*2:], uint16(toInt16(s)))
	}
	return out
}

func fromPCM16(data []byte, order binary.ByteOrder) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(order.Uint16(data[i*2:]))) / 32768
	}
	return out
}

func toInt16(s float32) int16 {
	v := math.Round(float64(s) * 32767)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// downmixInterleaved averages interleaved channels into one.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	if channels <= 1 {
		out := make([]float32, frames)
		copy(out, input)
		return out
	}
	out := make([]float32, frames)
	for f := 0; f < frames; f++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += input[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}
