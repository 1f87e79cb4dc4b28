// Package audio converts between the telephony and agent audio encodings.
//
// Twilio media streams carry G.711 μ-law at 8kHz; an agent configured for
// pcm_16000 expects 16-bit little-endian PCM at 16kHz. All functions are
// stateless and deterministic.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// EncodeMulaw compands 16-bit PCM samples to 8-bit μ-law.
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = encodeSample(s)
	}
	return out
}

// DecodeMulaw expands 8-bit μ-law to 16-bit PCM samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = decodeSample(b)
	}
	return out
}

func encodeSample(s int16) byte {
	sign := byte(0)
	v := int32(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((v >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

func decodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	v := ((int32(mantissa) << 3) + mulawBias) << exponent
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}

// Upsample2x doubles the sample rate by linear interpolation.
func Upsample2x(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*2)
	for i, s := range in {
		out[2*i] = s
		if i+1 < len(in) {
			out[2*i+1] = int16((int32(s) + int32(in[i+1])) / 2)
		} else {
			out[2*i+1] = s
		}
	}
	return out
}

// Downsample2x halves the sample rate by averaging adjacent pairs.
func Downsample2x(in []int16) []int16 {
	out := make([]int16, len(in)/2)
	for i := range out {
		out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return out
}

func pcmToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

func bytesToPCM(buf []byte) ([]int16, error) {
	if len(buf)%2 != 0 {
		return nil, fmt.Errorf("audio: odd pcm payload length %d", len(buf))
	}
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[i*2:]))
	}
	return out, nil
}

// MulawToPCM16k converts a base64 μ-law 8kHz payload to base64 PCM16 16kHz.
func MulawToPCM16k(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("audio: decode mulaw payload: %w", err)
	}
	pcm := Upsample2x(DecodeMulaw(raw))
	return base64.StdEncoding.EncodeToString(pcmToBytes(pcm)), nil
}

// PCM16kToMulaw converts a base64 PCM16 16kHz payload to base64 μ-law 8kHz.
func PCM16kToMulaw(payload string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("audio: decode pcm payload: %w", err)
	}
	pcm, err := bytesToPCM(raw)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(EncodeMulaw(Downsample2x(pcm))), nil
}

// Transcoder applies the configured conversion to relayed frames.
// In passthrough mode both directions return the payload untouched.
// Conversion failures also return the original payload: a garbled frame is
// preferred over a dropped one mid-call.
type Transcoder struct {
	passthrough bool
}

// NewTranscoder returns a Transcoder for the agent's audio format.
func NewTranscoder(agentFormat string) *Transcoder {
	return &Transcoder{passthrough: agentFormat != "pcm_16000"}
}

// Passthrough reports whether frames are relayed unmodified.
func (t *Transcoder) Passthrough() bool { return t.passthrough }

// ToAgent converts a telephony frame for the agent connection.
func (t *Transcoder) ToAgent(payload string) string {
	if t.passthrough {
		return payload
	}
	out, err := MulawToPCM16k(payload)
	if err != nil {
		return payload
	}
	return out
}

// ToTelephony converts an agent frame for the telephony stream.
func (t *Transcoder) ToTelephony(payload string) string {
	if t.passthrough {
		return payload
	}
	out, err := PCM16kToMulaw(payload)
	if err != nil {
		return payload
	}
	return out
}
