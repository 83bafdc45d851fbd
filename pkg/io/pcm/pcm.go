// Package pcm holds the sample conversions shared by capture and playback:
// rate reduction, float <-> 16-bit little-endian PCM and base64 wrapping.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// TargetRate is the rate the live endpoint expects for realtime input.
const TargetRate = 16000

// MIMEType tags every realtime input chunk.
const MIMEType = "audio/pcm;rate=16000"

var ErrUpsample = errors.New("pcm: output rate above input rate")

// Downsample reduces buffer from inRate to outRate by averaging every input
// sample that falls inside each output sample's window. Equal rates return a copy.
func Downsample(buffer []float32, inRate, outRate int) ([]float32, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("pcm: invalid rates %d -> %d", inRate, outRate)
	}
	if outRate == inRate {
		out := make([]float32, len(buffer))
		copy(out, buffer)
		return out, nil
	}
	if outRate > inRate {
		return nil, fmt.Errorf("%w: %d -> %d", ErrUpsample, inRate, outRate)
	}

	ratio := float64(inRate) / float64(outRate)
	out := make([]float32, int(math.Round(float64(len(buffer))/ratio)))

	offset := 0
	for i := range out {
		next := int(math.Round(float64(i+1) * ratio))
		var sum float64
		count := 0
		for j := offset; j < next && j < len(buffer); j++ {
			sum += float64(buffer[j])
			count++
		}
		if count > 0 {
			out[i] = float32(sum / float64(count))
		}
		offset = next
	}
	return out, nil
}

// Clamp limits s to [-1, 1].
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// FloatToPCM16 clamps each sample and scales it asymmetrically: negative
// values by 0x8000, positive by 0x7FFF. Output is little-endian.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		s = Clamp(s)
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat decodes little-endian int16 samples into [-1, 1). A trailing
// odd byte is ignored.
func PCM16ToFloat(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out
}

// Chunk is one base64 encoded PCM16 blob ready for the socket.
type Chunk struct {
	MIMEType string
	Data     string
}

// Encode runs the full capture pipeline on buffer.
func Encode(buffer []float32, inRate int) (Chunk, error) {
	down, err := Downsample(buffer, inRate, TargetRate)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{
		MIMEType: MIMEType,
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM16(down)),
	}, nil
}
