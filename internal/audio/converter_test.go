package audio

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestConvertPCMToPCMU(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}

	pcmuData, err := ConvertPCMToPCMU(pcmBytes(samples), 8000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	if len(pcmuData) != len(samples) {
		t.Errorf("Expected PCMU length %d, got %d", len(samples), len(pcmuData))
	}
	if pcmuData[0] != 0xFF {
		t.Errorf("Expected silence to encode as 0xFF, got %#x", pcmuData[0])
	}
}

func TestConvertPCMToPCMU_Errors(t *testing.T) {
	if _, err := ConvertPCMToPCMU(nil, 8000, 8000); err == nil {
		t.Error("Expected error for empty input")
	}
	if _, err := ConvertPCMToPCMU([]byte{1, 2, 3}, 8000, 8000); err == nil {
		t.Error("Expected error for odd-length input")
	}
}

func TestConvertPCMToPCMU_Resample(t *testing.T) {
	samples := make([]int16, 2400) // 0.1 seconds at 24kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	pcmuData, err := ConvertPCMToPCMU(pcmBytes(samples), 24000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	if len(pcmuData) != 800 {
		t.Errorf("Expected 800 samples after resampling, got %d", len(pcmuData))
	}
}

// decodeMulaw is the G.711 inverse of linearToMulaw
func decodeMulaw(b byte) int16 {
	b = ^b
	magnitude := ((int32(b&0x0F) << 3) + 0x84) << ((b >> 4) & 0x07)
	magnitude -= 0x84
	if b&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

func TestMulawRoundTrip(t *testing.T) {
	samples := []int16{0, 8, -8, 100, -100, 1000, -1000, 12000, -12000, 32767, -32768}

	pcmu, err := ConvertPCMToPCMU(pcmBytes(samples), 8000, 8000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded := make([]int16, len(pcmu))
	for i, b := range pcmu {
		decoded[i] = decodeMulaw(b)
	}

	for i, want := range samples {
		got := decoded[i]
		diff := int(want) - int(got)
		if diff < 0 {
			diff = -diff
		}
		tolerance := int(want) / 16
		if tolerance < 0 {
			tolerance = -tolerance
		}
		if tolerance < 16 {
			tolerance = 16
		}
		if diff > tolerance {
			t.Errorf("sample %d: want ~%d, got %d", i, want, got)
		}
	}
}

func TestBytesSamplesRoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767}
	got := BytesToSamples(SamplesToBytes(samples))
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("index %d: want %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestMulawDuration(t *testing.T) {
	if d := MulawDuration(8000); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := MulawDuration(160); d != 20*time.Millisecond {
		t.Errorf("Expected 20ms, got %v", d)
	}
}

func wavFile(sampleRate int, pcm []byte) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:], uint32(36+len(pcm)))
	copy(buf[8:], "WAVE")
	copy(buf[12:], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:], 16)
	binary.LittleEndian.PutUint16(buf[20:], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:], 2)
	binary.LittleEndian.PutUint16(buf[34:], 16)
	copy(buf[36:], "data")
	binary.LittleEndian.PutUint32(buf[40:], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func TestDecodeWAV(t *testing.T) {
	pcm := pcmBytes([]int16{1, 2, 3, 4})

	got, rate, err := DecodeWAV(wavFile(24000, pcm))
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if rate != 24000 {
		t.Errorf("Expected rate 24000, got %d", rate)
	}
	if len(got) != len(pcm) {
		t.Errorf("Expected %d PCM bytes, got %d", len(pcm), len(got))
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	_, _, err := DecodeWAV([]byte("not a wav file at all"))
	if !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("Expected ErrInvalidWAV, got %v", err)
	}

	stereo := wavFile(8000, pcmBytes([]int16{1, 2}))
	binary.LittleEndian.PutUint16(stereo[22:], 2)
	if _, _, err := DecodeWAV(stereo); !errors.Is(err, ErrInvalidWAV) {
		t.Errorf("Expected ErrInvalidWAV for stereo, got %v", err)
	}
}
