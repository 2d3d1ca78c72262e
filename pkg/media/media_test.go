package media

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestStereoToMonoAverages(t *testing.T) {
	stereo := pcm16(1000, 3000, -2000, -4000)
	mono := StereoToMono(stereo)
	got := []int16{
		int16(binary.LittleEndian.Uint16(mono[0:])),
		int16(binary.LittleEndian.Uint16(mono[2:])),
	}
	if got[0] != 2000 || got[1] != -3000 {
		t.Errorf("StereoToMono = %v, want [2000 -3000]", got)
	}
}

func TestResampleMono16Halves(t *testing.T) {
	in := pcm16(0, 100, 200, 300, 400, 500, 600, 700)
	out := ResampleMono16(in, 32000, 16000)
	if len(out) != len(in)/2 {
		t.Fatalf("resampled len = %d, want %d", len(out), len(in)/2)
	}
}

func TestResampleMono16Identity(t *testing.T) {
	in := pcm16(1, 2, 3)
	out := ResampleMono16(in, 16000, 16000)
	if &in[0] != &out[0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestEnergyDb(t *testing.T) {
	if got := EnergyDb(nil); got != -80 {
		t.Errorf("empty EnergyDb = %v, want -80", got)
	}
	if got := EnergyDb(pcm16(0, 0, 0, 0)); got != -80 {
		t.Errorf("silence EnergyDb = %v, want -80", got)
	}

	// Full-scale square wave is 0 dBFS.
	loud := pcm16(32767, -32768, 32767, -32768)
	if got := EnergyDb(loud); math.Abs(got) > 0.01 {
		t.Errorf("full-scale EnergyDb = %v, want ~0", got)
	}

	// Half amplitude is ~-6 dBFS.
	half := pcm16(16384, -16384, 16384, -16384)
	if got := EnergyDb(half); math.Abs(got-(-6.02)) > 0.1 {
		t.Errorf("half-scale EnergyDb = %v, want ~-6.02", got)
	}
}

func TestNarrow10To8Saturates(t *testing.T) {
	// Values: 0, 512 (mid), 1023 (max legal), and an over-range 16-bit value.
	in := make([]byte, 8)
	binary.LittleEndian.PutUint16(in[0:], 0)
	binary.LittleEndian.PutUint16(in[2:], 512)
	binary.LittleEndian.PutUint16(in[4:], 1023)
	binary.LittleEndian.PutUint16(in[6:], 4095)

	out := Narrow10To8(in)
	want := []byte{0, 128, 255, 255}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Narrow10To8[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}

func TestYUV420PToRGBNarrowsDeepSources(t *testing.T) {
	// 2×2 10-bit mid-gray: Y=504 (126<<2), neutral chroma 512 (128<<2).
	y := pcm16(504, 504, 504, 504)
	u := pcm16(512)
	v := pcm16(512)

	got := YUV420PToRGB(y, u, v, 2, 2, 4, 2, 10)
	want := YUV420ToRGB([]byte{126, 126, 126, 126}, []byte{128}, []byte{128}, 2, 2, 2, 1)
	if len(got) != len(want) {
		t.Fatalf("rgb len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("10-bit conversion diverges from 8-bit at %d: %d != %d", i, got[i], want[i])
		}
	}

	// Over-range luma (beyond 10-bit legal) saturates to full white, not wrap.
	yw := pcm16(4095, 4095, 4095, 4095)
	rgbw := YUV420PToRGB(yw, u, v, 2, 2, 4, 2, 10)
	if rgbw[0] != 255 {
		t.Errorf("over-range R = %d, want 255", rgbw[0])
	}

	// Depth 8 passes planes through untouched.
	y8 := []byte{126, 126, 126, 126}
	rgb8 := YUV420PToRGB(y8, []byte{128}, []byte{128}, 2, 2, 2, 1, 8)
	if rgb8[0] != want[0] {
		t.Errorf("8-bit passthrough R = %d, want %d", rgb8[0], want[0])
	}
}

func TestYUV420ToRGBGrayAndClamp(t *testing.T) {
	// 2×2 mid-gray: Y=126 (limited range mid), neutral chroma.
	y := []byte{126, 126, 126, 126}
	u := []byte{128}
	v := []byte{128}
	rgb := YUV420ToRGB(y, u, v, 2, 2, 2, 1)
	if len(rgb) != 12 {
		t.Fatalf("rgb len = %d, want 12", len(rgb))
	}
	// Neutral chroma means R==G==B.
	if rgb[0] != rgb[1] || rgb[1] != rgb[2] {
		t.Errorf("neutral chroma produced non-gray pixel %v", rgb[0:3])
	}

	// Super-white (Y=255) must clamp to 255, not wrap.
	yw := []byte{255, 255, 255, 255}
	rgbw := YUV420ToRGB(yw, u, v, 2, 2, 2, 1)
	if rgbw[0] != 255 {
		t.Errorf("super-white R = %d, want 255", rgbw[0])
	}

	// Sub-black (Y=0) must clamp to 0.
	yb := []byte{0, 0, 0, 0}
	rgbb := YUV420ToRGB(yb, u, v, 2, 2, 2, 1)
	if rgbb[0] != 0 {
		t.Errorf("sub-black R = %d, want 0", rgbb[0])
	}
}

func TestScaleRGB(t *testing.T) {
	// 2×2 checkerboard downscaled to 1×1 picks the top-left pixel.
	src := []byte{
		255, 0, 0 /**/, 0, 255, 0,
		0, 0, 255 /**/, 255, 255, 255,
	}
	out := ScaleRGB(src, 2, 2, 1, 1)
	if out[0] != 255 || out[1] != 0 || out[2] != 0 {
		t.Errorf("1×1 scale = %v, want red", out)
	}

	same := ScaleRGB(src, 2, 2, 2, 2)
	if &same[0] != &src[0] {
		t.Error("same-size scale should return input unchanged")
	}
}
