// Package media centralizes the pixel and PCM conversions that normalize
// every source track into the canonical analysis formats: 8-bit BT.709 RGB
// frames at the analysis resolution, and 16-bit little-endian mono PCM at
// the analysis sample rate. Downstream analyzers never see raw SFU formats.
package media

import "math"

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono
// output. Uses int32 arithmetic to prevent overflow and clamps to int16
// range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := (l + r) / 2

		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}

		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ToAnalysisPCM converts arbitrary 16-bit PCM (mono or stereo) at srcRate
// into canonical mono PCM at dstRate. Stereo input is downmixed before
// resampling so the interpolation runs on half the samples.
func ToAnalysisPCM(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels == 2 {
		pcm = StereoToMono(pcm)
	}
	return ResampleMono16(pcm, srcRate, dstRate)
}

// EnergyDb computes the RMS energy of 16-bit mono PCM in dBFS. Silence and
// empty input report the -80 dBFS floor.
func EnergyDb(pcm []byte) float64 {
	const floor = -80.0
	samples := len(pcm) / 2
	if samples == 0 {
		return floor
	}

	var sum float64
	for i := range samples {
		s := float64(int16(pcm[i*2])|int16(pcm[i*2+1])<<8) / 32768.0
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(samples))
	if rms < 1e-10 {
		return floor
	}
	db := 20 * math.Log10(rms)
	if db < floor {
		return floor
	}
	return db
}
