package dsp

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := 0; i < n; i++ {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// FFTShift moves DC to the centre of the slice.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	out := make([]complex128, 0, n)
	out = append(out, data[half:]...)
	return append(out, data[:half]...)
}

// Capture reads n pairs from src as complex values scaled to full scale.
func Capture(src interface{ Next() (int16, int16) }, n int) []complex128 {
	out := make([]complex128, n)
	for k := range out {
		i, q := src.Next()
		out[k] = complex(float64(i)/FullScale, float64(q)/FullScale)
	}
	return out
}

// SpectrumDBFS windows the samples, transforms them and returns the shifted
// magnitude in dBFS. Bin len/2 is DC.
func SpectrumDBFS(samples []complex128) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	win := Hamming(len(samples))
	windowed := make([]complex128, len(samples))
	sumWin := 0.0
	for i, v := range samples {
		windowed[i] = v * complex(win[i], 0)
		sumWin += win[i]
	}
	coeff := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	shifted := FFTShift(coeff)
	db := make([]float64, len(shifted))
	for i, v := range shifted {
		mag := cmplx.Abs(v) / sumWin
		if mag < 1e-12 {
			mag = 1e-12
		}
		db[i] = 20 * math.Log10(mag)
	}
	return db
}

// BinFrequency returns the offset in Hz of shifted bin k.
func BinFrequency(k, n int, sampleRate float64) float64 {
	return float64(k-n/2) * sampleRate / float64(n)
}

// PeakBin returns the index of the strongest bin.
func PeakBin(db []float64) int {
	best := 0
	for i, v := range db {
		if v > db[best] {
			best = i
		}
	}
	return best
}

// Measurement is the strongest line in the spectrum of a captured source.
type Measurement struct {
	PeakHz   float64
	PeakDBFS float64
	BinHz    float64
}

// MeasureTone captures n pairs from src and checks that the strongest line
// lies within one bin of wantHz and stands above the noise floor.
func MeasureTone(src interface{ Next() (int16, int16) }, n int, sampleRate, wantHz float64) (Measurement, error) {
	if n <= 0 || sampleRate <= 0 {
		return Measurement{}, fmt.Errorf("measure tone: invalid capture of %d samples at %g SPS", n, sampleRate)
	}
	db := SpectrumDBFS(Capture(src, n))
	peak := PeakBin(db)
	m := Measurement{
		PeakHz:   BinFrequency(peak, n, sampleRate),
		PeakDBFS: db[peak],
		BinHz:    sampleRate / float64(n),
	}
	if m.PeakDBFS < -100 {
		return m, fmt.Errorf("measure tone: no line above -100 dBFS (peak %.1f dBFS)", m.PeakDBFS)
	}
	// +fs/2 and -fs/2 are the same line.
	off := math.Mod(math.Abs(m.PeakHz-wantHz), sampleRate)
	if off = math.Min(off, sampleRate-off); off > m.BinHz {
		return m, fmt.Errorf("measure tone: peak at %.1f Hz, want %.1f Hz within %.1f Hz", m.PeakHz, wantHz, m.BinHz)
	}
	return m, nil
}
