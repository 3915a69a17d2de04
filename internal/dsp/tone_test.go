package dsp

import (
	"math"
	"testing"
)

func TestToneSpectralPeak(t *testing.T) {
	const (
		rate = 271000.0
		n    = 2710 // 100 Hz bins
	)
	tests := []struct {
		freq float64
		bin  int
	}{
		{10000, n/2 + 100},
		{-20000, n/2 - 200},
		{0, n / 2},
	}
	for _, tc := range tests {
		tone, err := NewTone(tc.freq, rate, 0.5)
		if err != nil {
			t.Fatalf("NewTone(%g): %v", tc.freq, err)
		}
		db := SpectrumDBFS(Capture(tone, n))
		peak := PeakBin(db)
		if peak != tc.bin {
			t.Fatalf("tone %g Hz: peak at bin %d, want %d", tc.freq, peak, tc.bin)
		}
		if f := BinFrequency(peak, n, rate); math.Abs(f-tc.freq) > 1e-6 {
			t.Fatalf("tone %g Hz: bin frequency %g", tc.freq, f)
		}
		if want := 20 * math.Log10(0.5); math.Abs(db[peak]-want) > 0.1 {
			t.Fatalf("tone %g Hz: peak %.2f dBFS, want %.2f", tc.freq, db[peak], want)
		}
	}
}

func TestToneFirstSamples(t *testing.T) {
	tone, err := NewTone(271000.0/4, 271000, 1)
	if err != nil {
		t.Fatalf("NewTone: %v", err)
	}
	want := [][2]int16{{32767, 0}, {0, 32767}, {-32767, 0}, {0, -32767}, {32767, 0}}
	for k, w := range want {
		i, q := tone.Next()
		if i != w[0] || q != w[1] {
			t.Fatalf("pair %d = (%d, %d), want (%d, %d)", k, i, q, w[0], w[1])
		}
	}
}

func TestNewToneRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name            string
		freq, rate, amp float64
	}{
		{"zero rate", 1000, 0, 0.5},
		{"above nyquist", 200000, 271000, 0.5},
		{"zero amplitude", 1000, 271000, 0},
		{"amplitude above full scale", 1000, 271000, 1.5},
	}
	for _, tc := range tests {
		if _, err := NewTone(tc.freq, tc.rate, tc.amp); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestSilence(t *testing.T) {
	db := SpectrumDBFS(Capture(Silence{}, 64))
	for k, v := range db {
		if v > -200 {
			t.Fatalf("bin %d = %.1f dBFS for silence", k, v)
		}
	}
}

func TestFFTShift(t *testing.T) {
	got := FFTShift([]complex128{0, 1, 2, 3, 4})
	want := []complex128{2, 3, 4, 0, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("FFTShift = %v", got)
		}
	}
	if len(FFTShift(nil)) != 0 {
		t.Fatalf("FFTShift(nil) should be empty")
	}
}

func TestHamming(t *testing.T) {
	w := Hamming(5)
	if math.Abs(w[0]-0.08) > 1e-9 || math.Abs(w[2]-1) > 1e-9 || math.Abs(w[4]-0.08) > 1e-9 {
		t.Fatalf("Hamming(5) = %v", w)
	}
	if len(Hamming(0)) != 0 || Hamming(1)[0] != 1 {
		t.Fatalf("degenerate windows")
	}
}

func TestMeasureTone(t *testing.T) {
	const rate = 271000.0

	tone, err := NewTone(10000, rate, 0.5)
	if err != nil {
		t.Fatalf("NewTone: %v", err)
	}
	m, err := MeasureTone(tone, 4096, rate, 10000)
	if err != nil {
		t.Fatalf("MeasureTone: %v", err)
	}
	if math.Abs(m.PeakHz-10000) > m.BinHz || m.PeakDBFS < -7 || m.PeakDBFS > -5 {
		t.Fatalf("measurement = %+v", m)
	}

	nyquist, _ := NewTone(rate/2, rate, 0.5)
	if _, err := MeasureTone(nyquist, 4096, rate, rate/2); err != nil {
		t.Fatalf("MeasureTone at Nyquist: %v", err)
	}

	wrong, _ := NewTone(20000, rate, 0.5)
	if _, err := MeasureTone(wrong, 4096, rate, 10000); err == nil {
		t.Fatalf("expected mismatch for a 20 kHz tone measured against 10 kHz")
	}
	if _, err := MeasureTone(Silence{}, 4096, rate, 10000); err == nil {
		t.Fatalf("expected error for silence")
	}
	if _, err := MeasureTone(Silence{}, 0, rate, 0); err == nil {
		t.Fatalf("expected error for empty capture")
	}
}
