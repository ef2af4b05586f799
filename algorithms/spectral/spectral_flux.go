package spectral

// SpectralFlux measures how much a magnitude spectrum rose relative to the
// previous frame. It keeps the previous spectrum, so one instance serves one stream.
type SpectralFlux struct {
	previous []float64
}

// NewSpectralFlux creates a new spectral flux calculator
func NewSpectralFlux() *SpectralFlux {
	return &SpectralFlux{}
}

// Next returns the sum of positive bin differences between magnitudes and the
// previously seen spectrum, then remembers magnitudes. The first frame yields 0.
func (sf *SpectralFlux) Next(magnitudes []float64) float64 {
	flux := PositiveDifference(sf.previous, magnitudes)

	if cap(sf.previous) < len(magnitudes) {
		sf.previous = make([]float64, len(magnitudes))
	}
	sf.previous = sf.previous[:len(magnitudes)]
	copy(sf.previous, magnitudes)

	return flux
}

// Reset forgets the previous spectrum
func (sf *SpectralFlux) Reset() {
	sf.previous = sf.previous[:0]
}

// PositiveDifference sums max(0, current[i]-previous[i]) over the common bins.
// Only energy increases count.
func PositiveDifference(previous, current []float64) float64 {
	if len(previous) == 0 || len(previous) != len(current) {
		return 0.0
	}

	sum := 0.0
	for f := range current {
		diff := current[f] - previous[f]
		if diff > 0 {
			sum += diff
		}
	}
	return sum
}
