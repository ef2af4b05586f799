package config

// ThresholdPolicy maps a sensitivity in [0,1] to the energy threshold
// multiplier applied to the long-term bass/high averages.
type ThresholdPolicy func(sensitivity float64) float64

// LinearThreshold is the adaptive-controller mapping: 1.0 + s×1.5 (range 1.0–2.5).
func LinearThreshold(sensitivity float64) float64 {
	return 1.0 + sensitivity*1.5
}

// InverseThreshold is the older mapping, 2.5 − s×1.5, where a higher
// sensitivity lowers the threshold.
func InverseThreshold(sensitivity float64) float64 {
	return 2.5 - sensitivity*1.5
}

// ThresholdPolicyByName resolves "linear" or "inverse"; anything else is linear.
func ThresholdPolicyByName(name string) ThresholdPolicy {
	if name == "inverse" {
		return InverseThreshold
	}
	return LinearThreshold
}
