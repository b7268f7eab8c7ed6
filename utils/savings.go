package utils

import "math"

// EstimateBase64Size approximates the length of the base64 text for n bytes
// as n*4/3 plus one line-padding byte per 96 input bytes.
//
// The figure is a reporting estimate, not an exact measurement of the wire
// format.
func EstimateBase64Size(n int64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n)*4/3 + math.Ceil(float64(n)/96)
}

// SavePercentage returns ((input - optimized) / input) * 100 rounded to two
// decimal places.  Negative values mean the output grew.  A zero input
// yields 0.
func SavePercentage(inputTextLen int, optimized float64) float64 {
	if inputTextLen <= 0 {
		return 0
	}
	in := float64(inputTextLen)
	return math.Round((in-optimized)/in*100*100) / 100
}
