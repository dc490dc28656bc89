package util

import "fmt"

func HzToString(hz uint32) string {
	return fmt.Sprintf("%0.4f MHz", float64(hz)/1e6)
}

// BandEdges returns the lowest and highest frequency visible at a center
// frequency for a complex sample rate.
func BandEdges(center, sampleRate uint32) (low, high int64) {
	half := int64(sampleRate) / 2
	return int64(center) - half, int64(center) + half
}
