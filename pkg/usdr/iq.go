package usdr

import (
	"encoding/binary"
	"math"
)

// IQSize is the size of one ci16 sample in bytes.
const IQSize = 4

// IQ is one complex 16-bit sample as laid out in the ci16 format.
type IQ struct {
	I int16
	Q int16
}

// Bytes returns the little endian ci16 encoding of the sample.
func (s IQ) Bytes() [IQSize]byte {
	var b [IQSize]byte
	binary.LittleEndian.PutUint16(b[0:], uint16(s.I))
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Q))
	return b
}

func (s IQ) Complex64() complex64 {
	return complex(float32(s.I)/-math.MinInt16, float32(s.Q)/-math.MinInt16)
}

func SamplesToBytes(samples []IQ) []byte {
	ret := make([]byte, 0, len(samples)*IQSize)
	for _, s := range samples {
		b := s.Bytes()
		ret = append(ret, b[:]...)
	}
	return ret
}

// BytesToSamples decodes ci16 bytes. A trailing partial sample is dropped.
func BytesToSamples(b []byte) []IQ {
	ret := make([]IQ, len(b)/IQSize)
	for i := range ret {
		ret[i] = IQ{
			I: int16(binary.LittleEndian.Uint16(b[i*IQSize:])),
			Q: int16(binary.LittleEndian.Uint16(b[i*IQSize+2:])),
		}
	}
	return ret
}

// ToComplex64 scales samples into [-1, 1).
func ToComplex64(samples []IQ) []complex64 {
	ret := make([]complex64, len(samples))
	for i, s := range samples {
		ret[i] = s.Complex64()
	}
	return ret
}
