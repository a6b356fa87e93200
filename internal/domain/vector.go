package domain

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Cosine returns the cosine similarity of two vectors in [-1, 1].
// Vectors of different lengths are compared over the shorter prefix;
// a zero vector on either side yields 0.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, a2, b2 float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		a2 += x * x
		b2 += y * y
	}
	if a2 == 0 || b2 == 0 {
		return 0
	}
	return dot / math.Sqrt(a2*b2)
}

// L2Normalize scales v in place to unit Euclidean length and returns it.
// A zero vector is returned unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// MeanPool averages the vectors element-wise and renormalizes the result
// to unit length. All vectors must share the same dimension; nil is
// returned for empty input.
func MeanPool(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	acc := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			acc[i] += float64(v[i])
		}
	}
	out := make([]float32, dim)
	inv := 1.0 / float64(len(vectors))
	for i, x := range acc {
		out[i] = float32(x * inv)
	}
	return L2Normalize(out)
}

// VectorToBytes packs a vector as little-endian float32s, the persisted
// and cached wire form.
func VectorToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// BytesToVector is the inverse of VectorToBytes.
func BytesToVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector data: len=%d (not multiple of 4)", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
