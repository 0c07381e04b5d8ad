package memory

import (
	"encoding/binary"
	"math"
)

// encodeEmbedding packs a vector as little-endian float32 bytes. Empty
// vectors encode as nil so the column stays NULL.
func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeEmbedding unpacks a little-endian float32 blob. Trailing bytes
// that do not fill a float are ignored.
func decodeEmbedding(blob []byte) []float32 {
	if len(blob) < 4 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

// cosineSimilarity returns the cosine of the angle between a and b in
// [-1,1]. Mismatched lengths and zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// decayFactor is the confidence-adjusted freshness multiplier: content
// loses half its weight every halfLifeDays*(0.5+confidence) days, so
// high-confidence memories fade slower.
func decayFactor(ageDays, confidence, halfLifeDays float64) float64 {
	if ageDays <= 0 {
		return 1
	}
	halfLife := halfLifeDays * (0.5 + confidence)
	if halfLife <= 0 {
		return 0
	}
	return math.Pow(0.5, ageDays/halfLife)
}
