package encoding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"veribio/internal/biometric/models"
	"veribio/internal/biometric/ports"
)

const mockEncodingDim = 128

// MockClient derives encodings deterministically from the image bytes and a
// configurable latency to mimic real-world calls. Identical images always
// produce identical encodings, so enrollment followed by verification with
// the same image matches with similarity 1.
type MockClient struct {
	Latency time.Duration
	// MinImageSize rejects images below this many bytes with
	// ErrNoBiometricFeature, simulating frames without a detectable face.
	MinImageSize int
}

func (c MockClient) Extract(ctx context.Context, image []byte, format string) (*models.ExtractionResult, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}
	if len(image) < c.MinImageSize {
		return nil, fmt.Errorf("image %d bytes below detection floor: %w", len(image), ports.ErrNoBiometricFeature)
	}

	digest := sha256.Sum256(image)
	encoding := make([]float64, mockEncodingDim)
	seed := digest[:]
	for i := range encoding {
		if i%len(seed) == 0 {
			next := sha256.Sum256(seed)
			seed = next[:]
		}
		bits := binary.BigEndian.Uint32(seed[(i*4)%(len(seed)-3):][:4])
		encoding[i] = float64(bits)/math.MaxUint32*2 - 1
	}

	// Quality tracks image size up to 64KiB so tests can steer the gate.
	quality := math.Min(1, float64(len(image))/65536)
	return &models.ExtractionResult{
		Encoding:     encoding,
		QualityScore: quality,
		FaceLocation: &models.FaceLocation{Top: 0, Right: 100, Bottom: 100, Left: 0},
	}, nil
}

func (c MockClient) Compare(ctx context.Context, probe, reference []float64) (*models.ComparisonResult, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}
	if len(probe) == 0 || len(reference) == 0 || len(probe) != len(reference) {
		return nil, fmt.Errorf("encodings have mismatched dimensions %d and %d", len(probe), len(reference))
	}

	var dot, normA, normB float64
	for i := range probe {
		dot += probe[i] * reference[i]
		normA += probe[i] * probe[i]
		normB += reference[i] * reference[i]
	}
	if normA == 0 || normB == 0 {
		return &models.ComparisonResult{Similarity: 0, Distance: 1}, nil
	}
	cosine := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	similarity := (cosine + 1) / 2
	return &models.ComparisonResult{
		Similarity: similarity,
		Distance:   1 - similarity,
	}, nil
}

func (c MockClient) sleep(ctx context.Context) error {
	if c.Latency <= 0 {
		return nil
	}
	timer := time.NewTimer(c.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
