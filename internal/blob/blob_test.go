package blob

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestFloatsKeepBitPattern(t *testing.T) {
	v := []float64{0, -0.5, 1e-300, math.MaxFloat64, 3.141592653589793}
	got, err := DecodeFloats(EncodeFloats(v))
	if err != nil {
		t.Fatalf("DecodeFloats: %v", err)
	}
	for i := range v {
		if math.Float64bits(got[i]) != math.Float64bits(v[i]) {
			t.Fatalf("value %d: got %v, want %v", i, got[i], v[i])
		}
	}
}

func TestDecodeFloatsRejectsTruncatedBlob(t *testing.T) {
	if _, err := DecodeFloats(make([]byte, 12)); err == nil {
		t.Fatal("expected error for 12-byte blob")
	}
}

func TestMatrixRowMajor(t *testing.T) {
	m := [][]float64{{1, 2}, {3, 4}}
	b := EncodeMatrix(m)
	flat, err := DecodeFloats(b)
	if err != nil {
		t.Fatalf("DecodeFloats: %v", err)
	}
	if diff := cmp.Diff([]float64{1, 2, 3, 4}, flat); diff != "" {
		t.Fatalf("layout (-want +got):\n%s", diff)
	}

	got, err := DecodeMatrix(b, 2)
	if err != nil {
		t.Fatalf("DecodeMatrix: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("matrix (-want +got):\n%s", diff)
	}
	// rows must not alias each other on append
	got[0] = append(got[0], 9)
	if got[1][0] != 3 {
		t.Fatalf("row 1 clobbered: %v", got[1])
	}

	if _, err := DecodeMatrix(b, 3); err == nil {
		t.Fatal("expected dimension error")
	}
}
