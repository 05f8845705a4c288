package pipeline

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/kozaktomas/face-sorter/internal/database/mock"
	"github.com/kozaktomas/face-sorter/internal/fingerprint"
	"github.com/kozaktomas/face-sorter/internal/pipeline/pipelinetest"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
)

func newTestEncoder(store *mock.MockStore, ex *pipelinetest.Extractor) *Encoder {
	return NewEncoder(store, ex, 0, nil)
}

func TestEncodeExtractsOnceThenHitsCache(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	ex := pipelinetest.NewExtractor()
	ex.Set(red, []float32{1, 0}, []float32{0, 1})
	path := pipelinetest.WriteImage(t, t.TempDir(), "a.png", red)
	enc := newTestEncoder(store, ex)

	first, err := enc.Encode(ctx, path)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if first.CacheHit {
		t.Error("expected first encode to miss the cache")
	}
	if len(first.Vectors) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(first.Vectors))
	}
	if first.ImageID == 0 {
		t.Error("expected image to be stored")
	}

	second, err := enc.Encode(ctx, path)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !second.CacheHit {
		t.Error("expected second encode to hit the cache")
	}
	if second.ImageID != first.ImageID {
		t.Errorf("expected image %d, got %d", first.ImageID, second.ImageID)
	}
	if len(second.Vectors) != 2 || second.Vectors[1][1] != 1 {
		t.Errorf("expected cached vectors in face order, got %v", second.Vectors)
	}
	if ex.Calls() != 1 {
		t.Errorf("expected 1 extraction, got %d", ex.Calls())
	}
	if enc.Extractions() != 1 {
		t.Errorf("expected Extractions 1, got %d", enc.Extractions())
	}
}

func TestEncodeIdenticalContentExtractsOnce(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	ex := pipelinetest.NewExtractor()
	ex.Set(green, []float32{0.5, 0.5})
	dir := t.TempDir()
	a := pipelinetest.WriteImage(t, dir, "a.png", green)
	b := pipelinetest.WriteImage(t, dir+"/copy", "b.png", green)
	enc := newTestEncoder(store, ex)

	ea, err := enc.Encode(ctx, a)
	if err != nil {
		t.Fatalf("Encode a failed: %v", err)
	}
	eb, err := enc.Encode(ctx, b)
	if err != nil {
		t.Fatalf("Encode b failed: %v", err)
	}
	if ex.Calls() != 1 {
		t.Errorf("expected 1 extraction for identical bytes, got %d", ex.Calls())
	}
	if !eb.CacheHit {
		t.Error("expected copy to hit the content cache")
	}
	if ea.Hash != eb.Hash || ea.ImageID != eb.ImageID {
		t.Errorf("expected same image, got %+v and %+v", ea, eb)
	}
	if store.Calls("Link") != 2 {
		t.Errorf("expected both paths linked, got %d Link calls", store.Calls("Link"))
	}
}

func TestEncodeZeroFacesIsCached(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	ex := pipelinetest.NewExtractor()
	path := pipelinetest.WriteImage(t, t.TempDir(), "empty.png", blue)
	enc := newTestEncoder(store, ex)

	for i := 0; i < 2; i++ {
		got, err := enc.Encode(ctx, path)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if len(got.Vectors) != 0 {
			t.Errorf("expected no vectors, got %d", len(got.Vectors))
		}
	}
	if ex.Calls() != 1 {
		t.Errorf("expected 1 extraction, got %d", ex.Calls())
	}
}

func TestEncodeCorruptImage(t *testing.T) {
	store := mock.NewMockStore()
	ex := pipelinetest.NewExtractor()
	path := pipelinetest.WriteFile(t, t.TempDir(), "broken.jpg", []byte("not an image"))

	_, err := newTestEncoder(store, ex).Encode(context.Background(), path)
	if !errors.Is(err, fingerprint.ErrUnsupportedImage) {
		t.Errorf("expected ErrUnsupportedImage, got %v", err)
	}
	if ex.Calls() != 0 {
		t.Errorf("expected no extraction, got %d", ex.Calls())
	}
}

func TestEncodeMissingFile(t *testing.T) {
	_, err := newTestEncoder(mock.NewMockStore(), pipelinetest.NewExtractor()).
		Encode(context.Background(), t.TempDir()+"/missing.png")
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEncodeStoreFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	ex := pipelinetest.NewExtractor()
	ex.Set(red, []float32{1, 1})
	path := pipelinetest.WriteImage(t, t.TempDir(), "a.png", red)

	tests := []struct {
		name   string
		inject func(*mock.MockStore)
		stored bool
	}{
		{"resolve path", func(m *mock.MockStore) { m.ResolvePathError = errors.New("down") }, true},
		{"lookup", func(m *mock.MockStore) { m.LookupError = errors.New("down") }, true},
		{"find image", func(m *mock.MockStore) { m.FindImageError = errors.New("down") }, true},
		{"resolve content", func(m *mock.MockStore) { m.ResolveContentError = errors.New("down") }, false},
		{"record vectors", func(m *mock.MockStore) { m.RecordVectorsError = errors.New("down") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mock.NewMockStore()
			tt.inject(store)
			got, err := newTestEncoder(store, ex).Encode(ctx, path)
			if err != nil {
				t.Fatalf("expected store failure to degrade, got %v", err)
			}
			if len(got.Vectors) != 1 {
				t.Errorf("expected 1 vector, got %d", len(got.Vectors))
			}
			if (got.ImageID != 0) != tt.stored {
				t.Errorf("expected stored=%v, got image id %d", tt.stored, got.ImageID)
			}
		})
	}
}

func TestEncodeReextractsWhenVectorsMissing(t *testing.T) {
	ctx := context.Background()
	store := mock.NewMockStore()
	ex := pipelinetest.NewExtractor()
	ex.Set(red, []float32{1, 0})
	path := pipelinetest.WriteImage(t, t.TempDir(), "a.png", red)
	enc := newTestEncoder(store, ex)

	store.RecordVectorsError = errors.New("interrupted")
	if _, err := enc.Encode(ctx, path); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	store.RecordVectorsError = nil

	got, err := enc.Encode(ctx, path)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got.CacheHit {
		t.Error("expected image without stored vectors to miss the cache")
	}
	if ex.Calls() != 2 {
		t.Errorf("expected 2 extractions, got %d", ex.Calls())
	}

	third, err := enc.Encode(ctx, path)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if !third.CacheHit {
		t.Error("expected cache hit once vectors are stored")
	}
}

func TestEncodeExtractorError(t *testing.T) {
	ex := pipelinetest.NewExtractor()
	ex.Err = &fingerprint.APIError{StatusCode: 503, Body: "busy"}
	path := pipelinetest.WriteImage(t, t.TempDir(), "a.png", red)

	_, err := newTestEncoder(mock.NewMockStore(), ex).Encode(context.Background(), path)
	if err == nil {
		t.Fatal("expected extractor error")
	}
	if !fingerprint.IsUnavailable(err) {
		t.Errorf("expected wrapped error to stay classifiable, got %v", err)
	}
}
