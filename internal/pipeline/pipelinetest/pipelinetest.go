// Package pipelinetest provides a scripted face extractor and generated
// images for tests of the processing pipeline.
package pipelinetest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kozaktomas/face-sorter/internal/fingerprint"
)

// Extractor returns the faces registered for the colour of an image's top
// left pixel. Images of unknown colour have no faces.
type Extractor struct {
	mu    sync.Mutex
	faces  map[color.RGBA][][]float32
	calls  int
	health int

	// Err is returned by every call when set.
	Err error
	// HealthErr is returned by Health when set.
	HealthErr error
	// OnCall runs after each extraction with the 1-based call number.
	OnCall func(n int)
	// OnHealth runs at the start of each health check.
	OnHealth func()
}

func NewExtractor() *Extractor {
	return &Extractor{faces: make(map[color.RGBA][][]float32)}
}

// Set scripts the faces found in images of colour c.
func (e *Extractor) Set(c color.RGBA, faces ...[]float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.faces[c] = faces
}

// Calls returns how many extractions were requested.
func (e *Extractor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// HealthChecks returns how many health checks were made.
func (e *Extractor) HealthChecks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

func (e *Extractor) ComputeFaceEmbeddings(_ context.Context, data []byte) (*fingerprint.FaceResponse, error) {
	e.mu.Lock()
	e.calls++
	n := e.calls
	err := e.Err
	hook := e.OnCall
	var faces [][]float32
	if err == nil {
		img, _, decodeErr := image.Decode(bytes.NewReader(data))
		if decodeErr != nil {
			err = decodeErr
		} else {
			r, g, b, a := img.At(0, 0).RGBA()
			faces = e.faces[color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}]
		}
	}
	e.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}

	resp := &fingerprint.FaceResponse{FacesCount: len(faces), Model: "fake"}
	for i, f := range faces {
		resp.Faces = append(resp.Faces, fingerprint.FaceDetection{FaceIndex: i, Dim: len(f), Embedding: f})
	}
	return resp, nil
}

func (e *Extractor) Health(context.Context) (*fingerprint.HealthResponse, error) {
	e.mu.Lock()
	e.health++
	hook := e.OnHealth
	e.mu.Unlock()
	if hook != nil {
		hook()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.HealthErr != nil {
		return nil, e.HealthErr
	}
	return &fingerprint.HealthResponse{Status: "ok", Model: "fake"}, nil
}

// WriteImage writes a 4x4 PNG of colour c to dir/name and returns its path.
// Images of the same colour have identical bytes.
func WriteImage(t *testing.T, dir, name string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode image: %v", err)
	}
	return WriteFile(t, dir, name, buf.Bytes())
}

// WriteFile writes raw bytes to dir/name and returns its path.
func WriteFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
