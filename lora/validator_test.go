package lora

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"personaapi/test"

	"github.com/stretchr/testify/assert"
)

// noisyPNG encodes a random-pixel image so compression cannot shrink it below
// the minimum file size.
func noisyPNG(t *testing.T, width, height int) []byte {
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func serveBytes(payloads map[string][]byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := payloads[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write(content)
	}))
}

func TestValidateGoodImage(t *testing.T) {
	server := serveBytes(map[string][]byte{
		"/good.png": noisyPNG(t, 1100, 1100),
	})
	defer server.Close()

	v := NewValidator(&test.FaceClientMock{})
	result := v.Validate(context.Background(), server.URL+"/good.png")

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1100, result.Width)
	assert.Equal(t, "png", result.Format)
	assert.True(t, result.FaceDetected)
	// 1100px min dim, large random file, square, confident face
	assert.GreaterOrEqual(t, result.QualityScore, 80.0)
}

func TestValidateRejectsTinyFile(t *testing.T) {
	server := serveBytes(map[string][]byte{
		"/tiny.png": []byte("not even close to an image"),
	})
	defer server.Close()

	v := NewValidator(&test.FaceClientMock{})
	result := v.Validate(context.Background(), server.URL+"/tiny.png")

	assert.False(t, result.IsValid)
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "File too small")
}

func TestValidateRejectsSmallDimensions(t *testing.T) {
	server := serveBytes(map[string][]byte{
		"/small.png": noisyPNG(t, 300, 300),
	})
	defer server.Close()

	v := NewValidator(&test.FaceClientMock{})
	result := v.Validate(context.Background(), server.URL+"/small.png")

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "Image too small")
}

func TestValidateRejectsUnreachableURL(t *testing.T) {
	server := serveBytes(map[string][]byte{})
	defer server.Close()

	v := NewValidator(&test.FaceClientMock{})
	result := v.Validate(context.Background(), server.URL+"/missing.png")

	assert.False(t, result.IsValid)
	assert.Contains(t, result.Errors[0], "Could not download image")
}

func TestValidateFaceOutageIsWarningOnly(t *testing.T) {
	server := serveBytes(map[string][]byte{
		"/good.png": noisyPNG(t, 1024, 1024),
	})
	defer server.Close()

	v := NewValidator(&test.FaceClientMock{DetectErr: fmt.Errorf("service down")})
	result := v.Validate(context.Background(), server.URL+"/good.png")

	assert.True(t, result.IsValid)
	assert.False(t, result.FaceDetected)
	assert.True(t, test.Contains(result.Warnings, "Face detection unavailable"))
}

func TestValidateWarnsOnExtremeAspect(t *testing.T) {
	server := serveBytes(map[string][]byte{
		"/wide.png": noisyPNG(t, 2000, 600),
	})
	defer server.Close()

	v := NewValidator(&test.FaceClientMock{})
	result := v.Validate(context.Background(), server.URL+"/wide.png")

	assert.True(t, result.IsValid)
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "aspect ratio") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateSetNeedsMinimum(t *testing.T) {
	payloads := map[string][]byte{}
	urls := []string{}
	server := serveBytes(payloads)
	defer server.Close()
	for i := 0; i < 3; i++ {
		path := fmt.Sprintf("/img%d.png", i)
		payloads[path] = noisyPNG(t, 800, 800)
		urls = append(urls, server.URL+path)
	}

	v := NewValidator(&test.FaceClientMock{})
	set := v.ValidateSet(context.Background(), urls)

	assert.False(t, set.IsValid)
	assert.Equal(t, 3, set.ValidCount)
	assert.Contains(t, set.Issues[0], "at least 5")
}

func TestValidateSetPassesWithRecommendation(t *testing.T) {
	payloads := map[string][]byte{}
	urls := []string{}
	server := serveBytes(payloads)
	defer server.Close()
	for i := 0; i < 6; i++ {
		path := fmt.Sprintf("/img%d.png", i)
		payloads[path] = noisyPNG(t, 1024, 1024)
		urls = append(urls, server.URL+path)
	}
	// one broken image must not sink the set
	urls = append(urls, server.URL+"/missing.png")

	v := NewValidator(&test.FaceClientMock{})
	set := v.ValidateSet(context.Background(), urls)

	assert.True(t, set.IsValid)
	assert.Equal(t, 6, set.ValidCount)
	assert.Equal(t, 1, set.InvalidCount)
	assert.Equal(t, 6, set.FacesDetected)
	// under the recommended count, nudge for more
	assert.Len(t, set.Recommendations, 1)
}

func TestQualityScoreClamps(t *testing.T) {
	// everything bad still lands at zero or above
	low := qualityScore(512, 20*1024, 3.0, false, true, true)
	assert.GreaterOrEqual(t, low, 0.0)

	high := qualityScore(2048, 800*1024, 1.0, true, false, false)
	assert.Equal(t, 100.0, high)

	// best case minus face confidence
	mid := qualityScore(1024, 600*1024, 1.0, false, false, false)
	assert.Equal(t, 95.0, mid)
}
