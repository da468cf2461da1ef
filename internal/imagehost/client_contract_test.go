package imagehost

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

// TestHTTPClientSmoke uploads a tiny PNG to a running image host, such as
// cmd/imagehost-mock, named by IMAGEHOST_URL.
func TestHTTPClientSmoke(t *testing.T) {
	baseURL := os.Getenv("IMAGEHOST_URL")
	if baseURL == "" {
		t.Skip("IMAGEHOST_URL not provided")
	}
	apiKey := os.Getenv("IMAGEHOST_API_KEY")
	client, err := NewHTTPClient(baseURL, apiKey, 3*time.Second, zap.NewNop())
	if err != nil {
		t.Fatalf("create http client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url, err := client.Upload(ctx, Upload{Filename: "smoke.png", Body: bytes.NewReader(pngHeader)})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url == "" {
		t.Fatalf("empty url from image host")
	}
}
