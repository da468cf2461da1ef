package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/logging"
)

var (
	// ErrUnsupportedType is returned for files that are neither JPEG nor PNG.
	ErrUnsupportedType = errors.New("imagehost: only jpeg and png images are accepted")
	// ErrImageTooLarge is returned for files over MaxImageBytes.
	ErrImageTooLarge = errors.New("imagehost: image exceeds the size limit")
	// ErrUpstream wraps transport failures and unexpected answers from the host.
	ErrUpstream = errors.New("imagehost: upstream failure")
)

// MaxImageBytes caps a single upload.
const MaxImageBytes = 10 << 20

// Upload is one image file to store.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Client defines the contract for storing images on the upstream host.
type Client interface {
	Upload(ctx context.Context, upload Upload) (string, error)
}

// HTTPClient implements Client over HTTP.
type HTTPClient struct {
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient constructs a new HTTP-backed image host client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) (*HTTPClient, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse image host url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("parse image host url: %q is not absolute", baseURL)
	}
	return &HTTPClient{
		baseURL: parsed,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   timeout,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   timeout,
				ResponseHeaderTimeout: timeout,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
		logger: logging.OrNop(logger),
	}, nil
}

// Upload posts the image to /upload and returns the public URL reported by the host.
func (c *HTTPClient) Upload(ctx context.Context, upload Upload) (string, error) {
	data, err := io.ReadAll(io.LimitReader(upload.Body, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, MaxImageBytes)
	}
	contentType, err := DetectContentType(upload.ContentType, data)
	if err != nil {
		return "", err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, safeFilename(upload.Filename, contentType)))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: path.Join("/", c.baseURL.Path, "upload")})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var payload apiResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
		}
		resolved, err := resolveImageURL(c.baseURL, payload.URL)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUpstream, err)
		}
		return resolved, nil
	case http.StatusUnsupportedMediaType:
		return "", ErrUnsupportedType
	case http.StatusRequestEntityTooLarge:
		return "", ErrImageTooLarge
	default:
		c.logger.Warn("imagehost: unexpected status",
			zap.Int("status", resp.StatusCode),
			zap.String("filename", upload.Filename),
		)
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
}

type apiResponse struct {
	URL string `json:"url"`
}

// DetectContentType trusts a declared jpeg/png type and otherwise sniffs the bytes.
func DetectContentType(declared string, data []byte) (string, error) {
	for _, candidate := range []string{declared, http.DetectContentType(data)} {
		mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(candidate, ";", 2)[0]))
		switch mediaType {
		case "image/jpeg", "image/jpg":
			return "image/jpeg", nil
		case "image/png":
			return "image/png", nil
		}
	}
	return "", ErrUnsupportedType
}

// resolveImageURL turns the host's reply into an absolute URL.
func resolveImageURL(base *url.URL, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("imagehost: response did not include a url")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("imagehost: invalid url in response: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func safeFilename(name, contentType string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "image"
	}
	if path.Ext(name) == "" {
		if contentType == "image/png" {
			name += ".png"
		} else {
			name += ".jpg"
		}
	}
	return name
}
