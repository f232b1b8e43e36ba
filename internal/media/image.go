package media

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lucasnoah/reelfactory/internal/llm"
	"github.com/lucasnoah/reelfactory/internal/pipeline"
)

// DefaultPollinationsURL is the public Pollinations image endpoint.
const DefaultPollinationsURL = "https://image.pollinations.ai/prompt/"

// HTTPRenderer fetches images from a Pollinations-style endpoint that
// renders the URL-escaped prompt appended to BaseURL.
type HTTPRenderer struct {
	BaseURL string
	Model   string
	client  *http.Client
}

// NewHTTPRenderer returns a renderer for baseURL ("" for Pollinations).
func NewHTTPRenderer(baseURL, model string, client *http.Client) *HTTPRenderer {
	if baseURL == "" {
		baseURL = DefaultPollinationsURL
	}
	if model == "" {
		model = "flux"
	}
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &HTTPRenderer{BaseURL: baseURL, Model: model, client: client}
}

// minImageBytes rejects tiny bodies, which are error pages rather than images.
const minImageBytes = 100

func (r *HTTPRenderer) Render(ctx context.Context, req ImageRequest) (*Image, error) {
	if req.Prompt == "" {
		return nil, llm.NewError(llm.KindInvalid, "frame %s has no image prompt", req.FrameID)
	}
	start := time.Now()
	w, h := AspectSize(req.AspectRatio)
	q := url.Values{}
	q.Set("width", strconv.Itoa(w))
	q.Set("height", strconv.Itoa(h))
	q.Set("nologo", "true")
	q.Set("model", r.Model)
	q.Set("seed", strconv.FormatInt(req.Seed, 10))
	if req.NegativePrompt != "" {
		q.Set("negative", req.NegativePrompt)
	}
	u := r.BaseURL + url.PathEscape(req.Prompt) + "?" + q.Encode()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, llm.NewError(llm.KindInvalid, "build image request: %v", err)
	}
	hreq.Header.Set("User-Agent", "reelfactory/1.0")

	resp, err := r.client.Do(hreq)
	if err != nil {
		return nil, llm.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewError(llm.KindTransport, "read image body: %v", err)
	}
	if len(data) < minImageBytes {
		return nil, llm.NewError(llm.KindTransport, "image response too small (%d bytes)", len(data))
	}
	if err := pipeline.WriteAtomic(req.OutFile, data); err != nil {
		return nil, fmt.Errorf("write image: %w", err)
	}
	return &Image{Path: req.OutFile, Model: "pollinations", Elapsed: time.Since(start)}, nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return llm.NewError(llm.KindRateLimit, "image endpoint returned HTTP %d", code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return llm.NewError(llm.KindAuth, "image endpoint returned HTTP %d", code)
	case code == http.StatusUnavailableForLegalReasons:
		return llm.NewError(llm.KindPolicy, "image endpoint returned HTTP %d", code)
	case code >= 500 || code == http.StatusRequestTimeout:
		return llm.NewError(llm.KindTransport, "image endpoint returned HTTP %d", code)
	default:
		return llm.NewError(llm.KindInvalid, "image endpoint returned HTTP %d", code)
	}
}

// PlaceholderRenderer writes a flat-colour PNG per frame, coloured from
// the frame id so neighbouring frames are distinguishable.
type PlaceholderRenderer struct{}

func (PlaceholderRenderer) Render(ctx context.Context, req ImageRequest) (*Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	w, h := AspectSize(req.AspectRatio)
	// Rendered at a tenth of the output size; the encoder scales.
	img := image.NewRGBA(image.Rect(0, 0, w/10, h/10))
	c := frameColor(req.FrameID)
	for y := img.Rect.Min.Y; y < img.Rect.Max.Y; y++ {
		for x := img.Rect.Min.X; x < img.Rect.Max.X; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	if err := pipeline.WriteAtomic(req.OutFile, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("write placeholder: %w", err)
	}
	return &Image{Path: req.OutFile, Model: "mock", Elapsed: time.Since(start)}, nil
}

func frameColor(id string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(id))
	v := h.Sum32()
	return color.RGBA{R: 64 + uint8(v)%128, G: 64 + uint8(v>>8)%128, B: 64 + uint8(v>>16)%128, A: 255}
}
