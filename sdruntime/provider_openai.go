package sdruntime

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProviderConfig configures the remote images provider.
type OpenAIProviderConfig struct {
	APIKey  string
	BaseURL string // empty means api.openai.com
	Size    string // e.g. "1024x1024"

	// Model is used when the configured model id is not an OpenAI image
	// model (the defaults are Stable Diffusion hub ids).
	Model string

	HTTPClient *http.Client
}

// OpenAIProvider generates through the OpenAI images API. Generation and
// edit calls are plain HTTP requests, so its pipelines are reentrant. The
// API has no seed or strength parameters; both are ignored.
type OpenAIProvider struct {
	client     *openai.Client
	httpClient *http.Client
	size       string
	model      string
}

func NewOpenAIProvider(cfg OpenAIProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sdruntime: OpenAI API key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = httpClient

	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE2
	}
	size := cfg.Size
	if size == "" {
		size = openai.CreateImageSize1024x1024
	}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientConfig),
		httpClient: httpClient,
		size:       size,
		model:      model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Construct needs no network round trip; the device is irrelevant to a
// remote API and only recorded.
func (p *OpenAIProvider) Construct(_ context.Context, cp ConstructParams) (Pipeline, error) {
	model := p.model
	if isOpenAIImageModel(cp.ModelID) {
		model = cp.ModelID
	}
	return &openAIPipeline{provider: p, family: cp.Family, model: model}, nil
}

func isOpenAIImageModel(id string) bool {
	return strings.HasPrefix(id, "dall-e") || strings.HasPrefix(id, "gpt-image")
}

type openAIPipeline struct {
	provider *OpenAIProvider
	family   Family
	model    string
}

func (o *openAIPipeline) Reentrant() bool { return true }

func (o *openAIPipeline) Invoke(ctx context.Context, p InvokeParams) (image.Image, error) {
	var (
		resp openai.ImageResponse
		err  error
	)

	switch o.family {
	case FamilyText2Img:
		resp, err = o.provider.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         p.Prompt,
			Model:          o.model,
			N:              1,
			Size:           o.provider.size,
			ResponseFormat: o.responseFormat(),
		})
	case FamilyImg2Img, FamilyInpaint:
		req, cleanup, buildErr := o.editRequest(p)
		if buildErr != nil {
			return nil, buildErr
		}
		resp, err = o.provider.client.CreateEditImage(ctx, req)
		cleanup()
	default:
		return nil, fmt.Errorf("unsupported family %q", o.family)
	}
	if err != nil {
		return nil, fmt.Errorf("openai %s: %w", o.family, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai %s: response contained no images", o.family)
	}
	return o.decode(ctx, resp.Data[0])
}

// responseFormat asks DALL-E models for inline data. gpt-image models
// always return base64 and reject the parameter.
func (o *openAIPipeline) responseFormat() string {
	if strings.HasPrefix(o.model, "dall-e") {
		return openai.CreateImageResponseFormatB64JSON
	}
	return ""
}

// editRequest stages the source image and optional mask as temporary PNG
// files, which is how the client uploads multipart parts. The returned
// cleanup removes them.
func (o *openAIPipeline) editRequest(p InvokeParams) (openai.ImageEditRequest, func(), error) {
	var files []*os.File
	cleanup := func() {
		for _, f := range files {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}

	src, err := EncodePNG(p.Image)
	if err != nil {
		return openai.ImageEditRequest{}, cleanup, err
	}
	srcFile, err := stagePNG(src)
	if err != nil {
		return openai.ImageEditRequest{}, cleanup, err
	}
	files = append(files, srcFile)

	req := openai.ImageEditRequest{
		Image:          srcFile,
		Prompt:         p.Prompt,
		Model:          o.model,
		N:              1,
		Size:           o.provider.size,
		ResponseFormat: o.responseFormat(),
	}
	if p.Mask != nil {
		raw, err := EncodePNG(alphaMask(p.Mask, p.Image.Bounds()))
		if err != nil {
			cleanup()
			return openai.ImageEditRequest{}, func() {}, err
		}
		mask, err := stagePNG(raw)
		if err != nil {
			cleanup()
			return openai.ImageEditRequest{}, func() {}, err
		}
		files = append(files, mask)
		req.Mask = mask
	}
	return req, cleanup, nil
}

// stagePNG writes data to a temporary .png file positioned at its start.
func stagePNG(data []byte) (*os.File, error) {
	f, err := os.CreateTemp("", "retouch-*.png")
	if err != nil {
		return nil, fmt.Errorf("openai: stage upload: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("openai: stage upload: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("openai: stage upload: %w", err)
	}
	return f, nil
}

// alphaMask converts a white-means-repaint mask into the API's convention,
// where transparent pixels are the ones to edit. The result has the
// image's size.
func alphaMask(mask image.Image, target image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, target.Dx(), target.Dy()))
	weight := maskWeight(mask, target)
	for y := 0; y < target.Dy(); y++ {
		for x := 0; x < target.Dx(); x++ {
			out.SetNRGBA(x, y, color.NRGBA{A: 255 - uint8(weight(x, y)*255+0.5)})
		}
	}
	return out
}

func (o *openAIPipeline) decode(ctx context.Context, data openai.ImageResponseDataInner) (image.Image, error) {
	var raw []byte
	switch {
	case data.B64JSON != "":
		b, err := base64.StdEncoding.DecodeString(data.B64JSON)
		if err != nil {
			return nil, fmt.Errorf("openai: decode base64 image: %w", err)
		}
		raw = b
	case data.URL != "":
		b, err := o.fetch(ctx, data.URL)
		if err != nil {
			return nil, err
		}
		raw = b
	default:
		return nil, fmt.Errorf("openai: image has neither data nor URL")
	}
	return DecodeImage(raw)
}

func (o *openAIPipeline) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("openai: build download request: %w", err)
	}
	resp, err := o.provider.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: download image: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}
