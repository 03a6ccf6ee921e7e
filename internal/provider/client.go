package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const (
	PrimaryModel  = "gemini-2.5-flash-image-preview"
	FallbackModel = "gemini-1.5-pro"
)

// Request is one generateContent call. Image is nil for text-only requests.
type Request struct {
	Model       string
	Prompt      string
	Image       []byte
	MIMEType    string
	Temperature float64
	TopK        int
	TopP        float64
}

// Response carries the first inline image part, if any, and any text parts.
type Response struct {
	Image    []byte
	MIMEType string
	Text     string
}

// Client performs a single remote generation call without retrying.
type Client interface {
	GenerateContent(ctx context.Context, req Request) (*Response, error)
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// HTTPClient talks to a Gemini-compatible generateContent endpoint.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPClient returns a client for endpoint. rps <= 0 disables client-side
// rate limiting.
func NewHTTPClient(endpoint, apiKey string, rps float64, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	var limiter *rate.Limiter
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	parts := []part{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: req.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}
	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			TopK:            req.TopK,
			TopP:            req.TopP,
			MaxOutputTokens: 1024,
		},
	})
	if err != nil {
		return nil, terminal(err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.endpoint, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, terminal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, terminal(fmt.Errorf("decode response: %w", err))
	}
	return parseResponse(&out)
}

func parseResponse(out *generateResponse) (*Response, error) {
	r := &Response{}
	if len(out.Candidates) == 0 {
		return r, nil
	}
	var text []string
	for _, p := range out.Candidates[0].Content.Parts {
		if p.Text != "" {
			text = append(text, p.Text)
		}
		if p.InlineData != nil && r.Image == nil {
			img, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, terminal(errors.New("inline image is not valid base64"))
			}
			r.Image = img
			r.MIMEType = p.InlineData.MIMEType
		}
	}
	r.Text = strings.Join(text, "\n")
	return r, nil
}
