package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPEncoder calls a model server exposing POST /embeddings.
type HTTPEncoder struct {
	baseURL string
	http    *http.Client
}

func NewHTTPEncoder(baseURL string, timeout time.Duration) *HTTPEncoder {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEncoder{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

func (e *HTTPEncoder) EncodeBatch(ctx context.Context, texts []string, model string) ([][]float32, error) {
	url := fmt.Sprintf("%s/embeddings", e.baseURL)
	buf, _ := json.Marshal(embedRequest{Texts: texts, Model: model})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("embedding server returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding server returned %d vectors for %d texts", len(er.Embeddings), len(texts))
	}
	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		v := make([]float32, len(emb))
		for j, f := range emb {
			v[j] = float32(f)
		}
		out[i] = v
	}
	return out, nil
}
