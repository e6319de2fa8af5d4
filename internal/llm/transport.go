package llm

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/kevinmichaelchen/star-catalog/internal/config"
)

// samplingTransport writes the configured sampling parameters into chat
// completion bodies. The go-openai request type has no top_k field and
// drops zero temperature, top_p and frequency_penalty (omitempty), so a
// configured 0 would otherwise fall back to the provider default.
type samplingTransport struct {
	base   http.RoundTripper
	params map[string]json.RawMessage
}

func newSamplingTransport(base http.RoundTripper, cfg config.OpenAIConfig) *samplingTransport {
	params := map[string]json.RawMessage{}
	set := func(key string, v any) {
		if b, err := json.Marshal(v); err == nil {
			params[key] = b
		}
	}
	set("temperature", cfg.Temperature)
	set("top_p", cfg.TopP)
	set("frequency_penalty", cfg.FrequencyPenalty)
	if cfg.TopK > 0 {
		set("top_k", cfg.TopK)
	}
	return &samplingTransport{base: base, params: params}
}

func (t *samplingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.params) == 0 || req.Body == nil || req.Method != http.MethodPost ||
		!strings.HasSuffix(req.URL.Path, "/chat/completions") {
		return t.base.RoundTrip(req)
	}

	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	out := body
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err == nil {
		for k, v := range t.params {
			payload[k] = v
		}
		if b, err := json.Marshal(payload); err == nil {
			out = b
		}
	}

	clone := req.Clone(req.Context())
	clone.Body = io.NopCloser(bytes.NewReader(out))
	clone.ContentLength = int64(len(out))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(out)), nil
	}
	return t.base.RoundTrip(clone)
}
