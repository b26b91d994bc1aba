// Package pytts provides a TTS provider backed by the Python synthesis sidecar
// via its REST API. It implements the tts.Provider interface.
//
// The sidecar operates in batch mode (one HTTP call per sentence). Synthesis is
// performed via POST /tts with a JSON body; the speaker catalogue is retrieved
// from GET /speakers. The sidecar responds either with raw audio bytes
// (Content-Type audio/*) or with a JSON envelope carrying base64 audio,
// depending on its version; both shapes are handled transparently.
//
// Typical usage:
//
//	p, err := pytts.New("http://localhost:8000",
//	    pytts.WithFormat("wav"),
//	    pytts.WithTimeout(15*time.Second),
//	)
//	audio, err := p.Synthesize(ctx, tts.SynthesisRequest{Text: "你好。", SpeakerID: "paimon"})
package pytts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/kaiwa-ai/kaiwa/pkg/provider/tts"
	"github.com/kaiwa-ai/kaiwa/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	defaultFormat  = "wav"
	defaultTimeout = 30 * time.Second

	ttsEndpoint      = "/tts"
	speakersEndpoint = "/speakers"

	// maxAudioBytes caps the response size read from the sidecar. A single
	// sentence never legitimately exceeds this.
	maxAudioBytes = 32 << 20
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithFormat sets the default audio container requested from the sidecar
// (e.g., "wav", "mp3"). Defaults to "wav" if not set. A per-request Format
// overrides this.
func WithFormat(format string) Option {
	return func(p *Provider) {
		p.format = format
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the sidecar.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the internal HTTP client. Use this to share a
// connection pool or to inject a transport in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the Python synthesis sidecar.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	format     string
	httpClient *http.Client
}

// New creates a Provider that targets the sidecar at serverURL
// (e.g., "http://localhost:8000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("pytts: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		format:    defaultFormat,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts.
type ttsRequest struct {
	Text      string  `json:"text"`
	SpeakerID string  `json:"speaker_id,omitempty"`
	Speed     float64 `json:"speed,omitempty"`
	Format    string  `json:"format"`
}

// ttsJSONResponse is the JSON envelope some sidecar versions return instead of
// raw audio bytes.
type ttsJSONResponse struct {
	Audio  string `json:"audio"`
	Format string `json:"format,omitempty"`
	Error  string `json:"error,omitempty"`
}

// speakerEntry is one element of the GET /speakers response.
type speakerEntry struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Synthesize performs a single POST /tts call and returns the encoded audio.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("pytts: text must not be empty")
	}

	format := req.Format
	if format == "" {
		format = p.format
	}

	body := ttsRequest{
		Text:      req.Text,
		SpeakerID: req.SpeakerID,
		Speed:     req.Speed,
		Format:    format,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("pytts: marshal tts request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pytts: create tts request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/*, application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pytts: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pytts: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("pytts: read tts response: %w", err)
	}

	// JSON envelope variant: {"audio": "<base64>"}.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var env ttsJSONResponse
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("pytts: decode tts response: %w", err)
		}
		if env.Error != "" {
			return nil, fmt.Errorf("pytts: sidecar error: %s", env.Error)
		}
		audio, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return nil, fmt.Errorf("pytts: decode base64 audio: %w", err)
		}
		if len(audio) == 0 {
			return nil, errors.New("pytts: sidecar returned empty audio")
		}
		return audio, nil
	}

	if len(raw) == 0 {
		return nil, errors.New("pytts: sidecar returned empty audio")
	}
	return raw, nil
}

// ListSpeakers retrieves the speaker catalogue from GET /speakers.
func (p *Provider) ListSpeakers(ctx context.Context) ([]types.SpeakerProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+speakersEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pytts: create list-speakers request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pytts: GET %s: %w", speakersEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pytts: GET %s returned status %d", speakersEndpoint, resp.StatusCode)
	}

	var entries []speakerEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("pytts: decode speakers response: %w", err)
	}

	// Sort by ID for deterministic output.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	profiles := make([]types.SpeakerProfile, 0, len(entries))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = e.ID
		}
		profiles = append(profiles, types.SpeakerProfile{
			ID:       e.ID,
			Name:     name,
			Speed:    1.0,
			Metadata: e.Metadata,
		})
	}
	return profiles, nil
}
