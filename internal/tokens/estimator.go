// Package tokens estimates language-model token counts for prompt payloads.
package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

const (
	// DefaultFallbackEncoding is used for models tiktoken does not know.
	DefaultFallbackEncoding = "cl100k_base"

	// DefaultEstimate is returned when no encoding can be loaded at all.
	DefaultEstimate = 300

	// Chat framing overhead, following the OpenAI cookbook accounting.
	tokensPerMessage  = 4
	tokensReplyPrimer = 3
)

var loaderOnce sync.Once

// Message is the minimal chat message shape the estimator needs.
type Message struct {
	Role    string
	Content string
}

// Estimator counts tokens with the BPE encoding of the target model.
// Encoders are loaded lazily and cached per model. It is safe for
// concurrent use.
type Estimator struct {
	fallbackEncoding string
	defaultEstimate  int
	encoders         sync.Map // model -> *tiktoken.Tiktoken, nil when no encoding is available
}

// New creates an Estimator. An empty fallbackEncoding disables the
// encoding fallback; defaultEstimate <= 0 uses DefaultEstimate.
func New(fallbackEncoding string, defaultEstimate int) *Estimator {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	if defaultEstimate <= 0 {
		defaultEstimate = DefaultEstimate
	}
	return &Estimator{fallbackEncoding: fallbackEncoding, defaultEstimate: defaultEstimate}
}

// Estimate returns the token count of text for model. It never fails: when
// the model's encoding cannot be resolved it returns the configured default.
func (e *Estimator) Estimate(text, model string) int {
	if text == "" {
		return 0
	}
	enc := e.encoder(model)
	if enc == nil {
		return e.defaultEstimate
	}
	n, ok := safeCount(enc, text)
	if !ok {
		return e.defaultEstimate
	}
	return n
}

// EstimateMessages returns the token count of a chat request body.
func (e *Estimator) EstimateMessages(msgs []Message, model string) int {
	total := tokensReplyPrimer
	for _, m := range msgs {
		total += tokensPerMessage + e.Estimate(m.Role, model) + e.Estimate(m.Content, model)
	}
	return total
}

// Truncate cuts text to at most maxTokens tokens. Text is returned unchanged
// when it already fits or no encoding is available.
func (e *Estimator) Truncate(text, model string, maxTokens int) string {
	if maxTokens <= 0 || text == "" {
		return text
	}
	enc := e.encoder(model)
	if enc == nil {
		return text
	}
	ids := enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return enc.Decode(ids[:maxTokens])
}

func (e *Estimator) encoder(model string) *tiktoken.Tiktoken {
	if v, ok := e.encoders.Load(model); ok {
		return v.(*tiktoken.Tiktoken)
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil && e.fallbackEncoding != "" {
		slog.Debug("no encoding for model, using fallback", "model", model, "encoding", e.fallbackEncoding)
		enc, err = tiktoken.GetEncoding(e.fallbackEncoding)
	}
	if err != nil {
		slog.Warn("token encoding unavailable, using default estimate", "model", model, "error", err)
		enc = nil
	}

	actual, _ := e.encoders.LoadOrStore(model, enc)
	return actual.(*tiktoken.Tiktoken)
}

func safeCount(enc *tiktoken.Tiktoken, text string) (n int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("token encoding panicked", "panic", r)
			n, ok = 0, false
		}
	}()
	return len(enc.Encode(text, nil, nil)), true
}
