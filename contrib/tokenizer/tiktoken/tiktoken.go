package tiktoken

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sweetpotato0/veriflow/rag/tokenizer"
)

// Counter measures prompt evidence with an OpenAI BPE encoding, so the token
// budget matches what the model is billed for.
type Counter struct {
	enc *tiktoken.Tiktoken
}

var _ tokenizer.Counter = (*Counter)(nil)

var (
	mu        sync.Mutex
	encodings = map[string]*tiktoken.Tiktoken{}
)

// New resolves name as a model first and then as an encoding name, e.g.
// "gpt-4o-mini" or "cl100k_base". Encodings are loaded once per process.
func New(name string) (*Counter, error) {
	mu.Lock()
	defer mu.Unlock()
	if enc, ok := encodings[name]; ok {
		return &Counter{enc: enc}, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		enc, err = tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
	}
	encodings[name] = enc
	return &Counter{enc: enc}, nil
}

// CountTokens implements tokenizer.Counter. Special-token text is counted as
// ordinary text.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.EncodeOrdinary(text))
}
