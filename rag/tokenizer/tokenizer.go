package tokenizer

import "unicode"

// Counter reports how many model tokens a text consumes.
type Counter interface {
	CountTokens(text string) int
}

// CounterFunc adapts a plain function to Counter.
type CounterFunc func(text string) int

// CountTokens implements Counter.
func (f CounterFunc) CountTokens(text string) int { return f(text) }

// SimpleTokenizer estimates model tokens without a vocabulary download:
// letter/digit runs are one token, Han characters and punctuation are one
// each. It is the default Counter when no tiktoken encoding is configured.
type SimpleTokenizer struct{}

var _ Counter = (*SimpleTokenizer)(nil)

// NewSimpleTokenizer returns the heuristic counter.
func NewSimpleTokenizer() *SimpleTokenizer {
	return &SimpleTokenizer{}
}

// CountTokens implements Counter.
func (*SimpleTokenizer) CountTokens(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			inWord = false
		case unicode.Is(unicode.Han, r):
			inWord = false
			n++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
			}
			inWord = true
		default:
			inWord = false
			n++
		}
	}
	return n
}

// Fit returns the longest rune prefix of text whose token count stays within budget.
// A non-positive budget or nil counter leaves the text untouched.
func Fit(counter Counter, text string, budget int) string {
	if counter == nil || budget <= 0 || counter.CountTokens(text) <= budget {
		return text
	}
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.CountTokens(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// Budget spends a fixed number of tokens across several texts, such as the
// evidence items of one prompt. A nil counter or non-positive limit makes it
// unlimited.
type Budget struct {
	counter   Counter
	remaining int
	limited   bool
}

// NewBudget starts a budget of limit tokens measured by counter.
func NewBudget(counter Counter, limit int) *Budget {
	return &Budget{counter: counter, remaining: limit, limited: counter != nil && limit > 0}
}

// Remaining reports the tokens left, or -1 when unlimited.
func (b *Budget) Remaining() int {
	if !b.limited {
		return -1
	}
	return b.remaining
}

// Exhausted reports whether nothing more can be added.
func (b *Budget) Exhausted() bool {
	return b.limited && b.remaining <= 0
}

// Spend charges fixed plus body. When both do not fit, body is cut to the room
// left after fixed and the budget is emptied; truncated reports that case. ok
// is false when not even fixed fits, and nothing is charged.
func (b *Budget) Spend(fixed, body string) (fitted string, truncated, ok bool) {
	if !b.limited {
		return body, false, true
	}
	fixedCost := b.counter.CountTokens(fixed)
	if cost := fixedCost + b.counter.CountTokens(body); cost <= b.remaining {
		b.remaining -= cost
		return body, false, true
	}
	room := b.remaining - fixedCost
	if room <= 0 {
		return "", false, false
	}
	b.remaining = 0
	return Fit(b.counter, body, room), true, true
}
