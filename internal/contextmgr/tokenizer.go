// Package contextmgr keeps the upstream model's context window usable:
// it estimates token cost, assembles the per-turn prompt context, and
// compresses old history without ever touching the active plan.
package contextmgr

import (
	"strings"
	"sync"

	"planit/internal/chat"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// CharsPerToken 启发式回退的固定字符/token 比例
// CharsPerToken is the fixed character-to-token ratio used by the
// heuristic fallback.
const CharsPerToken = 4

// Tokenizer 精确 token 计数器，支持 tiktoken 和启发式回退
// Tokenizer provides precise token counting with tiktoken and a
// heuristic fallback for offline environments.
type Tokenizer struct {
	encoder      *tiktoken.Tiktoken
	encodingName string
	fallback     bool
	mu           sync.RWMutex
}

// NewTokenizer 创建 tokenizer，如果 tiktoken 初始化失败则回退到启发式
// NewTokenizer creates a tokenizer, falling back to the heuristic if
// tiktoken initialization fails (no BPE cache available).
func NewTokenizer(encodingName string) *Tokenizer {
	t := &Tokenizer{encodingName: encodingName}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		t.fallback = true
		return t
	}
	t.encoder = enc
	return t
}

// NewTokenizerForModel 根据模型名自动选择编码
// NewTokenizerForModel auto-selects the encoding for a model name.
func NewTokenizerForModel(model string) *Tokenizer {
	return NewTokenizer(modelToEncoding(model))
}

// Count 计算消息列表的总 token 数
// Count returns the total token estimate for a message list.
func (t *Tokenizer) Count(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		// ~4 tokens of per-message structural overhead.
		total += 4 + t.CountText(string(msg.Role)) + t.CountText(msg.Content)
	}
	return total
}

// CountText 计算单个文本的 token 数
// CountText counts tokens for a single text string.
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.fallback {
		return heuristicTokenCount(text)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.encoder.Encode(text, nil, nil))
}

// IsPrecise 返回是否使用精确计数
// IsPrecise returns whether precise counting is available.
func (t *Tokenizer) IsPrecise() bool {
	return !t.fallback
}

// heuristicTokenCount 启发式估算: ASCII 按 chars/4, CJK 按 1.5 token/字
// heuristicTokenCount estimates ASCII at chars/4 and CJK at ~1.5
// tokens per character.
func heuristicTokenCount(text string) int {
	cjkCount := 0
	asciiCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			asciiCount++
		}
	}
	estimate := int(float64(cjkCount)*1.5) + asciiCount/CharsPerToken
	if estimate < 1 {
		estimate = 1
	}
	return estimate
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols
		(r >= 0xFF00 && r <= 0xFFEF) || // Fullwidth Forms
		(r >= 0xAC00 && r <= 0xD7AF) // Korean Hangul
}

// modelToEncoding 根据模型名推断编码
// modelToEncoding maps a model name to an encoding name.
func modelToEncoding(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "":
		return "cl100k_base"
	case strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return "o200k_base"
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "chatgpt-4o"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}
