package gate

import (
	"strings"

	"github.com/m3rciful/charmbot/sessions"
)

// Classifier is a case-insensitive keyword matcher over message text.
type Classifier struct {
	keywords []string
}

// NewClassifier builds a matcher from keywords. Empty or blank entries are
// dropped; matching is substring-based on the lowercased text.
func NewClassifier(keywords []string) *Classifier {
	kept := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kept = append(kept, k)
		}
	}
	return &Classifier{keywords: kept}
}

// Match reports whether the text contains any keyword.
func (c *Classifier) Match(text string) bool {
	if c == nil || len(c.keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// MatchAny reports whether the text or any recent user turn matches.
func (c *Classifier) MatchAny(text string, window []sessions.Turn) bool {
	if c.Match(text) {
		return true
	}
	for i := len(window) - 1; i >= 0; i-- {
		if window[i].Role != "user" {
			continue
		}
		if c.Match(window[i].Text) {
			return true
		}
	}
	return false
}

// DefaultEscalationKeywords match requests for content beyond free chat.
func DefaultEscalationKeywords() []string {
	return []string{
		"foto", "fotos", "vídeo", "video", "áudio", "audio",
		"mostra", "me mostra", "sem roupa", "lingerie", "safada",
		"gostosa", "quente", "provocante",
	}
}

// DefaultUpsellKeywords match purchase-interest signals inside the natural
// upsell band.
func DefaultUpsellKeywords() []string {
	return []string{
		"quero mais", "quanto custa", "como assim", "pagar",
		"assinar", "liberar", "acesso", "premium", "vip",
	}
}
