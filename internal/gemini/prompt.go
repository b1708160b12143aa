package gemini

import (
	"bufio"
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// EmptyInput replaces prompts that are blank or hit the keyword filter
// ("the user entered nothing").
const EmptyInput = "使用者沒有輸入"

const (
	SystemRuleFile  = "system_rule.txt"
	KeywordListFile = "keyword_list.txt"
)

// Prompter turns raw chat messages into prompts. It holds the system rule and
// a list of keywords that mark an input as a prompt-injection attempt.
type Prompter struct {
	SystemRule string
	Keywords   []string
}

// LoadPrompter reads the system rule and keyword list from dir. Missing files
// are logged and leave the corresponding field empty.
func LoadPrompter(dir string, logger *slog.Logger) (*Prompter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Prompter{}

	rule, err := os.ReadFile(filepath.Join(dir, SystemRuleFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("system rule not found, using empty rule", "path", filepath.Join(dir, SystemRuleFile))
	case err != nil:
		return nil, err
	default:
		p.SystemRule = strings.TrimSpace(string(rule))
	}

	kw, err := os.ReadFile(filepath.Join(dir, KeywordListFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("keyword list not found, using empty list", "path", filepath.Join(dir, KeywordListFile))
	case err != nil:
		return nil, err
	default:
		p.Keywords = parseKeywords(kw)
	}

	return p, nil
}

func parseKeywords(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Prepare strips mentions of botID from content and applies the keyword
// filter.
func (p *Prompter) Prepare(content, botID string) string {
	if botID != "" {
		content = strings.ReplaceAll(content, "<@"+botID+">", "")
		content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	}
	content = strings.TrimSpace(content)
	if content == "" || p.Filtered(content) {
		return EmptyInput
	}
	return content
}

// Filtered reports whether content contains any filter keyword.
func (p *Prompter) Filtered(content string) bool {
	for _, kw := range p.Keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

// Request builds a generation request for a prepared prompt.
func (p *Prompter) Request(prompt string) Request {
	return Request{System: p.SystemRule, Prompt: prompt}
}
