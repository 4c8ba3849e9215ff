package filter

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
)

// DefaultFillers are interjections that carry no content on their own.
var DefaultFillers = []string{
	"嗯", "啊", "呃", "额", "哦", "噢", "呀", "哈", "嘿", "喂", "哼", "唉", "哎", "诶", "欸",
	"嗯嗯", "啊啊", "哦哦", "哈哈",
	"um", "umm", "uh", "uhh", "hmm", "mm", "er", "erm", "ah",
}

const fillerPunctuation = "。，、；：？！“”‘’（）【】《》.,;:?!\"'()[]<>…~-"

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Filter cleans recognized speech before it reaches the transcript. Literal
// substitutions run first; a line that is only a filler afterwards is dropped.
type Filter struct {
	rules     []compiledRule
	fillers   map[string]struct{}
	loopLimit int
}

// New loads rules from path on top of DefaultFillers. A missing file is not an error.
func New(path string, loopLimit int) (*Filter, error) {
	return NewWithParsers(path, loopLimit, defaultRuleParsers())
}

// NewWithParsers allows parser extension without filter changes.
func NewWithParsers(path string, loopLimit int, parsers []RuleParser) (*Filter, error) {
	if loopLimit <= 0 {
		loopLimit = 30
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	f := &Filter{loopLimit: loopLimit, fillers: make(map[string]struct{}, len(DefaultFillers))}
	for _, word := range DefaultFillers {
		f.fillers[normalize(word)] = struct{}{}
	}

	if strings.TrimSpace(path) == "" {
		return f, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("failed to read filter file %q: %w", path, err)
	}

	rules, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse filter file %q: %w", path, err)
	}
	for _, rule := range rules {
		if filler, ok := rule.(fillerRule); ok {
			f.fillers[filler.phrase] = struct{}{}
			continue
		}
		f.rules = append(f.rules, rule)
	}

	return f, nil
}

// Apply returns the cleaned text, or "" when nothing but filler remains.
func (f *Filter) Apply(text string) (string, error) {
	result := strings.TrimSpace(text)
	if len(f.rules) > 0 {
		for i := 0; i < f.loopLimit; i++ {
			changed := false
			for _, rule := range f.rules {
				next, ruleChanged := rule.Apply(result)
				if ruleChanged {
					result = next
					changed = true
				}
			}
			if !changed {
				break
			}
		}
		result = strings.TrimSpace(result)
	}

	if f.IsFiller(result) {
		return "", nil
	}
	return result, nil
}

// IsFiller reports whether text is empty or a known filler once punctuation is stripped.
func (f *Filter) IsFiller(text string) bool {
	key := normalize(text)
	if key == "" {
		return true
	}
	_, ok := f.fillers[key]
	return ok
}

func normalize(text string) string {
	trimmed := strings.TrimFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(fillerPunctuation, r)
	})
	return strings.ToLower(trimmed)
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			rules = append(rules, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return rules, nil
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{fillerRuleParser{}, literalRuleParser{}}
}

const fillerPrefix = "drop:"

type fillerRuleParser struct{}

func (fillerRuleParser) CanParse(line string) bool {
	return strings.HasPrefix(strings.ToLower(line), fillerPrefix)
}

func (fillerRuleParser) Parse(line string) (compiledRule, error) {
	phrase := normalize(line[len(fillerPrefix):])
	if phrase == "" {
		return nil, errors.New("filler rule phrase cannot be empty")
	}
	return fillerRule{phrase: phrase}, nil
}

// fillerRule marks a phrase as filler; it never rewrites text.
type fillerRule struct {
	phrase string
}

func (fillerRule) Apply(input string) (string, bool) {
	return input, false
}

type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalRuleParser) Parse(line string) (compiledRule, error) {
	return parseLiteralRule(line)
}

type literalRule struct {
	replacement string
	re          *regexp.Regexp
}

func parseLiteralRule(line string) (compiledRule, error) {
	parts := strings.SplitN(line, "=>", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid literal rule")
	}
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}

	return literalRule{replacement: to, re: re}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}
