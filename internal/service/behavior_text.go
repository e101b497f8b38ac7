package service

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxDraftChars is the hard upper bound applied by CharacterGuideline and TruncateToCompleteSentence.
const maxDraftChars = 500

var (
	whitespaceRunPattern = regexp.MustCompile(`[\s\v\p{Z}\x{FEFF}]+`)
	subjectTokenPattern  = regexp.MustCompile(`(학생은|학생이|OO는|OO가)[\s\v\p{Z}]*`)
	completeEndPattern   = regexp.MustCompile(`[함음임됨봄옴줌춤움늠름다요까니][.!?]\s*$`)
	sentenceBreakPattern = regexp.MustCompile(`[.!?]\s+`)

	// metaMarkerPatterns are applied in order; trailing length markers are only stripped at the end of the text.
	metaMarkerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\([^)]*\d+자[^)]*\)`),
		regexp.MustCompile(`\s*\([^)]*글자[^)]*\)`),
		regexp.MustCompile(`\s*\([^)]*자세한[^)]*\)`),
		regexp.MustCompile(`\s*\([^)]*내용\s*포함[^)]*\)`),
		regexp.MustCompile(`\s*[-─]+\s*\d+자\s*$`),
		regexp.MustCompile(`\s*\[\d+자\]\s*$`),
		regexp.MustCompile(`\s*\d+자\s*$`),
		regexp.MustCompile(`\s*\[분석[^\]]*\]`),
		regexp.MustCompile(`\s*\[검증[^\]]*\]`),
	}
)

// NormalizeDraftText flattens a draft into one paragraph and drops subject markers.
// It is total and idempotent.
func NormalizeDraftText(text string) string {
	current := collapseWhitespace(text)
	for {
		next := collapseWhitespace(subjectTokenPattern.ReplaceAllString(current, ""))
		if next == current {
			return current
		}
		current = next
	}
}

// CleanMetaInfo removes length annotations and analysis/verification markers the model
// sometimes appends, e.g. "(약 500자)", "[330자]", "--- 330자" or "[검증 완료]".
func CleanMetaInfo(text string) string {
	if text == "" {
		return text
	}
	cleaned := text
	for _, pattern := range metaMarkerPatterns {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}

// CharacterGuideline renders the length instruction block inserted into prompts. Shorter
// targets get a larger buffer below the cap.
func CharacterGuideline(targetChars int) string {
	maxAllowed := targetChars
	if maxAllowed > maxDraftChars {
		maxAllowed = maxDraftChars
	}

	var ratio float64
	switch {
	case targetChars <= 100:
		ratio = 0.70
	case targetChars <= 150:
		ratio = 0.75
	case targetChars <= 200:
		ratio = 0.80
	case targetChars <= 300:
		ratio = 0.85
	default:
		ratio = 0.90
	}
	promptLimit := int(float64(maxAllowed) * ratio)

	var b strings.Builder
	b.WriteString("\n<글자수 제한>\n")
	fmt.Fprintf(&b, "전체 글자수: %d자 이하 (공백 포함, 초과 불가)\n", maxAllowed)
	fmt.Fprintf(&b, "목표: %d자 ~ %d자\n\n", promptLimit, maxAllowed)
	b.WriteString("작성 방법:\n")
	fmt.Fprintf(&b, "1. %d자 제한을 인지하고 계획적으로 작성\n", maxAllowed)
	b.WriteString("2. 모든 문장은 완전한 종결어미로 끝냄\n")
	fmt.Fprintf(&b, "3. 최종 출력은 %d자 이하, 완전한 문장으로 끝냄\n", maxAllowed)
	return b.String()
}

// TruncateToCompleteSentence keeps as many whole sentences as fit in targetChars (capped at 500).
// Sentences missing terminal punctuation get a period appended.
func TruncateToCompleteSentence(text string, targetChars int) string {
	cleaned := CleanMetaInfo(text)
	if cleaned == "" {
		return ""
	}

	maxAllowed := targetChars
	if maxAllowed > maxDraftChars {
		maxAllowed = maxDraftChars
	}

	if utf8.RuneCountInString(cleaned) <= maxAllowed && completeEndPattern.MatchString(cleaned) {
		return cleaned
	}

	result := ""
	for _, sentence := range splitOnTerminalPunctuation(cleaned) {
		trimmed := strings.TrimSpace(sentence)
		if !strings.HasSuffix(trimmed, ".") && !strings.HasSuffix(trimmed, "!") && !strings.HasSuffix(trimmed, "?") {
			trimmed += "."
		}
		candidate := trimmed
		if result != "" {
			candidate = result + " " + trimmed
		}
		if utf8.RuneCountInString(candidate) > maxAllowed {
			break
		}
		result = candidate
	}
	return strings.TrimSpace(result)
}

func collapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRunPattern.ReplaceAllString(text, " "))
}

// splitOnTerminalPunctuation splits at whitespace runs that follow '.', '!' or '?'.
func splitOnTerminalPunctuation(text string) []string {
	var parts []string
	start := 0
	for _, loc := range sentenceBreakPattern.FindAllStringIndex(text, -1) {
		if part := text[start : loc[0]+1]; strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
		start = loc[1]
	}
	if rest := text[start:]; strings.TrimSpace(rest) != "" {
		parts = append(parts, rest)
	}
	return parts
}
