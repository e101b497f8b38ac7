package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

// Violation codes reported by ValidateDraft.
const (
	ViolationLineBreaks       = "line_breaks"
	ViolationEmptyBody        = "empty_body"
	ViolationMissingPeriod    = "missing_final_period"
	ViolationNegativePhrase   = "negative_expression"
	ViolationMetaCommentary   = "meta_commentary"
	ViolationMarkdownFormat   = "markdown_format"
	ViolationNoSentences      = "no_sentences"
	ViolationNonNominalEnding = "non_nominal_ending"
	ViolationLengthOutOfRange = "length_out_of_range"
)

const (
	DefaultDraftMinLength = 400
	DefaultDraftMaxLength = 500

	hangulFirst     = 0xAC00
	hangulLast      = 0xD7A3
	jongseongCount  = 28
	jongseongMieum  = 16
	trailingClosers = `"'”’)]}`
)

var lineBreakPattern = regexp.MustCompile(`[\r\n]`)

// ValidateOptions carries the length window. Length is guidance only unless EnforceLength is set.
type ValidateOptions struct {
	MinLength     int
	MaxLength     int
	EnforceLength bool
}

// DefaultValidateOptions returns the 400-500 window with enforcement off.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{MinLength: DefaultDraftMinLength, MaxLength: DefaultDraftMaxLength}
}

type phraseRule struct {
	code    string
	message string
	pattern *regexp.Regexp
}

// phraseRules run against the normalized text in declaration order.
var phraseRules = []phraseRule{
	{
		code:    ViolationNegativePhrase,
		message: "부정적으로 보일 수 있는 금지 표현이 포함됨.",
		pattern: regexp.MustCompile(`(하지만|임에도|부족하|미흡하|문제점|결함|한계)`),
	},
	{
		code:    ViolationMetaCommentary,
		message: "메타 설명/검증 문구가 포함됨.",
		pattern: regexp.MustCompile(`(메타|분석|검증|글자수|자체\s*점검|체크리스트)`),
	},
	{
		code:    ViolationMarkdownFormat,
		message: "목록/제목 같은 마크다운 유사 서식이 포함됨.",
		pattern: regexp.MustCompile(`(?m)(^|\s)([-*•]|#{1,6}|\d+\.)\s+`),
	},
}

// ValidateDraft checks a candidate draft against the behavior-record style rules and
// collects every violation. Line breaks are detected on the raw text; everything else
// runs on the normalized text.
func ValidateDraft(text string, opts ValidateOptions) models.ViolationReport {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultDraftMinLength
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultDraftMaxLength
	}

	violations := make([]models.Violation, 0)
	add := func(code, message string) {
		violations = append(violations, models.Violation{Code: code, Message: message})
	}

	if lineBreakPattern.MatchString(text) {
		add(ViolationLineBreaks, "줄바꿈이 포함됨.")
	}

	normalized := NormalizeDraftText(text)
	if normalized == "" {
		add(ViolationEmptyBody, "본문이 비어 있음.")
		return models.ViolationReport{Valid: false, Violations: violations}
	}

	if !strings.HasSuffix(normalized, ".") {
		add(ViolationMissingPeriod, "본문이 마침표(.)로 끝나지 않음.")
	}

	for _, rule := range phraseRules {
		if rule.pattern.MatchString(normalized) {
			add(rule.code, rule.message)
		}
	}

	sentences := splitSentences(normalized)
	if len(sentences) == 0 {
		add(ViolationNoSentences, "문장이 없음.")
	} else if positions := nonNominalPositions(sentences); len(positions) > 0 {
		add(ViolationNonNominalEnding, fmt.Sprintf("명사형 종결어미(받침 ㅁ)로 끝나지 않은 문장: %s.", strings.Join(positions, ", ")))
	}

	if opts.EnforceLength {
		if length := utf8.RuneCountInString(normalized); length < opts.MinLength || length > opts.MaxLength {
			add(ViolationLengthOutOfRange, fmt.Sprintf("글자 수가 %d~%d자 범위를 벗어남(현재 %d자).", opts.MinLength, opts.MaxLength, length))
		}
	}

	return models.ViolationReport{Valid: len(violations) == 0, Violations: violations}
}

// EndsWithNominalEnding reports whether the sentence's last Hangul syllable carries the
// final consonant ㅁ, ignoring trailing quotes and closing brackets.
func EndsWithNominalEnding(sentence string) bool {
	trimmed := strings.TrimSpace(strings.TrimRight(sentence, trailingClosers))
	if trimmed == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(trimmed)
	if last < hangulFirst || last > hangulLast {
		return false
	}
	return (last-hangulFirst)%jongseongCount == jongseongMieum
}

func splitSentences(text string) []string {
	parts := strings.Split(text, ".")
	sentences := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

func nonNominalPositions(sentences []string) []string {
	var positions []string
	for i, sentence := range sentences {
		if !EndsWithNominalEnding(sentence) {
			positions = append(positions, strconv.Itoa(i+1))
		}
	}
	return positions
}
