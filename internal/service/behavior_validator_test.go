package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func codes(t *testing.T, text string, opts ValidateOptions) []string {
	t.Helper()
	report := ValidateDraft(text, opts)
	out := make([]string, 0, len(report.Violations))
	for _, v := range report.Violations {
		out = append(out, v.Code)
	}
	return out
}

func TestValidateDraftMissingPeriodExample(t *testing.T) {
	text := "친구와 갈등 상황에서 스스로 해결책을 찾으려 노력함"

	report := ValidateDraft(text, DefaultValidateOptions())
	assert.False(t, report.Valid)
	assert.Contains(t, codes(t, text, DefaultValidateOptions()), ViolationMissingPeriod)
	assert.Contains(t, report.Messages(), "본문이 마침표(.)로 끝나지 않음.")

	fixed := ValidateDraft(text+".", DefaultValidateOptions())
	assert.True(t, fixed.Valid)
	assert.Empty(t, fixed.Violations)
}

func TestValidateDraftNegativePhraseExample(t *testing.T) {
	text := "수업에 성실히 참여함. 하지만 소극적인 모습을 보임."
	assert.False(t, ValidateDraft(text, DefaultValidateOptions()).Valid)
	assert.Contains(t, codes(t, text, DefaultValidateOptions()), ViolationNegativePhrase)
}

func TestValidateDraftLineBreaksOnRawText(t *testing.T) {
	report := ValidateDraft("성실함.\n책임감이 강함.", DefaultValidateOptions())
	assert.Equal(t, []string{ViolationLineBreaks}, codes(t, "성실함.\n책임감이 강함.", DefaultValidateOptions()))
	assert.False(t, report.Valid)
}

func TestValidateDraftEmptyBodyStopsEarly(t *testing.T) {
	assert.Equal(t, []string{ViolationEmptyBody}, codes(t, "   ", DefaultValidateOptions()))
	assert.Equal(t, []string{ViolationLineBreaks, ViolationEmptyBody}, codes(t, "\n\n", DefaultValidateOptions()))
	assert.Equal(t, []string{ViolationEmptyBody}, codes(t, "학생은", DefaultValidateOptions()))
}

func TestValidateDraftMetaAndMarkdown(t *testing.T) {
	assert.Contains(t, codes(t, "자료를 분석하여 정리함.", DefaultValidateOptions()), ViolationMetaCommentary)
	assert.Contains(t, codes(t, "- 성실함. - 배려함.", DefaultValidateOptions()), ViolationMarkdownFormat)
	assert.Contains(t, codes(t, "## 종합 의견 성실함.", DefaultValidateOptions()), ViolationMarkdownFormat)
	assert.Contains(t, codes(t, "1. 성실함.", DefaultValidateOptions()), ViolationMarkdownFormat)
}

func TestValidateDraftReportsNonNominalPositions(t *testing.T) {
	text := "수업에 성실히 참여함. 친구를 잘 도와줍니다. 책임감이 강함. 발표를 잘한다."
	report := ValidateDraft(text, DefaultValidateOptions())
	require.False(t, report.Valid)
	assert.Equal(t, []string{ViolationNonNominalEnding}, codes(t, text, DefaultValidateOptions()))
	assert.Equal(t, "명사형 종결어미(받침 ㅁ)로 끝나지 않은 문장: 2, 4.", report.Violations[0].Message)
}

func TestValidateDraftNoSentences(t *testing.T) {
	assert.Contains(t, codes(t, "...", DefaultValidateOptions()), ViolationNoSentences)
}

func TestValidateDraftAcceptedTextEndsNominal(t *testing.T) {
	texts := []string{
		"수업에 성실히 참여함. 친구들과 원만한 관계를 유지함.",
		"\"배려심이 깊음\". 맡은 일을 끝까지 해냄.",
		"리더십이 돋보임(학급 회의). 책임감이 강함.",
	}
	for _, text := range texts {
		report := ValidateDraft(text, DefaultValidateOptions())
		if !report.Valid {
			continue
		}
		for _, sentence := range splitSentences(NormalizeDraftText(text)) {
			assert.True(t, EndsWithNominalEnding(sentence), "sentence %q", sentence)
		}
	}
	assert.True(t, ValidateDraft(texts[0], DefaultValidateOptions()).Valid)
}

func TestValidateDraftDeterministic(t *testing.T) {
	inputs := []string{
		"",
		"성실함",
		"하지만 분석함.\n- 목록",
		"수업에 성실히 참여함. 친구를 돕습니다.",
	}
	for _, in := range inputs {
		first := ValidateDraft(NormalizeDraftText(in), DefaultValidateOptions())
		second := ValidateDraft(NormalizeDraftText(in), DefaultValidateOptions())
		assert.Equal(t, first, second, "input %q", in)
	}
}

func TestValidateDraftLengthIsGuidanceByDefault(t *testing.T) {
	short := "성실함."
	assert.True(t, ValidateDraft(short, DefaultValidateOptions()).Valid)

	opts := DefaultValidateOptions()
	opts.EnforceLength = true
	report := ValidateDraft(short, opts)
	assert.Contains(t, codes(t, short, opts), ViolationLengthOutOfRange)
	assert.Contains(t, report.Messages(), "글자 수가 400~500자 범위를 벗어남(현재 4자).")

	long := strings.Repeat("성실하게 참여함. ", 30)
	report = ValidateDraft(long, ValidateOptions{MinLength: 10, MaxLength: 600, EnforceLength: true})
	assert.True(t, report.Valid, report.Messages())
}

func TestEndsWithNominalEnding(t *testing.T) {
	cases := map[string]bool{
		"노력함":     true,
		"보임":      true,
		"성실함\"":   true,
		"성실함)]":   true,
		"노력한다":    false,
		"합니다":     false,
		"ok":      false,
		"":        false,
		"\"\"":    false,
		"최선을 다함'": true,
	}
	for in, want := range cases {
		assert.Equal(t, want, EndsWithNominalEnding(in), "input %q", in)
	}
}
