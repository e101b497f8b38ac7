package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/sma-counsel-api/internal/models"
)

const (
	DefaultMaxEvidenceItems = 20
	DefaultMaxNoteChars     = 240
	DefaultLengthGuide      = "본문은 반드시 400자 이상 500자 이하로 작성하세요."

	defaultTopic          = "일반 상담"
	emptyObservation      = "(관찰 내용 없음)"
	emptyEvidenceLine     = "- 상담 기록 없음 (일반적인 모범 학생의 특성에 맞춰 작성)"
	emptyPreviousDraft    = "(빈 응답)"
	selectedOnlyEvidence  = "체크된 상담 기록만 근거로 사용함."
	allRecordsEvidence    = "전체 기록을 균형 있게 반영함."
	truncationEllipsis    = "…"
	missingStudentIDValue = "-"
)

// BehaviorSystemMessage is the system instruction for behavior-record drafting.
const BehaviorSystemMessage = `당신은 학교생활기록부 행동특성 및 종합의견(행발)을 작성하는 교사다.
제공된 학생 기록을 바탕으로 최종 행발 본문 한 문단만 작성한다.

[필수 규칙]
1) '학생은', 'OO는' 등 주어를 사용하지 않고 행동 특성과 에피소드부터 바로 서술한다.
2) 배려, 나눔, 협력, 타인 존중, 갈등 관리 등 인성 요소와 잠재력을 구체적 사례 중심으로 담는다.
3) 단순 나열을 피하고 1년 동안의 긍정적인 변화와 성장을 드러낸다.
4) 내성적/신중함, 느림/꼼꼼함, 말수 적음/경청함처럼 발전 가능성이 느껴지는 긍정 표현으로 전환한다.
5) '~하지만', '~임에도', '부족하다' 등 부정적으로 보일 수 있는 표현은 사용하지 않는다.
6) 특정 성명, 기관명, 상호명 등 식별 가능한 고유명사는 쓰지 않는다.
7) 줄바꿈 없이 하나의 문단으로 작성한다.
8) 모든 문장을 반드시 명사형 종결어미(~함, ~임, ~음, ~됨 등 받침 ㅁ)로 끝내고 문장마다 마침표(.)로 완결한다.
   한 문장이라도 위 규칙을 어기면 실패한 출력으로 간주한다.
9) 글자수 지침을 반드시 준수한다.
10) 메타 설명, 분석, 검증, 글자수 표기 없이 본문 텍스트만 출력한다.
11) 상담 기록에서 행발 작성에 필요한 학생 행동관찰 근거를 먼저 추출하고 재구성한 뒤 본문에 반영한다.
12) 내부 처리 절차는 다음과 같으며, 절차와 중간 결과는 출력하지 않는다.
    - 행동/관계/협력/갈등 조정/자기관리 관련 관찰 근거를 3~6개 추출함.
    - 추출 근거를 인성, 잠재력, 공동체 역량 관점으로 연결함.
    - 시기별 변화 또는 전후 비교가 드러나도록 성장 흐름을 구성함.
13) 최종 출력 직전 자체 점검을 수행한다.
    - 문장별 종결어미가 모두 받침 ㅁ인지 확인함.
    - 금지 표현, 주어 표현, 메타 문구가 없는지 확인함.
    - 하나라도 위반 시 재작성 후 최종본만 출력함.`

// FormatEvidence orders records most-recent-first and renders at most maxItems of them.
// Non-positive limits fall back to 20 items and 240 characters per observation.
func FormatEvidence(records []models.Consultation, maxItems, maxNoteChars int) []models.EvidenceItem {
	if maxItems <= 0 {
		maxItems = DefaultMaxEvidenceItems
	}
	if maxNoteChars <= 0 {
		maxNoteChars = DefaultMaxNoteChars
	}

	ordered := make([]models.Consultation, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date > ordered[j].Date
		}
		return ordered[i].Time > ordered[j].Time
	})
	if len(ordered) > maxItems {
		ordered = ordered[:maxItems]
	}

	items := make([]models.EvidenceItem, 0, len(ordered))
	for _, record := range ordered {
		topic := collapseWhitespace(record.TopicValue())
		if topic == "" {
			topic = defaultTopic
		}
		observation := collapseWhitespace(record.OriginalContent)
		if observation == "" {
			observation = collapseWhitespace(record.SummaryValue())
		}
		if observation == "" {
			observation = emptyObservation
		}
		items = append(items, models.EvidenceItem{
			Date:        record.Date,
			Time:        record.Time,
			Topic:       topic,
			Observation: truncateRunes(observation, maxNoteChars),
		})
	}
	return items
}

// EvidenceLine renders one evidence item as a prompt line.
func EvidenceLine(item models.EvidenceItem) string {
	return fmt.Sprintf("- %s %s | 주제: %s | 관찰: %s", item.Date, item.Time, item.Topic, item.Observation)
}

// BuildDraftRequest picks the evidence source for the mode and caps it. TotalRecords counts
// the whole source, so it can exceed the number of evidence lines.
func BuildDraftRequest(group models.StudentGroup, mode models.EvidenceMode, maxItems, maxNoteChars int, lengthGuide string) models.DraftRequest {
	source := group.Records
	if mode == models.EvidenceModeSelectedOnly {
		source = group.SelectedRecords()
	}
	return models.DraftRequest{
		StudentName:  group.StudentName,
		StudentID:    group.StudentID,
		Evidence:     FormatEvidence(source, maxItems, maxNoteChars),
		TotalRecords: len(source),
		Mode:         mode,
		LengthGuide:  lengthGuide,
	}
}

// BuildInitialPrompt renders the first-attempt prompt for one student.
func BuildInitialPrompt(req models.DraftRequest) string {
	total := req.TotalRecords
	if total < len(req.Evidence) {
		total = len(req.Evidence)
	}
	studentID := strings.TrimSpace(req.StudentID)
	if studentID == "" {
		studentID = missingStudentIDValue
	}
	evidenceInstruction := allRecordsEvidence
	if req.Mode == models.EvidenceModeSelectedOnly {
		evidenceInstruction = selectedOnlyEvidence
	}
	lengthGuide := strings.TrimSpace(req.LengthGuide)
	if lengthGuide == "" {
		lengthGuide = DefaultLengthGuide
	}

	lines := make([]string, 0, len(req.Evidence))
	for _, item := range req.Evidence {
		lines = append(lines, EvidenceLine(item))
	}
	evidenceBlock := emptyEvidenceLine
	if len(lines) > 0 {
		evidenceBlock = strings.Join(lines, "\n")
	}

	var b strings.Builder
	b.WriteString("입력 정보\n")
	fmt.Fprintf(&b, "- 이름: %s\n", req.StudentName)
	fmt.Fprintf(&b, "- 학번: %s\n", studentID)
	fmt.Fprintf(&b, "- 전체 상담 건수: %d건\n", total)
	fmt.Fprintf(&b, "- 프롬프트 반영 상담 건수: %d건\n\n", len(req.Evidence))
	b.WriteString("작성 조건\n")
	fmt.Fprintf(&b, "- 근거 사용 방식: %s\n", evidenceInstruction)
	fmt.Fprintf(&b, "- 글자수 지침: %s\n\n", lengthGuide)
	b.WriteString("학생 행동 관찰 내용\n")
	b.WriteString(evidenceBlock)
	b.WriteString("\n\n")
	b.WriteString(`행동관찰 추출 지시
1) 위 상담 기록에서 행발 작성에 필요한 학생 행동관찰 내용을 우선 추출함.
2) 분산된 기록은 사건-행동-의미가 드러나도록 교사 관찰 문장 관점으로 재구성함.
3) 중복 내용은 통합하고, 변화와 성장을 보여주는 순서로 배열함.
4) 기록에 없는 사실은 생성하지 않음.

출력 형식
1) 오직 행발 본문 텍스트만 출력함.
2) 줄바꿈 없이 하나의 문단으로 출력함.
3) 따옴표, 번호, 제목, 메타 설명 없이 본문만 출력함.
4) 모든 문장을 명사형 종결어미(받침 ㅁ) + 마침표(.)로 끝낼 것.`)
	return b.String()
}

// BuildRewritePrompt wraps the original prompt with the failing draft and its violations.
// Only the immediately preceding attempt is carried, never the full history.
func BuildRewritePrompt(basePrompt, previousDraft string, violations []string) string {
	previous := previousDraft
	if previous == "" {
		previous = emptyPreviousDraft
	}
	numbered := make([]string, 0, len(violations))
	for i, violation := range violations {
		numbered = append(numbered, fmt.Sprintf("%d. %s", i+1, violation))
	}

	var b strings.Builder
	b.WriteString("아래 원본 지시를 유지한 상태에서 행발 본문을 처음부터 다시 작성하라.\n\n")
	b.WriteString("[원본 지시]\n")
	b.WriteString(basePrompt)
	b.WriteString("\n\n[직전 생성 결과]\n")
	b.WriteString(previous)
	b.WriteString("\n\n[규칙 위반 목록]\n")
	b.WriteString(strings.Join(numbered, "\n"))
	b.WriteString("\n\n[수정 지시]\n")
	b.WriteString("- 위반 목록을 모두 해소할 것.\n")
	b.WriteString("- 모든 문장을 반드시 명사형 종결어미(함/임/음/됨 등 받침 ㅁ) + 마침표(.)로 끝낼 것.\n")
	b.WriteString("- 줄바꿈, 번호, 제목, 따옴표, 메타 설명 없이 한 문단 본문만 출력할 것.")
	return b.String()
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 1 {
		return truncationEllipsis
	}
	return string(runes[:limit-1]) + truncationEllipsis
}

// LengthGuide renders the length instruction for a min/max character window.
func LengthGuide(minLength, maxLength int) string {
	if minLength <= 0 || maxLength <= 0 || minLength > maxLength {
		return DefaultLengthGuide
	}
	return fmt.Sprintf("본문은 반드시 %d자 이상 %d자 이하로 작성하세요.", minLength, maxLength)
}
