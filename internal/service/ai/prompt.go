package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/pitch-arena/backend/internal/model/interview"
	"github.com/zhouzirui/pitch-arena/backend/internal/model/persona"
)

const (
	// QuestionField 是结构化输出中承载问题文本的字段名。
	QuestionField = "question"
	// DefaultPreviewBudget 是写入 prompt 的材料预览最大字符数。
	DefaultPreviewBudget = 15000
	// freeformPreviewBudget 备用提供方只需要一个简短上下文。
	freeformPreviewBudget = 1000
	maxQuestionWords      = 20
)

// TurnContext 是一次评委提问所需的全部上下文，由编排器构建。
type TurnContext struct {
	SessionID       string
	Artifact        interview.Artifact
	Persona         persona.Persona
	History         []interview.Turn
	LatestUtterance string
	Opening         bool
}

// BuildStructuredPrompt 生成主提供方使用的 system 与 user 文本，要求模型只返回一个 JSON 对象。
func BuildStructuredPrompt(tc TurnContext, previewBudget int) (system, user string) {
	if previewBudget <= 0 {
		previewBudget = DefaultPreviewBudget
	}

	system = fmt.Sprintf(
		"You are %s, a %s on a hackathon judging panel. Return JSON only: {\"%s\": \"...\"}",
		tc.Persona.Name, tc.Persona.Role, QuestionField,
	)

	latest := strings.TrimSpace(tc.LatestUtterance)
	if latest == "" {
		latest = "(none, the panel is opening the session)"
	}

	var b strings.Builder
	b.WriteString("ARENA SIMULATION\n")
	fmt.Fprintf(&b, "PROJECT TOPIC: %s\n", strings.TrimSpace(tc.Artifact.Name))
	fmt.Fprintf(&b, "TECHNICAL CONTEXT: %s\n", truncateRunes(tc.Artifact.Preview, previewBudget))
	fmt.Fprintf(&b, "JUDGE PERSONA: %s, %s\n", tc.Persona.Name, tc.Persona.Role)
	fmt.Fprintf(&b, "DOMAIN DEPTH: %s\n", tc.Persona.FocusArea)
	b.WriteString("SESSION HISTORY:\n")
	b.WriteString(RenderHistory(tc.History))
	b.WriteString("\n")
	fmt.Fprintf(&b, "RECENT USER INPUT: %s\n\n", latest)
	b.WriteString("DIRECTIVES:\n")
	b.WriteString("1. Reference the project topic directly.\n")
	b.WriteString("2. Ask exactly ONE open-ended question that cannot be answered with yes or no.\n")
	b.WriteString("3. Do not repeat any question already present in the session history.\n")
	fmt.Fprintf(&b, "4. Use at most %d words.\n", maxQuestionWords)
	fmt.Fprintf(&b, "5. Return JSON ONLY: {\"%s\": \"...\"} with no other content.", QuestionField)

	return system, b.String()
}

// BuildFreeformPrompt 生成备用提供方使用的自然语言指令，开场与追问措辞不同。
func BuildFreeformPrompt(tc TurnContext) string {
	name := strings.TrimSpace(tc.Artifact.Name)
	if tc.Opening {
		return fmt.Sprintf(
			"Simulate Judge %s asking the participant to explain their project %q in detail. Reply with the question only.",
			tc.Persona.Name, name,
		)
	}

	return fmt.Sprintf(
		"Simulate Judge %s asking a sharp question about %s based on project context %s. History: %s\nReply with one question only, at most %d words.",
		tc.Persona.Name,
		tc.Persona.FocusArea,
		truncateRunes(tc.Artifact.Preview, freeformPreviewBudget),
		strings.ReplaceAll(RenderHistory(tc.History), "\n", " | "),
		maxQuestionWords,
	)
}

// RenderHistory 按顺序输出 "PARTICIPANT:" / "JUDGE:" 交替的对话记录。
func RenderHistory(turns []interview.Turn) string {
	if len(turns) == 0 {
		return "(no conversation yet)"
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		label := "PARTICIPANT"
		if turn.Speaker == interview.SpeakerPanelist {
			label = "JUDGE"
		}
		lines = append(lines, label+": "+strings.TrimSpace(turn.Text))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
