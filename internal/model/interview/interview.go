package interview

import "time"

// MaxTurns 是每场面试允许的评委提问次数。
const MaxTurns = 6

// Phase 表示会话所处阶段，只能单向推进。
type Phase string

const (
	PhaseLanding  Phase = "landing"
	PhaseSetup    Phase = "setup"
	PhaseLive     Phase = "live"
	PhaseAnalysis Phase = "analysis"
	PhaseTerminal Phase = "terminal"
)

var phaseOrder = map[Phase]int{
	PhaseLanding:  0,
	PhaseSetup:    1,
	PhaseLive:     2,
	PhaseAnalysis: 3,
	PhaseTerminal: 4,
}

// Next 返回合法的下一个阶段；Terminal 没有后继。
func (p Phase) Next() (Phase, bool) {
	switch p {
	case PhaseLanding:
		return PhaseSetup, true
	case PhaseSetup:
		return PhaseLive, true
	case PhaseLive:
		return PhaseAnalysis, true
	case PhaseAnalysis:
		return PhaseTerminal, true
	default:
		return "", false
	}
}

// Before 判断 p 是否位于 other 之前。
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Speaker 标识一条发言的作者。
type Speaker string

const (
	SpeakerPanelist    Speaker = "panelist"
	SpeakerParticipant Speaker = "participant"
)

// Turn 是对话中已提交的一条发言，只有评委发言带 PersonaID。
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	PersonaID string    `json:"personaId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Artifact 是参赛者上传的路演材料。
type Artifact struct {
	Name    string `json:"name"`
	Preview string `json:"preview"`
}

// NonverbalNotes 两段简短的非语言表现描述。
type NonverbalNotes struct {
	FacialExpression string `json:"facialExpression"`
	BodyLanguage     string `json:"bodyLanguage"`
}

// AnalysisResult 是面试结束后的评估结果，每场会话只生成一次。
type AnalysisResult struct {
	EngagementScore      int            `json:"engagementScore"`
	ContentAccuracyScore int            `json:"contentAccuracyScore"`
	Nonverbal            NonverbalNotes `json:"nonverbalNotes"`
	Summary              string         `json:"summary"`
	// Fallback 为 true 表示评估调用失败，结果为固定默认值。
	Fallback bool `json:"fallback"`
}

// DefaultAnalysis 返回评估失败时使用的固定默认结果。
func DefaultAnalysis() AnalysisResult {
	return AnalysisResult{
		EngagementScore:      88,
		ContentAccuracyScore: 82,
		Nonverbal: NonverbalNotes{
			FacialExpression: "Strong eye contact and focus.",
			BodyLanguage:     "Active and engaging presence.",
		},
		Summary:  "Session concluded with high marks. Evaluation complete.",
		Fallback: true,
	}
}
