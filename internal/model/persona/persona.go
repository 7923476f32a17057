package persona

// OpeningID 是固定负责开场提问的评委。
const OpeningID = "corporate"

// Persona 描述评审团中的一位模拟评委，加载后不再修改。
type Persona struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	FocusArea    string  `json:"focusArea"`
	VoiceID      string  `json:"voiceId"`                // ElevenLabs voice id
	SpeakerAlias string  `json:"speakerAlias,omitempty"` // 火山引擎备用音色别名
	LocalPitch   float64 `json:"localPitch"`             // 浏览器本地合成的音调
	Description  string  `json:"description,omitempty"`
}

// Seed 返回固定的评审团，第一位是开场评委。
func Seed() []Persona {
	return []Persona{
		{
			ID:           "corporate",
			Name:         "Marcus ROI",
			Role:         "Corporate Strategist",
			FocusArea:    "Business Viability & ROI",
			VoiceID:      "pNInz6obpgDQGcFmaJgB",
			SpeakerAlias: "panel-corporate",
			LocalPitch:   0.8,
			Description:  "Cuts straight to revenue, margins and the path to a return on investment.",
		},
		{
			ID:           "research",
			Name:         "Dr. Arina",
			Role:         "Tech Innovation Lead",
			FocusArea:    "Technological Innovation",
			VoiceID:      "EXAVITQu4vr4xnSDxMaL",
			SpeakerAlias: "panel-research",
			LocalPitch:   1.3,
			Description:  "Probes the novelty of the approach and how the technology actually works.",
		},
		{
			ID:           "vc",
			Name:         "Chad Growth",
			Role:         "VC Partner",
			FocusArea:    "Scalability & Market Potential",
			VoiceID:      "onwK4e9ZLuTAKqWqbcX1",
			SpeakerAlias: "panel-vc",
			LocalPitch:   1.0,
			Description:  "Wants to know how big this can get and how fast.",
		},
		{
			ID:           "community",
			Name:         "Sarah Impact",
			Role:         "Sustainability Expert",
			FocusArea:    "Social Impact & Community",
			VoiceID:      "MF3mGyEYCl7XYW7ANnps",
			SpeakerAlias: "panel-community",
			LocalPitch:   1.0,
			Description:  "Asks who benefits, who could be harmed and whether it lasts.",
		},
	}
}
