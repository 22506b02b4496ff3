package models

// SectionPreset is a named bundle of default section settings
// (e.g., "proctored-coding", "untimed-survey")
type SectionPreset struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	BreakTime      Duration        `json:"section_break_time"`
	Cutoff         float64         `json:"cutoff"`
	Proctoring     map[string]bool `json:"proctoring"`
	PoolingEnabled bool            `json:"pooling_enabled"`
}
