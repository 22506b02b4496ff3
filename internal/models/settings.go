package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Duration is a whole-minute span split into hours and minutes
type Duration struct {
	Hours int `json:"hours" validate:"gte=0"`
	Mins  int `json:"mins" validate:"gte=0,lte=59"`
}

// DurationFromMinutes normalises a minute count into hours and minutes
func DurationFromMinutes(total int) Duration {
	if total < 0 {
		total = 0
	}
	return Duration{Hours: total / 60, Mins: total % 60}
}

// Minutes returns the span in minutes
func (d Duration) Minutes() int { return d.Hours*60 + d.Mins }

// TotalDuration is the aggregate assessment duration; Seconds is always zero
type TotalDuration struct {
	Hours   int `json:"hours"`
	Mins    int `json:"mins"`
	Seconds int `json:"seconds"`
}

// Minutes returns the aggregate in minutes
func (d TotalDuration) Minutes() int { return d.Hours*60 + d.Mins }

// Proctoring capabilities known to the console
const (
	ProctorWebcam               = "webcam"
	ProctorTabSwitching         = "prevent_tab_switching"
	ProctorFullScreen           = "full_screen"
	ProctorCopyPaste            = "prevent_copy_paste"
	ProctorIdentityVerification = "identity_verification"
)

// SectionSettings is the per-section configuration.
// SectionTime is derived from the section's questions and is never user-editable.
type SectionSettings struct {
	SectionTime      Duration        `json:"section_time"`
	SectionBreakTime Duration        `json:"section_break_time"`
	Cutoff           float64         `json:"cutoff" validate:"gte=0,lte=100"`
	Proctoring       map[string]bool `json:"proctoring" validate:"dive,keys,required,endkeys"`
	PoolingEnabled   bool            `json:"pooling_enabled"`
}

// DefaultSectionSettings returns zero-valued settings with an allocated proctoring map
func DefaultSectionSettings() *SectionSettings {
	return &SectionSettings{Proctoring: map[string]bool{}}
}

// Clone returns a deep copy
func (s *SectionSettings) Clone() *SectionSettings {
	if s == nil {
		return nil
	}
	c := *s
	c.Proctoring = make(map[string]bool, len(s.Proctoring))
	for k, v := range s.Proctoring {
		c.Proctoring[k] = v
	}
	return &c
}

// ProctoringKeys returns the capability names in sorted order
func (s *SectionSettings) ProctoringKeys() []string {
	keys := make([]string, 0, len(s.Proctoring))
	for k := range s.Proctoring {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// wireSettings mirrors SectionSettings with pointers so that missing
// fields can be told apart from zero values.
type wireSettings struct {
	SectionTime      *Duration       `json:"section_time"`
	SectionBreakTime *Duration       `json:"section_break_time"`
	Cutoff           *float64        `json:"cutoff"`
	Proctoring       map[string]bool `json:"proctoring"`
	PoolingEnabled   *bool           `json:"pooling_enabled"`
}

// DecodeSectionSettings strictly decodes a settings payload.
// Unknown fields, missing required fields and out-of-range values are errors.
func DecodeSectionSettings(data []byte) (*SectionSettings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireSettings
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("malformed section settings: %w", err)
	}

	switch {
	case w.SectionBreakTime == nil:
		return nil, fmt.Errorf("malformed section settings: section_break_time is required")
	case w.Cutoff == nil:
		return nil, fmt.Errorf("malformed section settings: cutoff is required")
	case w.PoolingEnabled == nil:
		return nil, fmt.Errorf("malformed section settings: pooling_enabled is required")
	}

	s := &SectionSettings{
		SectionBreakTime: *w.SectionBreakTime,
		Cutoff:           *w.Cutoff,
		Proctoring:       w.Proctoring,
		PoolingEnabled:   *w.PoolingEnabled,
	}
	// section_time is advisory on the wire and is replaced locally
	if w.SectionTime != nil {
		s.SectionTime = *w.SectionTime
	}
	if s.Proctoring == nil {
		s.Proctoring = map[string]bool{}
	}

	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("malformed section settings: %w", err)
	}
	return s, nil
}

// UnmarshalJSON routes every settings decode through the strict decoder
func (s *SectionSettings) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeSectionSettings(data)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}
