package model

import "time"

// LanguageAuto marks an undetected or undeclared language
const LanguageAuto = "auto"

// TranscriptionMethod identifies a capture strategy
type TranscriptionMethod string

const (
	MethodLocal      TranscriptionMethod = "local"
	MethodCloud      TranscriptionMethod = "cloud"
	MethodSelfHosted TranscriptionMethod = "selfhosted"
)

// PlaybackWindow is the slice of recently played audio targeted for transcription
type PlaybackWindow struct {
	StartTime float64 `json:"start_time"` // seconds, >= 0
	EndTime   float64 `json:"end_time"`   // seconds, position at invocation time
	Duration  float64 `json:"duration"`   // EndTime - StartTime
}

// Length returns the window duration rounded to milliseconds
func (w PlaybackWindow) Length() time.Duration {
	return time.Duration(w.Duration * float64(time.Second)).Round(time.Millisecond)
}

// TranscriptionResult is produced by exactly one capture strategy per cycle
type TranscriptionResult struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"` // ISO 639-1 or "auto"
}

// TranslationOutcome is the terminal output of one rewind-and-translate cycle
type TranslationOutcome struct {
	CycleID          string              `json:"cycle_id"`
	OriginalText     string              `json:"original_text"`
	TranslatedText   string              `json:"translated_text"`
	Window           PlaybackWindow      `json:"window"`
	DetectedLanguage string              `json:"detected_language"`
	TargetLanguage   string              `json:"target_language"`
	Method           TranscriptionMethod `json:"method"`
}

// Settings is the read-only view of user settings consumed by the core
type Settings struct {
	TranscriptionMethod TranscriptionMethod
	SourceLang          string  // "auto" or ISO 639-1
	TargetLang          string  // ISO 639-1
	DefaultSourceLang   string  // used when neither detection nor hint yields a language
	RewindSeconds       float64 // window length; 0 means the default
	ReplayWindow        bool    // end a successful cycle at the window start
}
