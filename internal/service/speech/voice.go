package speech

import "strings"

// voices maps ISO 639-1 codes to espeak-ng voice tags
var voices = map[string]string{
	"ar": "ar",
	"de": "de",
	"en": "en-us",
	"es": "es",
	"fr": "fr-fr",
	"hi": "hi",
	"id": "id",
	"it": "it",
	"ja": "ja",
	"ko": "ko",
	"nl": "nl",
	"pl": "pl",
	"pt": "pt-br",
	"ru": "ru",
	"sv": "sv",
	"th": "th",
	"tr": "tr",
	"uk": "uk",
	"vi": "vi",
	"zh": "cmn",
}

// VoiceFor returns the voice tag for a target language.
// Unknown languages use the language code itself.
func VoiceFor(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if voice, ok := voices[lang]; ok {
		return voice
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		if voice, ok := voices[lang[:i]]; ok {
			return voice
		}
	}
	return lang
}
