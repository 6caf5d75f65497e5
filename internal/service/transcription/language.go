package transcription

import (
	"strings"

	"go.uber.org/zap"
)

// languageCodes maps the language names transcription services report to ISO 639-1
var languageCodes = map[string]string{
	"afrikaans":      "af",
	"albanian":       "sq",
	"amharic":        "am",
	"arabic":         "ar",
	"armenian":       "hy",
	"azerbaijani":    "az",
	"basque":         "eu",
	"belarusian":     "be",
	"bengali":        "bn",
	"bosnian":        "bs",
	"breton":         "br",
	"bulgarian":      "bg",
	"burmese":        "my",
	"catalan":        "ca",
	"chinese":        "zh",
	"croatian":       "hr",
	"czech":          "cs",
	"danish":         "da",
	"dutch":          "nl",
	"english":        "en",
	"estonian":       "et",
	"faroese":        "fo",
	"finnish":        "fi",
	"french":         "fr",
	"galician":       "gl",
	"georgian":       "ka",
	"german":         "de",
	"greek":          "el",
	"gujarati":       "gu",
	"haitian creole": "ht",
	"hausa":          "ha",
	"hebrew":         "he",
	"hindi":          "hi",
	"hungarian":      "hu",
	"icelandic":      "is",
	"indonesian":     "id",
	"italian":        "it",
	"japanese":       "ja",
	"javanese":       "jv",
	"kannada":        "kn",
	"kazakh":         "kk",
	"khmer":          "km",
	"korean":         "ko",
	"lao":            "lo",
	"latin":          "la",
	"latvian":        "lv",
	"lithuanian":     "lt",
	"luxembourgish":  "lb",
	"macedonian":     "mk",
	"malagasy":       "mg",
	"malay":          "ms",
	"malayalam":      "ml",
	"maltese":        "mt",
	"maori":          "mi",
	"marathi":        "mr",
	"mongolian":      "mn",
	"nepali":         "ne",
	"norwegian":      "no",
	"nynorsk":        "nn",
	"occitan":        "oc",
	"pashto":         "ps",
	"persian":        "fa",
	"polish":         "pl",
	"portuguese":     "pt",
	"punjabi":        "pa",
	"romanian":       "ro",
	"russian":        "ru",
	"sanskrit":       "sa",
	"serbian":        "sr",
	"shona":          "sn",
	"sindhi":         "sd",
	"sinhala":        "si",
	"slovak":         "sk",
	"slovenian":      "sl",
	"somali":         "so",
	"spanish":        "es",
	"sundanese":      "su",
	"swahili":        "sw",
	"swedish":        "sv",
	"tagalog":        "tl",
	"tajik":          "tg",
	"tamil":          "ta",
	"tatar":          "tt",
	"telugu":         "te",
	"thai":           "th",
	"tibetan":        "bo",
	"turkish":        "tr",
	"turkmen":        "tk",
	"ukrainian":      "uk",
	"urdu":           "ur",
	"uzbek":          "uz",
	"vietnamese":     "vi",
	"welsh":          "cy",
	"yiddish":        "yi",
	"yoruba":         "yo",
}

// isoCodes is the set of codes in languageCodes
var isoCodes = func() map[string]bool {
	codes := make(map[string]bool, len(languageCodes))
	for _, code := range languageCodes {
		codes[code] = true
	}
	return codes
}()

// NormalizeLanguage turns a reported language into an ISO 639-1 code.
// Known codes and names are mapped; anything else passes through unchanged with a warning.
func NormalizeLanguage(reported string, logger *zap.SugaredLogger) string {
	value := strings.ToLower(strings.TrimSpace(reported))
	if value == "" {
		return ""
	}
	if isoCodes[value] {
		return value
	}
	if code, ok := languageCodes[value]; ok {
		return code
	}
	if logger != nil {
		logger.Warnw("unmapped language name, passing it through", "language", reported)
	}
	return reported
}

// IsLanguageCode reports whether code is a known ISO 639-1 code
func IsLanguageCode(code string) bool {
	return isoCodes[strings.ToLower(code)]
}
