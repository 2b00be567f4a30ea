package transcribe

import (
	"context"
	"strings"
)

// TranscribePreferred transcribes with language auto-detection and, when the
// detected language differs from preferred, transcribes again with the
// language forced. An empty preferred disables the second pass. The returned
// bool reports whether the second pass ran.
func TranscribePreferred(ctx context.Context, p Provider, audioPath string, opts TranscribeOpts, preferred string) (*Response, bool, error) {
	opts.Language = ""
	resp, err := p.Transcribe(ctx, audioPath, opts)
	if err != nil {
		return nil, false, err
	}

	preferred = normalizeLanguage(preferred)
	if preferred == "" || normalizeLanguage(resp.Language) == preferred {
		return resp, false, nil
	}

	opts.Language = preferred
	forced, err := p.Transcribe(ctx, audioPath, opts)
	if err != nil {
		return nil, true, err
	}
	if forced.Language == "" {
		forced.Language = preferred
	}
	return forced, true, nil
}

// OpenAI's verbose_json reports language names rather than codes.
var languageNames = map[string]string{
	"arabic":     "ar",
	"catalan":    "ca",
	"chinese":    "zh",
	"czech":      "cs",
	"danish":     "da",
	"dutch":      "nl",
	"english":    "en",
	"finnish":    "fi",
	"french":     "fr",
	"german":     "de",
	"greek":      "el",
	"hebrew":     "he",
	"hindi":      "hi",
	"hungarian":  "hu",
	"indonesian": "id",
	"italian":    "it",
	"japanese":   "ja",
	"korean":     "ko",
	"norwegian":  "no",
	"persian":    "fa",
	"polish":     "pl",
	"portuguese": "pt",
	"romanian":   "ro",
	"russian":    "ru",
	"spanish":    "es",
	"swedish":    "sv",
	"thai":       "th",
	"turkish":    "tr",
	"ukrainian":  "uk",
	"vietnamese": "vi",
}

// normalizeLanguage lowercases a language and maps full names to ISO-639-1
// codes. Region suffixes ("fr-FR", "fra") are reduced where recognizable.
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageNames[lang]; ok {
		return code
	}
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	switch lang {
	case "fra", "fre":
		return "fr"
	case "eng":
		return "en"
	}
	return lang
}
