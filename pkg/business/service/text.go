package service

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type ITextService interface {
	RemoveTags(input string) string
	Normalize(input string) string
	NormalizeName(input string) string
	StripMeasurements(input string) string
	Tokens(input string) []string
}

var (
	tagsRe = regexp.MustCompile(`<[^>]*>`)
	// 250 جم, 1.5 لتر, 500ml, 1 kg ...
	measurementRe = regexp.MustCompile(`\d+(?:[.,]\d+)?\s*(?:كجم|كيلو|جرام|جم|مل|لتر|kg|gm|gr|ml|ltr|g|l)(?:[^\p{L}\p{N}]|$)`)
	spacesRe      = regexp.MustCompile(`\s+`)
)

// Служебные слова, не несущие смысла при сравнении названий.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "with": {}, "for": {}, "new": {}, "offer": {},
	"من": {}, "في": {}, "مع": {}, "و": {}, "على": {}, "عرض": {}, "جديد": {},
}

// letterFolding после снятия огласовок приводит варианты букв к одной форме.
var letterFolding = strings.NewReplacer(
	"ٱ", "ا",
	"ى", "ي",
	"ة", "ه",
	"ـ", "",
)

type TextService struct{}

func NewTextService() *TextService {
	return &TextService{}
}

func (ts *TextService) RemoveTags(input string) string {
	return strings.TrimSpace(tagsRe.ReplaceAllString(html.UnescapeString(input), ""))
}

// Normalize strips diacritics (tashkeel and hamza carriers), applies compatibility
// folding, converts Arabic-Indic digits to ASCII, unifies alef/ya/ta marbuta,
// lowercases and collapses whitespace.
func (ts *TextService) Normalize(input string) string {
	if input == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), runes.Map(asciiDigit), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		out = input
	}
	out = letterFolding.Replace(out)
	// Caser хранит состояние, поэтому создаем его на каждый вызов.
	out = cases.Lower(language.Und).String(out)
	return strings.TrimSpace(spacesRe.ReplaceAllString(out, " "))
}

func (ts *TextService) StripMeasurements(input string) string {
	out := measurementRe.ReplaceAllString(input, " ")
	return strings.TrimSpace(spacesRe.ReplaceAllString(out, " "))
}

// NormalizeName is Normalize followed by removal of size and weight fragments.
func (ts *TextService) NormalizeName(input string) string {
	return ts.StripMeasurements(ts.Normalize(input))
}

// Tokens splits a normalized name on Arabic and Latin word boundaries and drops stopwords.
func (ts *TextService) Tokens(input string) []string {
	fields := strings.FieldsFunc(ts.NormalizeName(input), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if _, skip := stopwords[f]; skip {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func asciiDigit(r rune) rune {
	switch {
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	}
	return r
}
