package knowledge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stopWords = map[string]struct{}{
	"a": {}, "al": {}, "como": {}, "con": {}, "cual": {}, "cuales": {},
	"de": {}, "del": {}, "el": {}, "en": {}, "es": {}, "la": {}, "las": {},
	"lo": {}, "los": {}, "me": {}, "mi": {}, "para": {}, "por": {},
	"puedo": {}, "que": {}, "se": {}, "su": {}, "un": {}, "una": {},
	"y": {}, "o": {},
}

// fold lowercases s and strips diacritics, "Atención" becomes "atencion".
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(strings.TrimSpace(folded))
}

// terms splits text into folded words without stop words. If every word is
// a stop word they are all kept.
func terms(text string) map[string]float64 {
	words := strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	bag := make(map[string]float64, len(words))
	for _, word := range words {
		if _, ok := stopWords[word]; ok {
			continue
		}
		bag[word]++
	}
	if len(bag) == 0 {
		for _, word := range words {
			bag[word]++
		}
	}
	return bag
}
