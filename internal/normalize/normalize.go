// Package normalize turns free-text supplier and bank names into canonical
// comparison keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// scriptVariants unifies letters that differ only by typing convention.
var scriptVariants = strings.NewReplacer(
	// Alef forms.
	"أ", "ا", "إ", "ا", "آ", "ا", "ٱ", "ا",
	// Taa marbuta and alef maqsura.
	"ة", "ه", "ى", "ي",
	// Hamza carriers.
	"ؤ", "و", "ئ", "ي",
	// Persian keyboard forms.
	"ک", "ك", "ی", "ي",
	// Tatweel carries no meaning.
	"ـ", "",
	// Arabic-Indic and extended digits.
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
)

// joiners are dropped without leaving a gap so "Joe's" and "L.L.C." stay
// single tokens.
var joiners = map[rune]bool{
	'\'': true, '’': true, '‘': true, '`': true, '.': true,
}

// genericTokens carry no discriminating signal between organizations.
// Entries are folded through the same pipeline as input at init time.
var genericTokens = map[string]bool{}

var rawGenericTokens = []string{
	// Latin
	"company", "co", "corp", "corporation", "establishment", "est",
	"bank", "group", "trading", "contracting", "ltd", "limited", "llc",
	"inc", "incorporated", "the", "for", "and", "of",
	// Arabic
	"شركة", "الشركة", "مؤسسة", "المؤسسة", "بنك", "البنك", "مصرف", "المصرف",
	"مجموعة", "المجموعة", "للتجارة", "التجارية", "تجارة", "للمقاولات",
	"المحدودة", "محدودة", "ذات", "مسؤولية", "المسؤولية",
}

func init() {
	for _, tok := range rawGenericTokens {
		genericTokens[fold(tok)] = true
	}
}

// Name returns the comparison key for raw. It never fails: empty or
// whitespace-only input yields "". Name is deterministic and idempotent.
//
// The pipeline:
//  1. Case-fold and strip diacritics (Latin accents and Arabic harakat)
//  2. Unify script variants (alef forms, taa marbuta, Arabic-Indic digits)
//  3. Drop apostrophes and periods inside words
//  4. Replace punctuation and symbols with spaces
//  5. Drop generic organizational tokens, unless that would leave nothing
func Name(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	tokens := strings.Fields(fold(raw))
	if len(tokens) == 0 {
		return ""
	}

	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !genericTokens[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		// A name made only of generic words ("Bank") still needs a key.
		kept = tokens
	}
	return strings.Join(kept, " ")
}

// Tokens splits a normalized key into its words.
func Tokens(key string) []string {
	return strings.Fields(key)
}

// IsGeneric reports whether a normalized token is one Name strips.
func IsGeneric(token string) bool {
	return genericTokens[token]
}

// fold applies every step except generic token removal.
func fold(s string) string {
	// NFKD first so presentation forms and full-width letters reach Fold
	// and the variant table in their base shape.
	t := transform.Chain(
		norm.NFKD,
		cases.Fold(),
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = scriptVariants.Replace(folded)

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case joiners[r]:
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
