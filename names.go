package accounts

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	germanReplacer = strings.NewReplacer(
		"ä", "ae", "Ä", "Ae",
		"ü", "ue", "Ü", "Ue",
		"ö", "oe", "Ö", "Oe",
		"ß", "ss",
	)
	stripMarks  = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.M)))
	nonMailSafe = regexp.MustCompile(`[^a-z0-9]+`)
)

// Asciify converts a name to its plain ASCII form: the seven German umlaut
// and eszett characters become their digraphs, any remaining diacritics are
// dropped via canonical decomposition.
func Asciify(value string) string {
	replaced := germanReplacer.Replace(strings.TrimSpace(value))
	out, _, err := transform.String(stripMarks, replaced)
	if err != nil {
		return replaced
	}
	return out
}

// Mailify normalizes a name for use in mail addresses and usernames:
// periods are stripped, the result is asciified and lowercased, and every
// remaining run of characters outside [a-z0-9] collapses to a hyphen.
func Mailify(value string) string {
	v := strings.TrimSpace(value)
	v = strings.ReplaceAll(v, ".", "")
	v = strings.ToLower(Asciify(v))
	return nonMailSafe.ReplaceAllString(v, "-")
}

// substr mirrors lenient substring semantics: indices are clamped to the
// string bounds instead of panicking.
func substr(s string, from, to int) string {
	r := []rune(s)
	if from < 0 {
		from = 0
	}
	if from > len(r) {
		from = len(r)
	}
	if to > len(r) {
		to = len(r)
	}
	if to < from {
		to = from
	}
	return string(r[from:to])
}

// uidSuggestions generates up to eight username candidates from a first and
// last name. Two 6-character anchors are built, one from the beginning of
// the names and one end-anchored, each split into a 3-character front part
// and a back part; the candidates are the eight concatenation order-pairs of
// those four fragments, in a fixed order, deduplicated.
//
// Example for "Viktor Gruber": fragments vik/gru/tor/ber, candidates
// vikgru, gruvik, vikber, bervik, torgru, grutor, torber, bertor.
func uidSuggestions(firstName, surname string) ([]string, error) {
	if strings.TrimSpace(firstName) == "" || strings.TrimSpace(surname) == "" {
		return nil, businessErr(CodeUsernamesDontMatch)
	}
	if len([]rune(firstName)) < 3 || len([]rune(surname)) < 3 {
		return nil, businessErr(CodeUsernamesDontMatch)
	}
	fn := Mailify(firstName)
	sn := Mailify(surname)

	name := substr(fn+sn, 0, 3) + sn
	name = substr(name, 0, 6)
	frontBegin := substr(name, 0, 3)
	backBegin := substr(name, 3, len([]rune(name)))

	pos := min(3, len([]rune(fn))-3)
	if pos < 0 {
		pos = 0
	}
	snLen := len([]rune(sn))
	name = substr(fn+sn, pos, pos+3) + substr(sn, snLen-3, snLen)
	frontEnd := substr(name, 0, 3)
	backEnd := substr(name, 3, len([]rune(name)))

	candidates := []string{
		frontBegin + backBegin,
		backBegin + frontBegin,
		frontBegin + backEnd,
		backEnd + frontBegin,
		frontEnd + backBegin,
		backBegin + frontEnd,
		frontEnd + backEnd,
		backEnd + frontEnd,
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

// createMail builds "first.last@domain" from mailified name parts. With
// shortFirstName only the first letter of the first name is used.
func createMail(firstName, surname, domain string, shortFirstName bool) string {
	fn := Mailify(firstName)
	sn := Mailify(surname)
	if shortFirstName && fn != "" {
		fn = fn[:1]
	}
	return fn + "." + sn + "@" + domain
}
