package matcher

// DefaultRules is the bilingual security lexicon seeded when the registry declares no keywords.
// IDs are left zero; they are assigned when the rules are stored.
func DefaultRules() []Rule {
	return []Rule{
		// English
		{Term: "terrorism", Pattern: `\bterror(ism|ist|ize|ized|izing|s)?\b`, Language: "en"},
		{Term: "bomb", Pattern: `\bbomb(ing|ings|ed|s)?\b`, Language: "en"},
		{Term: "explosion", Pattern: `\bexplos(ion|ive|ives|ions)\b`, Language: "en"},
		{Term: "attack", Pattern: `\battack(s|ed|ing)?\b`, Language: "en"},
		{Term: "militant", Pattern: `\bmilitant(s)?\b`, Language: "en"},
		{Term: "insurgent", Pattern: `\binsurg(en(t|cy)|ents?)\b`, Language: "en"},
		{Term: "hostage", Pattern: `\bhostage(s|taking)?\b`, Language: "en"},
		{Term: "shooting", Pattern: `\bshoot(ing|ings|er|ers)?\b`, Language: "en"},
		{Term: "threat", Pattern: `\bthreat(s|ened|ening)?\b`, Language: "en"},
		{Term: "security", Pattern: `\bsecurity\b`, Language: "en"},
		{Term: "riot", Pattern: `\briot(s|ing)?\b`, Language: "en"},
		{Term: "protest", Pattern: `\bprotest(s|er|ers|ing)?\b`, Language: "en"},
		{Term: "demonstration", Pattern: `\bdemonstrat(e|ion|ions|or|ors|ing|ed|es)\b`, Language: "en"},
		{Term: "extremist", Pattern: `\bextrem(ist|ism|ists)?\b`, Language: "en"},
		{Term: "radicalization", Pattern: `\bradicali(s|z)(e|ed|ing|ation)\b`, Language: "en"},
		{Term: "cyber attack", Pattern: `\bcyber(-|\s)?attack(s|ed|ing)?\b`, Language: "en"},

		// Indonesian
		{Term: "terorisme", Pattern: `\bteror(isme|is|isnya)?\b`, Language: "id"},
		{Term: "bom", Pattern: `\bbom(ber|bunuhdiri| meledak| meledakkan| ledakan)?\b`, Language: "id"},
		{Term: "ledakan", Pattern: `\bledak(an|an-)?\b`, Language: "id"},
		{Term: "serangan", Pattern: `\bserang(an| menyerang| diserang)?\b`, Language: "id"},
		{Term: "milisi", Language: "id"},
		{Term: "pemberontak", Language: "id"},
		{Term: "sandera", Pattern: `\bsandera\b`, Language: "id"},
		{Term: "penembakan", Pattern: `\bpenembak(an)?\b`, Language: "id"},
		{Term: "ancaman", Pattern: `\bancam(an| mengancam)?\b`, Language: "id"},
		{Term: "keamanan", Pattern: `\bkeamanan\b`, Language: "id"},
		{Term: "kerusuhan", Pattern: `\bkerusuh(an)?\b`, Language: "id"},
		{Term: "demo", Pattern: `\bdemo(nstrasi)?\b`, Language: "id"},
		{Term: "unjuk rasa", Pattern: `\bunjuk\s?rasa\b`, Language: "id"},
		{Term: "penculikan", Pattern: `\bpenculikan\b`, Language: "id"},
		{Term: "ekstremis", Pattern: `\bekstrem(is|isme)?\b`, Language: "id"},
		{Term: "radikalisasi", Pattern: `\bradikalisasi\b`, Language: "id"},
	}
}
