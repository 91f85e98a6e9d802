package bot

// Translator maps outgoing message labels to localized strings. The label
// table maps canonical English messages to label keys; the per-language
// tables map label keys to translations. Unknown messages and languages
// pass through untouched.
type Translator struct {
	labels   map[string]string
	tables   map[string]map[string]string
	language string
}

func NewTranslator(labels map[string]string, tables map[string]map[string]string, language string) *Translator {
	t := &Translator{
		labels:   make(map[string]string),
		tables:   make(map[string]map[string]string),
		language: language,
	}
	for k, v := range labels {
		t.labels[k] = v
	}
	for lang, table := range tables {
		t.tables[lang] = table
	}
	return t
}

func (t *Translator) SetLanguage(language string) { t.language = language }

// Translate localizes s for the configured language, falling back to s
// itself.
func (t *Translator) Translate(s string) string {
	table, ok := t.tables[t.language]
	if !ok {
		return s
	}
	label, ok := t.labels[s]
	if !ok {
		return s
	}
	if translated, ok := table[label]; ok {
		return translated
	}
	return s
}
