package speech

import "strings"

// Tuning overrides prosody for voices whose name contains the key.
type Tuning struct {
	Pitch float64
	Rate  float64
}

// SelectVoice returns the first voice matching a candidate name, in
// candidate order, whose language starts with lang. Matching ignores case.
func SelectVoice(voices []Voice, candidates []string, lang string) (Voice, bool) {
	lang = strings.ToLower(lang)
	for _, candidate := range candidates {
		c := strings.ToLower(candidate)
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Name), c) &&
				strings.HasPrefix(strings.ToLower(v.Lang), lang) {
				return v, true
			}
		}
	}
	return Voice{}, false
}

// NewProfile builds the profile for v, applying the first tuning whose key
// occurs in the voice name. Untuned voices keep pitch and rate 1.
func NewProfile(v Voice, tuning map[string]Tuning) VoiceProfile {
	p := VoiceProfile{Name: v.Name, Lang: v.Lang, Pitch: 1, Rate: 1}
	name := strings.ToLower(v.Name)
	for key, t := range tuning {
		if strings.Contains(name, strings.ToLower(key)) {
			p.Pitch, p.Rate = t.Pitch, t.Rate
			break
		}
	}
	return p
}
