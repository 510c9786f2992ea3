package dicts

import "strings"

// The provider mixes English and Dutch labels for the same facility or
// environment depending on who entered the data. These tables fold both
// spellings onto one canonical Dutch label before slug derivation, so the
// tag collections end up with one entity per concept.

var facilityTranslations = map[string]string{
	"garage":           "Garage",
	"garden":           "Tuin",
	"tuin":             "Tuin",
	"terrace":          "Terras",
	"terras":           "Terras",
	"swimming pool":    "Zwembad",
	"swimmingpool":     "Zwembad",
	"zwembad":          "Zwembad",
	"cellar":           "Kelder",
	"kelder":           "Kelder",
	"attic":            "Zolder",
	"zolder":           "Zolder",
	"elevator":         "Lift",
	"lift":             "Lift",
	"alarm":            "Alarm",
	"airco":            "Airco",
	"air conditioning": "Airco",
	"solar panels":     "Zonnepanelen",
	"zonnepanelen":     "Zonnepanelen",
	"parking":          "Parkeerplaats",
	"parkeerplaats":    "Parkeerplaats",
	"sauna":            "Sauna",
	"fireplace":        "Open haard",
	"open haard":       "Open haard",
}

var environmentTranslations = map[string]string{
	"city center":      "Stadscentrum",
	"stadscentrum":     "Stadscentrum",
	"residential":      "Woonwijk",
	"woonwijk":         "Woonwijk",
	"countryside":      "Platteland",
	"platteland":       "Platteland",
	"coast":            "Kust",
	"kust":             "Kust",
	"near school":      "Nabij school",
	"nabij school":     "Nabij school",
	"near shops":       "Nabij winkels",
	"nabij winkels":    "Nabij winkels",
	"near highway":     "Nabij autosnelweg",
	"public transport": "Openbaar vervoer",
	"openbaar vervoer": "Openbaar vervoer",
	"green area":       "Groene omgeving",
	"groene omgeving":  "Groene omgeving",
}

func translateWithMap(table map[string]string, label string) string {
	if canonical, ok := table[strings.ToLower(strings.TrimSpace(label))]; ok {
		return canonical
	}
	return label
}

// TranslateFacility folds a facility label onto its canonical form. Unknown
// labels pass through unchanged.
func TranslateFacility(label string) string {
	return translateWithMap(facilityTranslations, label)
}

// TranslateEnvironment folds an environment label onto its canonical form.
func TranslateEnvironment(label string) string {
	return translateWithMap(environmentTranslations, label)
}
