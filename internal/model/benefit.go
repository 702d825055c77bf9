package model

import "strings"

// BenefitType identifies a category of bookable amenity.  Credits,
// settings and slots are all keyed by the normalized value.
type BenefitType string

const (
	BenefitPool             BenefitType = "pool"
	BenefitSauna            BenefitType = "sauna"
	BenefitClass            BenefitType = "class"
	BenefitPersonalTraining BenefitType = "personal_training"
	BenefitOther            BenefitType = "other"
)

// BenefitTypes lists the canonical benefit types.
var BenefitTypes = []BenefitType{BenefitPool, BenefitSauna, BenefitClass, BenefitPersonalTraining, BenefitOther}

// benefitAliases maps the spellings seen in plan and package payloads to
// the canonical benefit types.
var benefitAliases = map[string]BenefitType{
	"pool":              BenefitPool,
	"pool_lane":         BenefitPool,
	"swimming":          BenefitPool,
	"sauna":             BenefitSauna,
	"class":             BenefitClass,
	"group_class":       BenefitClass,
	"classes":           BenefitClass,
	"personal_training": BenefitPersonalTraining,
	"pt":                BenefitPersonalTraining,
	"pt_session":        BenefitPersonalTraining,
	"other":             BenefitOther,
}

// NormalizeBenefitType converts a raw benefit code into a BenefitType.
// Matching is case-insensitive and treats '-' and ' ' like '_'.  Unknown
// codes fall back to BenefitOther.
func NormalizeBenefitType(raw string) BenefitType {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if bt, ok := benefitAliases[s]; ok {
		return bt
	}
	return BenefitOther
}

// Valid reports whether b is one of the canonical benefit types.
func (b BenefitType) Valid() bool {
	switch b {
	case BenefitPool, BenefitSauna, BenefitClass, BenefitPersonalTraining, BenefitOther:
		return true
	}
	return false
}
