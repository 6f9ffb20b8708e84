package tier

import "strings"

// Tier is a traffic class. Each request is classified into exactly one
// tier by path; Global is not assignable from a path, it is the extra
// per-client accounting bucket shared by all tiers.
type Tier int

const (
	Health Tier = iota
	API
	ML
	Data
	Global
)

func (t Tier) String() string {
	switch t {
	case Health:
		return "health"
	case API:
		return "api"
	case ML:
		return "ml"
	case Data:
		return "data"
	case Global:
		return "global"
	}
	return "api"
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Classifiable lists the tiers a request path can map to, in a stable
// order. Global is excluded.
func Classifiable() []Tier {
	return []Tier{Health, API, ML, Data}
}

// FromPath maps a request path to its tier, first match wins:
//
//	/health*               -> Health
//	/api/ml/* or *predict* -> ML
//	/api/data/* or *stock* -> Data
//	/api/*                 -> API
//	anything else          -> API
//
// It never fails; unknown paths fall through to the default tier.
func FromPath(path string) Tier {
	switch {
	case strings.HasPrefix(path, "/health"):
		return Health
	case strings.HasPrefix(path, "/api/ml/") || strings.Contains(path, "predict"):
		return ML
	case strings.HasPrefix(path, "/api/data/") || strings.Contains(path, "stock"):
		return Data
	default:
		return API
	}
}
