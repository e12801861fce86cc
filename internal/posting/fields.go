package posting

import "strings"

// Seniority is the normalized seniority level extracted from a posting.
type Seniority string

const (
	SeniorityUnknown   Seniority = ""
	SeniorityIntern    Seniority = "intern"
	SeniorityJunior    Seniority = "junior"
	SeniorityMid       Seniority = "mid"
	SenioritySenior    Seniority = "senior"
	SeniorityLead      Seniority = "lead"
	SeniorityPrincipal Seniority = "principal"
)

// Fields is the structured extraction result for a posting or a resume.
type Fields struct {
	Skills        []string  `json:"skills,omitempty"`
	ExperienceMin float64   `json:"experience_min,omitempty"`
	ExperienceMax float64   `json:"experience_max,omitempty"`
	Seniority     Seniority `json:"seniority,omitempty"`
}

// Empty reports whether extraction produced nothing usable.
func (f *Fields) Empty() bool {
	if f == nil {
		return true
	}
	return len(f.Skills) == 0 && f.ExperienceMax == 0 && f.Seniority == SeniorityUnknown
}

// ParseSeniority maps free-form provider output onto the seniority enum.
// Unrecognized values collapse to SeniorityUnknown rather than failing.
func ParseSeniority(s string) Seniority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intern", "internship", "trainee":
		return SeniorityIntern
	case "junior", "entry", "entry-level", "entry level", "associate":
		return SeniorityJunior
	case "mid", "middle", "mid-level", "mid level", "intermediate":
		return SeniorityMid
	case "senior", "sr":
		return SenioritySenior
	case "lead", "staff", "manager":
		return SeniorityLead
	case "principal", "director", "head":
		return SeniorityPrincipal
	default:
		return SeniorityUnknown
	}
}
