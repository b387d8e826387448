package gate

// Policy decides what a signed-in non-subscriber gets for a feature
type Policy int

// define constants
const (
	// PolicyFreeQuota lets free users in while their weekly quota lasts
	PolicyFreeQuota Policy = iota
	// PolicySignedIn lets every signed-in user in
	PolicySignedIn
	// PolicySubscriberOnly denies free users with PAYWALL
	PolicySubscriberOnly
)

func (p Policy) String() string {
	switch p {
	case PolicyFreeQuota:
		return "free_quota"
	case PolicySignedIn:
		return "signed_in"
	case PolicySubscriberOnly:
		return "subscriber_only"
	default:
		return "unknown"
	}
}

// Feature is a gated capability
type Feature struct {
	Name   string
	Policy Policy
}

// Catalogue of gated features
var (
	DiagnosticSummaryFull = Feature{Name: "DIAGNOSTIC_SUMMARY_FULL", Policy: PolicySignedIn}
	Explanations          = Feature{Name: "EXPLANATIONS", Policy: PolicySubscriberOnly}
	PracticeSession       = Feature{Name: "PRACTICE_SESSION", Policy: PolicyFreeQuota}
)

var features = map[string]Feature{
	DiagnosticSummaryFull.Name: DiagnosticSummaryFull,
	Explanations.Name:          Explanations,
	PracticeSession.Name:       PracticeSession,
}

// FeatureByName looks up a feature of the catalogue
func FeatureByName(name string) (Feature, bool) {
	f, ok := features[name]
	return f, ok
}
