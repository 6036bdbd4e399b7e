package queue

// AlertKind classifies an operator alert published to the alert stream.
type AlertKind string

const (
	AlertProviderDown    AlertKind = "provider_down"
	AlertDomainSuspended AlertKind = "domain_suspended"
)

// Alert is one operator alert. Provider alerts carry Provider and
// FailureRate; domain alerts carry TenantID, Domain, and the rate that
// tripped the suspension.
type Alert struct {
	Kind          AlertKind
	Provider      string
	FailureRate   *float64
	TenantID      string
	Domain        string
	BounceRate    *float64
	ComplaintRate *float64
	Reason        string
	Attempt       int
}
