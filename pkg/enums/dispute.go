package enums

import "slices"

// DisputeStatus maps to the dispute_status enum in Postgres.
type DisputeStatus string

const (
	DisputeStatusOpen       DisputeStatus = "OPEN"
	DisputeStatusInProgress DisputeStatus = "IN_PROGRESS"
	DisputeStatusResolved   DisputeStatus = "RESOLVED"
	DisputeStatusClosed     DisputeStatus = "CLOSED"
	DisputeStatusCancelled  DisputeStatus = "CANCELLED"
)

var validDisputeStatuses = []DisputeStatus{
	DisputeStatusOpen,
	DisputeStatusInProgress,
	DisputeStatusResolved,
	DisputeStatusClosed,
	DisputeStatusCancelled,
}

// IsValid reports whether the value is a known DisputeStatus.
func (s DisputeStatus) IsValid() bool {
	return slices.Contains(validDisputeStatuses, s)
}

// IsActive reports whether the dispute still awaits a decision.
func (s DisputeStatus) IsActive() bool {
	return s == DisputeStatusOpen || s == DisputeStatusInProgress
}

// ParseDisputeStatus converts raw input into a DisputeStatus.
func ParseDisputeStatus(value string) (DisputeStatus, error) {
	return parse(validDisputeStatuses, value, "dispute status")
}

// DisputeResolution is the staff decision closing a dispute.
type DisputeResolution string

const (
	DisputeResolutionApproveRefund DisputeResolution = "APPROVE_REFUND"
	DisputeResolutionReject        DisputeResolution = "REJECT_DISPUTE"
	DisputeResolutionNoRefund      DisputeResolution = "RESOLVE_WITHOUT_REFUND"
)

var validDisputeResolutions = []DisputeResolution{
	DisputeResolutionApproveRefund,
	DisputeResolutionReject,
	DisputeResolutionNoRefund,
}

// IsValid reports whether the value is a known DisputeResolution.
func (r DisputeResolution) IsValid() bool {
	return slices.Contains(validDisputeResolutions, r)
}

// ParseDisputeResolution converts raw input into a DisputeResolution.
func ParseDisputeResolution(value string) (DisputeResolution, error) {
	return parse(validDisputeResolutions, value, "dispute resolution")
}
