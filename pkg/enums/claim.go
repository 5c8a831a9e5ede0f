package enums

import "fmt"

// ClaimStatus maps to the claim_status enum in Postgres.
type ClaimStatus string

const (
	ClaimStatusPending  ClaimStatus = "pending"
	ClaimStatusApproved ClaimStatus = "approved"
	ClaimStatusRejected ClaimStatus = "rejected"
)

var validClaimStatuses = []ClaimStatus{
	ClaimStatusPending,
	ClaimStatusApproved,
	ClaimStatusRejected,
}

func (s ClaimStatus) String() string {
	return string(s)
}

func (s ClaimStatus) IsValid() bool {
	for _, candidate := range validClaimStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsDecision reports whether the status is a terminal owner decision.
func (s ClaimStatus) IsDecision() bool {
	return s == ClaimStatusApproved || s == ClaimStatusRejected
}

// ParseClaimStatus converts raw input into a ClaimStatus.
func ParseClaimStatus(value string) (ClaimStatus, error) {
	for _, candidate := range validClaimStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid claim status %q", value)
}
