package models

import "testing"

func TestIsValidVerificationTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		{VerificationStatusPending, VerificationStatusUnderReview, true},
		{VerificationStatusPending, VerificationStatusRejected, true},
		{VerificationStatusUnderReview, VerificationStatusApproved, true},
		{VerificationStatusUnderReview, VerificationStatusRequiresMoreInfo, true},
		{VerificationStatusRequiresMoreInfo, VerificationStatusUnderReview, true},

		{VerificationStatusPending, VerificationStatusApproved, false},
		{VerificationStatusApproved, VerificationStatusRejected, false},
		{VerificationStatusRejected, VerificationStatusUnderReview, false},
		{VerificationStatusRequiresMoreInfo, VerificationStatusApproved, false},
		{"nonexistent", VerificationStatusUnderReview, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			if got := IsValidVerificationTransition(tt.from, tt.to); got != tt.expected {
				t.Errorf("IsValidVerificationTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}
