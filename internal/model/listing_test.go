package model

import "testing"

func TestListingStatus_CanTransitionTo(t *testing.T) {
	all := []ListingStatus{StatusActive, StatusSold, StatusRemoved}

	legal := map[[2]ListingStatus]bool{
		{StatusActive, StatusSold}:    true,
		{StatusActive, StatusRemoved}: true,
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[[2]ListingStatus{from, to}]
			if got := from.CanTransitionTo(to); got != want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestListingStatus_TerminalAndValid(t *testing.T) {
	tests := []struct {
		status       ListingStatus
		wantValid    bool
		wantTerminal bool
	}{
		{StatusActive, true, false},
		{StatusSold, true, true},
		{StatusRemoved, true, true},
		{"archived", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.wantValid {
				t.Errorf("Valid() = %v, want %v", got, tt.wantValid)
			}
			if got := tt.status.Terminal(); got != tt.wantTerminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.wantTerminal)
			}
		})
	}
}

func TestStatusFromSoldFlag(t *testing.T) {
	if got := StatusFromSoldFlag(true); got != StatusSold {
		t.Errorf("StatusFromSoldFlag(true) = %q, want %q", got, StatusSold)
	}
	if got := StatusFromSoldFlag(false); got != StatusActive {
		t.Errorf("StatusFromSoldFlag(false) = %q, want %q", got, StatusActive)
	}
}

func TestListingPatch_Empty(t *testing.T) {
	if !(ListingPatch{}).Empty() {
		t.Error("zero ListingPatch should be empty")
	}
	title := "x"
	if (ListingPatch{Title: &title}).Empty() {
		t.Error("patch with a title should not be empty")
	}
}

func TestUser_PublicOmitsEmail(t *testing.T) {
	u := &User{ID: "u1", Email: "a@campus.edu", Name: "Asha", Department: "CSE"}
	p := u.Public()
	if p.ID != "u1" || p.Name != "Asha" || p.Department != "CSE" {
		t.Errorf("Public() = %+v", p)
	}
}
