package model

import (
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	type tcase struct {
		name      string
		expectErr error
	}

	tcases := map[string]tcase{
		"simple":        {name: "essaywriter", expectErr: nil},
		"with_digits":   {name: "harkdan123", expectErr: nil},
		"underscore":    {name: "right_to_bear", expectErr: nil},
		"empty":         {name: "", expectErr: ErrUsernameEmpty},
		"too_long":      {name: strings.Repeat("a", 21), expectErr: ErrUsernameTooLong},
		"max_length":    {name: strings.Repeat("a", 20), expectErr: nil},
		"spaces":        {name: "essay writer", expectErr: ErrUsernameInvalidChars},
		"hyphen":        {name: "essay-writer", expectErr: ErrUsernameInvalidChars},
		"sql_injection": {name: "' OR '1'='1", expectErr: ErrUsernameInvalidChars},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			if got := ValidateUsername(tc.name); got != tc.expectErr {
				t.Fatalf("ValidateUsername(%q) = %v, want %v", tc.name, got, tc.expectErr)
			}
		})
	}
}

func TestRoleSetFlags(t *testing.T) {
	rs := RoleSet(0).With(RoleModerator).With(RoleSubscriber)

	if !rs.Has(RoleModerator) {
		t.Fatalf("expected moderator flag")
	}
	if rs.Has(RoleAdministrator) {
		t.Fatalf("administrator flag should not be set")
	}
	if !rs.HasAny(RoleAdministrator | RoleModerator) {
		t.Fatalf("HasAny should match moderator")
	}
	// Flags are independent, not a hierarchy.
	admin := RoleAdministrator
	if admin.Has(RoleModerator) {
		t.Fatalf("administrator must not imply moderator")
	}
}

func TestParseRoles(t *testing.T) {
	rs := ParseRoles("moderator, vip,unknown,bot")
	want := RoleModerator | RoleVIP | RoleBot
	if rs != want {
		t.Fatalf("ParseRoles = %v, want %v", rs, want)
	}
}

func TestMuteExpiryBoundary(t *testing.T) {
	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := Mute{Subject: "essaywriter", IssuedAt: issued, Duration: time.Minute}

	if !m.Active(issued.Add(time.Minute - time.Nanosecond)) {
		t.Fatalf("mute should be active just before expiry")
	}
	if m.Active(issued.Add(time.Minute)) {
		t.Fatalf("mute should be inactive at exactly issued_at+duration")
	}
	if m.Active(issued.Add(time.Minute + time.Nanosecond)) {
		t.Fatalf("mute should be inactive after expiry")
	}
}

func TestPermanentEntries(t *testing.T) {
	issued := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := Ban{Subject: "essaywriter", IssuedAt: issued, Duration: 0}

	if !b.Active(issued.AddDate(10, 0, 0)) {
		t.Fatalf("zero-duration ban should be permanent")
	}
}

func TestValidateMessage(t *testing.T) {
	if err := ValidateMessage("hello chat"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateMessage("   "); err != ErrMessageEmpty {
		t.Fatalf("expected ErrMessageEmpty, got %v", err)
	}
	if err := ValidateMessage(strings.Repeat("x", MaxMessageLength+1)); err != ErrMessageTooLong {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
}
