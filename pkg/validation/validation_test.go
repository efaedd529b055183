package validation

import (
	"errors"
	"strings"
	"testing"

	"memberdash/internal/core/domain"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid email", "user@example.com", false},
		{"valid email with subdomain", "user@mail.example.com", false},
		{"empty email", "", true},
		{"invalid format", "invalid-email", true},
		{"missing @", "userexample.com", true},
		{"too long", strings.Repeat("a", 250) + "@example.com", true},
		{"valid with plus", "user+tag@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"minimum length", "pass12", false},
		{"empty", "", true},
		{"too short", "pass5", true},
		{"too long", strings.Repeat("a", 129), true},
		{"bcrypt limit", strings.Repeat("a", 72), false},
		{"over bcrypt limit", strings.Repeat("a", 73), true},
		{"three accented chars", "ééé", true},
		{"six accented chars", "éééééé", false},
		{"six cjk chars", "密码密码密码", false},
		{"multibyte over byte limit", strings.Repeat("€", 25), true},
		{"invalid utf8", "abcdef\xff", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"two chars", "Al", false},
		{"unicode", "Zoë", false},
		{"one char", "A", true},
		{"blank", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCreateMember(t *testing.T) {
	valid := CreateMemberRequest{
		Email:           "a@b.co",
		Password:        "secret1",
		ConfirmPassword: "secret1",
		Name:            "Al",
		Role:            "user",
		Status:          "active",
	}

	tests := []struct {
		name      string
		mutate    func(*CreateMemberRequest)
		wantField string
	}{
		{"valid", func(*CreateMemberRequest) {}, ""},
		{"admin unActive", func(r *CreateMemberRequest) { r.Role = "admin"; r.Status = "unActive" }, ""},
		{"bad email", func(r *CreateMemberRequest) { r.Email = "nope" }, "email"},
		{"short password", func(r *CreateMemberRequest) { r.Password = "abc"; r.ConfirmPassword = "abc" }, "password"},
		{"mismatched confirm", func(r *CreateMemberRequest) { r.ConfirmPassword = "secret2" }, "confirm"},
		{"short name", func(r *CreateMemberRequest) { r.Name = "A" }, "name"},
		{"anonymous role", func(r *CreateMemberRequest) { r.Role = "anonymous" }, "role"},
		{"superuser role", func(r *CreateMemberRequest) { r.Role = "superuser" }, "role"},
		{"status casing", func(r *CreateMemberRequest) { r.Status = "inactive" }, "status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)

			err := ValidateCreateMember(req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var fe FieldErrors
			if !errors.As(err, &fe) {
				t.Fatalf("expected FieldErrors, got %v", err)
			}
			if _, ok := fe[tt.wantField]; !ok {
				t.Errorf("expected error on field %q, got %v", tt.wantField, fe)
			}
		})
	}
}

func TestValidatePatches(t *testing.T) {
	if err := ValidateMemberPatch(domain.MemberPatch{}); !errors.Is(err, domain.ErrEmptyPatch) {
		t.Errorf("empty member patch: got %v", err)
	}

	name := "B"
	if err := ValidateMemberPatch(domain.MemberPatch{Name: &name}); err == nil {
		t.Error("expected short name to fail")
	}

	role := domain.Role("owner")
	if err := ValidatePermissionPatch(domain.PermissionPatch{Role: &role}); err == nil {
		t.Error("expected unknown role to fail")
	}

	status := domain.StatusUnActive
	if err := ValidatePermissionPatch(domain.PermissionPatch{Status: &status}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	pw := "12345"
	if err := ValidateIdentityAttributes(domain.IdentityAttributes{Password: &pw}); err == nil {
		t.Error("expected short password to fail")
	}
}

func TestFieldErrors_ErrorIsSorted(t *testing.T) {
	fe := FieldErrors{"role": "bad", "email": "bad"}
	if got := fe.Error(); got != "email: bad; role: bad" {
		t.Errorf("Error() = %q", got)
	}
}
