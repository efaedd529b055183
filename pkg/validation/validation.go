package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"memberdash/internal/core/domain"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// MemberIDRegex accepts identity subject ids (uuids and similar opaque ids)
	MemberIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const (
	MinPasswordLength = 6
	MaxPasswordLength = 128
	// MaxPasswordBytes is the most bcrypt will hash.
	MaxPasswordBytes = 72
	MinNameLength    = 2
	MaxNameLength    = 100
)

// FieldErrors maps a request field to the first problem found with it.
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+fe[f])
	}
	return strings.Join(parts, "; ")
}

func (fe FieldErrors) add(field string, err error) {
	if err == nil {
		return
	}
	if _, exists := fe[field]; !exists {
		fe[field] = err.Error()
	}
}

func (fe FieldErrors) orNil() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}

// CreateMemberRequest is the create form as submitted.
type CreateMemberRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	Name            string
	Role            string
	Status          string
}

// ValidateCreateMember checks every field and reports all failures at once.
func ValidateCreateMember(req CreateMemberRequest) error {
	errs := FieldErrors{}
	errs.add("email", ValidateEmail(req.Email))
	errs.add("password", ValidatePassword(req.Password))
	errs.add("confirm", ValidatePassword(req.ConfirmPassword))
	if req.Password != req.ConfirmPassword {
		errs.add("confirm", fmt.Errorf("passwords do not match"))
	}
	errs.add("name", ValidateName(req.Name))
	errs.add("role", ValidateRole(req.Role))
	errs.add("status", ValidateStatus(req.Status))
	return errs.orNil()
}

// ValidateMemberPatch validates only the fields that are present.
func ValidateMemberPatch(patch domain.MemberPatch) error {
	if patch.IsEmpty() {
		return domain.ErrEmptyPatch
	}
	errs := FieldErrors{}
	if patch.Name != nil {
		errs.add("name", ValidateName(*patch.Name))
	}
	if patch.Email != nil {
		errs.add("email", ValidateEmail(*patch.Email))
	}
	return errs.orNil()
}

func ValidatePermissionPatch(patch domain.PermissionPatch) error {
	if patch.IsEmpty() {
		return domain.ErrEmptyPatch
	}
	errs := FieldErrors{}
	if patch.Role != nil {
		errs.add("role", ValidateRole(string(*patch.Role)))
	}
	if patch.Status != nil {
		errs.add("status", ValidateStatus(string(*patch.Status)))
	}
	return errs.orNil()
}

func ValidateIdentityAttributes(attrs domain.IdentityAttributes) error {
	if attrs.IsEmpty() {
		return domain.ErrEmptyPatch
	}
	errs := FieldErrors{}
	if attrs.Email != nil {
		errs.add("email", ValidateEmail(*attrs.Email))
	}
	if attrs.Password != nil {
		errs.add("password", ValidatePassword(*attrs.Password))
	}
	if attrs.Metadata != nil {
		errs.add("user_metadata.role", ValidateRole(string(attrs.Metadata.Role)))
		errs.add("user_metadata.status", ValidateStatus(string(attrs.Metadata.Status)))
	}
	return errs.orNil()
}

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidatePassword checks the length in characters, then the encoded size.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if !utf8.ValidString(password) {
		return fmt.Errorf("password contains invalid characters")
	}
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if n > MaxPasswordLength || len(password) > MaxPasswordBytes {
		return fmt.Errorf("password is too long (max %d bytes)", MaxPasswordBytes)
	}
	return nil
}

// ValidateName validates a member display name
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("name contains invalid characters")
	}
	return ValidateStringLength(name, MinNameLength, MaxNameLength, "name")
}

func ValidateRole(role string) error {
	if !domain.Role(role).Valid() {
		return fmt.Errorf("invalid role (must be %s or %s)", domain.RoleUser, domain.RoleAdmin)
	}
	return nil
}

func ValidateStatus(status string) error {
	if !domain.Status(status).Valid() {
		return fmt.Errorf("invalid status (must be %s or %s)", domain.StatusActive, domain.StatusUnActive)
	}
	return nil
}

// ValidateMemberID validates a member id taken from a URL
func ValidateMemberID(id string) error {
	if id == "" {
		return fmt.Errorf("member ID is required")
	}
	if len(id) > 100 {
		return fmt.Errorf("member ID is too long (max 100 characters)")
	}
	if !MemberIDRegex.MatchString(id) {
		return fmt.Errorf("invalid member ID format")
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
