package spoke

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/ssh"
)

// Limits enforced on request input.
const (
	MinSpokeID           = 1
	MaxSpokeID           = 254
	minClientNameLength  = 3
	maxClientNameLength  = 50
	maxAdminNameLength   = 32
	maxInstanceSizeChars = 64
)

var (
	clientNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
	adminNamePattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	instanceSizeChars = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// reservedAdminNames cannot be used as the instance admin account.
var reservedAdminNames = map[string]bool{
	"root":          true,
	"admin":         true,
	"administrator": true,
}

// ValidationError reports every problem found in a request. It is never
// retried and never triggers rollback.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return "validation failed: " + e.Violations[0]
	}
	return fmt.Sprintf("validation failed: %d problems: %s", len(e.Violations), strings.Join(e.Violations, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

func (e *ValidationError) errOrNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// ValidateSpokeID checks that id addresses a /24 inside the spoke supernet.
func ValidateSpokeID(id int) error {
	if id < MinSpokeID || id > MaxSpokeID {
		return &ValidationError{Violations: []string{
			fmt.Sprintf("spoke_id must be between %d and %d, got %d", MinSpokeID, MaxSpokeID, id),
		}}
	}
	return nil
}

// Validate checks user input and returns a *ValidationError listing every
// violation, or nil.
func (in Input) Validate() error {
	verr := &ValidationError{}
	in.collect(verr)
	return verr.errOrNil()
}

func (in Input) collect(verr *ValidationError) {
	if in.SpokeID < MinSpokeID || in.SpokeID > MaxSpokeID {
		verr.add("spoke_id must be between %d and %d, got %d", MinSpokeID, MaxSpokeID, in.SpokeID)
	}
	validateClientName(verr, in.ClientName)

	if in.AdminUsername != "" {
		validateAdminUsername(verr, in.AdminUsername)
	}
	if in.InstanceSize != "" {
		validateInstanceSize(verr, in.InstanceSize)
	}
	if strings.TrimSpace(in.PublicKey) != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(in.PublicKey)); err != nil {
			verr.add("public_key is not a valid SSH public key: %v", err)
		}
	}
}

func validateClientName(verr *ValidationError, name string) {
	switch {
	case name == "":
		verr.add("client_name is required")
	case len(name) < minClientNameLength || len(name) > maxClientNameLength:
		verr.add("client_name must be %d-%d characters, got %d", minClientNameLength, maxClientNameLength, len(name))
	case !clientNamePattern.MatchString(name):
		verr.add("client_name must be alphanumeric with hyphens and cannot start or end with a hyphen")
	case strings.Contains(name, "--"):
		verr.add("client_name cannot contain consecutive hyphens")
	}
}

func validateAdminUsername(verr *ValidationError, name string) {
	switch {
	case len(name) > maxAdminNameLength:
		verr.add("admin_identity must be at most %d characters", maxAdminNameLength)
	case !adminNamePattern.MatchString(name):
		verr.add("admin_identity must start with a letter and contain only letters, digits, '_' or '-'")
	case reservedAdminNames[strings.ToLower(name)]:
		verr.add("admin_identity %q is reserved", name)
	}
}

func validateInstanceSize(verr *ValidationError, size string) {
	if len(size) > maxInstanceSizeChars || !instanceSizeChars.MatchString(size) {
		verr.add("instance_size %q is not a valid size name", size)
	}
}

// Validate re-checks a built request. The orchestrator runs it as the first
// workflow step so records restored from storage get the same checks.
func (r Request) Validate() error {
	verr := &ValidationError{}
	Input{
		SpokeID:       r.SpokeID,
		ClientName:    r.ClientName,
		InstanceSize:  r.InstanceSize,
		AdminUsername: r.AdminUsername,
		PublicKey:     r.PublicKey,
	}.collect(verr)
	if r.InstanceSize == "" {
		verr.add("instance_size is required")
	}
	if r.AdminUsername == "" {
		verr.add("admin_identity is required")
	}
	if len(r.Subnets) != len(subnetOrder) {
		verr.add("expected %d subnets, got %d", len(subnetOrder), len(r.Subnets))
	}
	return verr.errOrNil()
}
