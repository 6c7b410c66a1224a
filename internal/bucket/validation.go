package bucket

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/stratafs/stratafs/internal/metadata"
)

// S3 bucket naming rules
const (
	MinBucketNameLength = 3
	MaxBucketNameLength = 63
)

var (
	validBucketNameRegex     = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]*[a-z0-9])?$`)
	invalidConsecutiveDashes = regexp.MustCompile(`--`)
	ipAddressPattern         = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

// ValidateName validates a bucket name according to S3 rules.
func ValidateName(name string) error {
	if name == "" {
		return metadata.ErrInvalidBucketName
	}

	if len(name) < MinBucketNameLength || len(name) > MaxBucketNameLength {
		return fmt.Errorf("%w: name must be between %d and %d characters",
			metadata.ErrInvalidBucketName, MinBucketNameLength, MaxBucketNameLength)
	}

	if !validBucketNameRegex.MatchString(name) {
		return fmt.Errorf("%w: name must start and end with alphanumeric characters and contain only lowercase letters, numbers, and hyphens",
			metadata.ErrInvalidBucketName)
	}

	if invalidConsecutiveDashes.MatchString(name) {
		return fmt.Errorf("%w: name cannot contain consecutive dashes", metadata.ErrInvalidBucketName)
	}

	if ipAddressPattern.MatchString(name) {
		return fmt.Errorf("%w: name cannot be formatted as IP address", metadata.ErrInvalidBucketName)
	}

	if strings.HasPrefix(name, "xn--") {
		return fmt.Errorf("%w: name cannot start with 'xn--'", metadata.ErrInvalidBucketName)
	}

	if strings.HasSuffix(name, "-s3alias") {
		return fmt.Errorf("%w: name cannot end with '-s3alias'", metadata.ErrInvalidBucketName)
	}

	return nil
}

// ValidatePolicy checks the structural requirements of a bucket policy.
func ValidatePolicy(policy *metadata.PolicyDocument) error {
	if policy == nil {
		return fmt.Errorf("policy is required")
	}
	if policy.Version == "" {
		return fmt.Errorf("policy version is required")
	}
	if len(policy.Statement) == 0 {
		return fmt.Errorf("policy must have at least one statement")
	}
	for i, stmt := range policy.Statement {
		if stmt.Effect != "Allow" && stmt.Effect != "Deny" {
			return fmt.Errorf("statement %d: effect must be Allow or Deny", i)
		}
		if stmt.Action == nil {
			return fmt.Errorf("statement %d: action is required", i)
		}
		if stmt.Resource == nil {
			return fmt.Errorf("statement %d: resource is required", i)
		}
	}
	return nil
}

// ValidateVPC checks that every entry of a CIDR allow-list parses.
func ValidateVPC(cfg *metadata.VPCMetadata) error {
	if cfg == nil {
		return fmt.Errorf("vpc configuration is required")
	}
	for _, cidr := range cfg.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid CIDR %q: %w", cidr, err)
		}
	}
	return nil
}
