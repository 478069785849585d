package types

import "strings"

type InspectionStatus string

const (
	// InspectionStatusUnknown is the absence of a recorded status; it is never persisted.
	InspectionStatusUnknown InspectionStatus = "UNKNOWN"
	InspectionStatusPending InspectionStatus = "PENDING"
	InspectionStatusSuccess InspectionStatus = "SUCCESS"
	InspectionStatusFailure InspectionStatus = "FAILURE"
)

func ParseInspectionStatus(value string) (InspectionStatus, bool) {
	switch InspectionStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case InspectionStatusPending:
		return InspectionStatusPending, true
	case InspectionStatusSuccess:
		return InspectionStatusSuccess, true
	case InspectionStatusFailure:
		return InspectionStatusFailure, true
	}
	return InspectionStatusUnknown, false
}

type UpdateStatus string

const (
	UpdateStatusUpToDate  UpdateStatus = "UP_TO_DATE"
	UpdateStatusOutOfDate UpdateStatus = "OUT_OF_DATE"
)

type PolicySummaryStatus string

const (
	PolicyStatusNotInViolation        PolicySummaryStatus = "NOT_IN_VIOLATION"
	PolicyStatusInViolation           PolicySummaryStatus = "IN_VIOLATION"
	PolicyStatusInViolationOverridden PolicySummaryStatus = "IN_VIOLATION_OVERRIDDEN"
)

func ParsePolicySummaryStatus(value string) (PolicySummaryStatus, bool) {
	switch PolicySummaryStatus(strings.ToUpper(strings.TrimSpace(value))) {
	case PolicyStatusNotInViolation:
		return PolicyStatusNotInViolation, true
	case PolicyStatusInViolation:
		return PolicyStatusInViolation, true
	case PolicyStatusInViolationOverridden:
		return PolicyStatusInViolationOverridden, true
	}
	return "", false
}

// PolicySeverity is kept as an open string set; the remote service may
// introduce severities this code does not know about.
type PolicySeverity string

const (
	PolicySeverityBlocker     PolicySeverity = "BLOCKER"
	PolicySeverityCritical    PolicySeverity = "CRITICAL"
	PolicySeverityMajor       PolicySeverity = "MAJOR"
	PolicySeverityMinor       PolicySeverity = "MINOR"
	PolicySeverityTrivial     PolicySeverity = "TRIVIAL"
	PolicySeverityHigh        PolicySeverity = "HIGH"
	PolicySeverityMedium      PolicySeverity = "MEDIUM"
	PolicySeverityLow         PolicySeverity = "LOW"
	PolicySeverityUnspecified PolicySeverity = "UNSPECIFIED"
)

// NormalizePolicySeverity upper-cases a severity and maps blanks to UNSPECIFIED.
func NormalizePolicySeverity(value string) PolicySeverity {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return PolicySeverityUnspecified
	}
	return PolicySeverity(trimmed)
}

type ScanResult string

const (
	ScanResultSuccess ScanResult = "SUCCESS"
	ScanResultFailure ScanResult = "FAILURE"
)

// ScanStatus is the scan-as-a-service scan state of an artifact.
type ScanStatus string

const (
	ScanStatusFailed     ScanStatus = "FAILED"
	ScanStatusProcessing ScanStatus = "PROCESSING"
	ScanStatusSuccess    ScanStatus = "SUCCESS"
)

type BlockingStrategy string

const (
	BlockingStrategyBlockAll  BlockingStrategy = "BLOCK_ALL"
	BlockingStrategyBlockNone BlockingStrategy = "BLOCK_NONE"
	BlockingStrategyBlockOff  BlockingStrategy = "BLOCK_OFF"
)

func ParseBlockingStrategy(value string) (BlockingStrategy, bool) {
	switch BlockingStrategy(strings.ToUpper(strings.TrimSpace(value))) {
	case BlockingStrategyBlockAll:
		return BlockingStrategyBlockAll, true
	case BlockingStrategyBlockNone:
		return BlockingStrategyBlockNone, true
	case BlockingStrategyBlockOff:
		return BlockingStrategyBlockOff, true
	}
	return "", false
}

type NotificationKind string

const (
	NotificationPolicyViolation        NotificationKind = "RULE_VIOLATION"
	NotificationPolicyViolationCleared NotificationKind = "RULE_VIOLATION_CLEARED"
	NotificationPolicyOverride         NotificationKind = "POLICY_OVERRIDE"
	NotificationVulnerability          NotificationKind = "VULNERABILITY"
)

func (k NotificationKind) IsPolicy() bool {
	switch k {
	case NotificationPolicyViolation, NotificationPolicyViolationCleared, NotificationPolicyOverride:
		return true
	}
	return false
}

type PackageType string

const (
	PackageTypeMaven  PackageType = "maven"
	PackageTypeGradle PackageType = "gradle"
	PackageTypeNpm    PackageType = "npm"
	PackageTypePypi   PackageType = "pypi"
	PackageTypeNuget  PackageType = "nuget"
	PackageTypeGems   PackageType = "gems"
	PackageTypeDebian PackageType = "debian"
)

var supportedPackageTypes = map[PackageType]struct{}{
	PackageTypeMaven:  {},
	PackageTypeGradle: {},
	PackageTypeNpm:    {},
	PackageTypePypi:   {},
	PackageTypeNuget:  {},
	PackageTypeGems:   {},
	PackageTypeDebian: {},
}

func ParsePackageType(value string) (PackageType, bool) {
	normalized := PackageType(strings.ToLower(strings.TrimSpace(value)))
	_, ok := supportedPackageTypes[normalized]
	return normalized, ok
}

type StorageEventKind string

const (
	StorageEventCreated StorageEventKind = "created"
	StorageEventCopied  StorageEventKind = "copied"
	StorageEventMoved   StorageEventKind = "moved"
)
