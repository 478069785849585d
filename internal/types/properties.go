package types

const propertyPrefix = "blackduck."

// convertedSuffix names the twin of a time-valued property rendered in the
// configured display zone.
const convertedSuffix = ".converted"

// PropertyKey is a persisted fact name. Deprecated names are read when the
// canonical one is absent and deleted alongside it.
type PropertyKey struct {
	Name       string
	Deprecated []string
	Time       bool
}

func (k PropertyKey) ConvertedName() string {
	return k.Name + convertedSuffix
}

// Names returns the canonical name followed by every alias.
func (k PropertyKey) Names() []string {
	names := make([]string, 0, 1+len(k.Deprecated))
	names = append(names, k.Name)
	names = append(names, k.Deprecated...)
	return names
}

func key(suffix string, deprecated ...string) PropertyKey {
	return PropertyKey{Name: propertyPrefix + suffix, Deprecated: deprecated}
}

func timeKey(suffix string, deprecated ...string) PropertyKey {
	k := key(suffix, deprecated...)
	k.Time = true
	return k
}

var (
	PropOriginID                = key("originId", "hubOriginId")
	PropForge                   = key("forge", "hubForge")
	PropProjectName             = key("projectName", "hubProjectName")
	PropProjectVersionName      = key("projectVersionName", "hubProjectVersionName")
	PropInspectionStatus        = key("inspectionStatus", "hubInspectionStatus")
	PropInspectionStatusMessage = key("inspectionStatusMessage")
	PropInspectionRetryCount    = key("inspectionRetryCount")
	PropLastInspection          = timeKey("lastInspection", "hubLastInspection")
	PropLastUpdate              = timeKey("lastUpdate", "hubLastUpdate")
	PropUpdateStatus            = key("updateStatus", "hubUpdateStatus")
	PropPolicyStatus            = key("policyStatus", "hubPolicyStatus")
	PropPolicySeverityTypes     = key("policySeverityTypes")
	PropOverallPolicyStatus     = key("overallPolicyStatus")
	PropComponentVersionURL     = key("componentVersionUrl")
	PropProjectVersionUIURL     = key("uiUrl")
	PropScanResult              = key("scanResult")
	PropScanResultMessage       = key("scanResultMessage")
	PropScanTime                = timeKey("scanTime")
	PropHighVulnerabilities     = key("highVulnerabilities", "hubHighVulnerabilities")
	PropMediumVulnerabilities   = key("mediumVulnerabilities", "hubMediumVulnerabilities")
	PropLowVulnerabilities      = key("lowVulnerabilities", "hubLowVulnerabilities")
	PropScanAsAServiceStatus    = key("scaaas.scanStatus")
	PropScanAsAServicePolicy    = key("scaaas.policyStatus")
	PropScanAsAServiceResults   = key("scaaas.resultsUrl")
)

// AllProperties lists every key this module writes.
var AllProperties = []PropertyKey{
	PropOriginID,
	PropForge,
	PropProjectName,
	PropProjectVersionName,
	PropInspectionStatus,
	PropInspectionStatusMessage,
	PropInspectionRetryCount,
	PropLastInspection,
	PropLastUpdate,
	PropUpdateStatus,
	PropPolicyStatus,
	PropPolicySeverityTypes,
	PropOverallPolicyStatus,
	PropComponentVersionURL,
	PropProjectVersionUIURL,
	PropScanResult,
	PropScanResultMessage,
	PropScanTime,
	PropHighVulnerabilities,
	PropMediumVulnerabilities,
	PropLowVulnerabilities,
	PropScanAsAServiceStatus,
	PropScanAsAServicePolicy,
	PropScanAsAServiceResults,
}

var ScanAsAServiceProperties = []PropertyKey{
	PropScanAsAServiceStatus,
	PropScanAsAServicePolicy,
	PropScanAsAServiceResults,
}

// Package metadata properties set by the repository on upload.
const (
	PackagePropNpmName         = "npm.name"
	PackagePropNpmVersion      = "npm.version"
	PackagePropPypiName        = "pypi.name"
	PackagePropPypiVersion     = "pypi.version"
	PackagePropNugetID         = "nuget.id"
	PackagePropNugetVersion    = "nuget.version"
	PackagePropGemName         = "gem.name"
	PackagePropGemVersion      = "gem.version"
	PackagePropDebName         = "deb.name"
	PackagePropDebVersion      = "deb.version"
	PackagePropDebArchitecture = "deb.architecture"
)
