package types

import "time"

type UserRef struct {
	Href     string
	Username string
}

type ProjectVersionRef struct {
	ProjectName string
	VersionName string
	Href        string
	UIHref      string
}

type ComponentVersionRef struct {
	Href    string
	Name    string
	Version string
}

type BomEntryRef struct {
	Href             string
	ComponentVersion ComponentVersionRef
}

type ProjectNameVersion struct {
	ProjectName string
	VersionName string
}

// Notification is one entry of the remote change feed. It only says that
// something changed; the current policy status is read back from the BOM
// entry. BomEntry is empty when the feed did not name one.
type Notification struct {
	ID               string
	Kind             NotificationKind
	CreatedAt        time.Time
	ProjectVersions  []ProjectNameVersion
	ComponentVersion ComponentVersionRef
	BomEntry         string
}
