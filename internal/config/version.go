package config

import "fmt"

// CurrentVersion is the config file layout this build reads. Files without a
// version are read as CurrentVersion.
const CurrentVersion = 1

// Reasons a config version is refused.
const (
	ReasonMissing  = "missing"
	ReasonInvalid  = "not a valid version"
	ReasonOutdated = "older than this build"
	ReasonNewer    = "newer than this build"
)

// VersionError reports a config file written for another notesagent
// config layout.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Reason {
	case ReasonNewer:
		return fmt.Sprintf("config version %d is %s (notesagent reads version %d): upgrade notesagent, or compare the file against `notesagent config schema`",
			e.Version, e.Reason, e.Current)
	case "":
		return fmt.Sprintf("config version %d is unsupported (notesagent reads version %d)", e.Version, e.Current)
	default:
		return fmt.Sprintf("config version %d is %s (notesagent reads version %d): set `version: %d` and check the file with `notesagent config validate`",
			e.Version, e.Reason, e.Current, e.Current)
	}
}

// ValidateVersion returns a *VersionError unless version is CurrentVersion.
func ValidateVersion(version int) error {
	var reason string
	switch {
	case version == CurrentVersion:
		return nil
	case version == 0:
		reason = ReasonMissing
	case version < 0:
		reason = ReasonInvalid
	case version < CurrentVersion:
		reason = ReasonOutdated
	default:
		reason = ReasonNewer
	}
	return &VersionError{Version: version, Current: CurrentVersion, Reason: reason}
}
