// Package version exposes the build identity stamped in at link time.
//
//	go build -ldflags "-X github.com/gnomegg/chatd/pkg/version.tag=v0.3.0
//	  -X github.com/gnomegg/chatd/pkg/version.commit=abc1234
//	  -X github.com/gnomegg/chatd/pkg/version.date=2026-08-01"
//
// The relay logs the result once at startup so operators can tell which
// build answered a report.
package version

var (
	tag    = ""        // release tag, empty on untagged builds
	commit = "unknown" // short git commit SHA
	date   = "unknown" // build date (ISO 8601)
)

// String returns the most specific identity available: tag, then commit,
// then "dev" for unstamped local builds.
func String() string {
	if tag != "" {
		return tag
	}
	if commit != "unknown" {
		return commit
	}
	return "dev"
}

// Full returns "tag (commit) built date", degrading when pieces are missing.
func Full() string {
	if tag != "" {
		return tag + " (" + commit + ") built " + date
	}
	if commit != "unknown" {
		return commit + " built " + date
	}
	return "dev"
}

// Tag returns the release tag, or empty string.
func Tag() string { return tag }

// Commit returns the short commit SHA.
func Commit() string { return commit }

// Date returns the build date.
func Date() string { return date }
