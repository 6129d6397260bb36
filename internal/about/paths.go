// Package about holds the path conventions of per-author "about" documents.
// They must match exactly for peers to interoperate.
package about

import (
	"fmt"
	"strings"
)

const (
	Prefix          = "/about/"
	StatusFile      = "status.txt"
	LastOnlineFile  = "last-online.json"
	DisplayNameFile = "displayName.txt"

	// HeartbeatPresent is the content of a heartbeat written by an active identity.
	HeartbeatPresent = "true"
)

func path(author, file string) string {
	return fmt.Sprintf("%s~%s/%s", Prefix, author, file)
}

func StatusPath(author string) string {
	return path(author, StatusFile)
}

func LastOnlinePath(author string) string {
	return path(author, LastOnlineFile)
}

func DisplayNamePath(author string) string {
	return path(author, DisplayNameFile)
}

func IsStatusPath(p string) bool {
	return strings.HasPrefix(p, Prefix) && strings.HasSuffix(p, "/"+StatusFile)
}

// AuthorOf extracts the author segment of an about path.
func AuthorOf(p string) (string, bool) {
	rest := strings.TrimPrefix(p, Prefix+"~")
	if rest == p {
		return "", false
	}

	i := strings.IndexByte(rest, '/')
	if i <= 0 {
		return "", false
	}

	return rest[:i], true
}
