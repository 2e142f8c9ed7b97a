// Package giturl classifies raw Git remote URLs and proxied request
// paths. Every parse is pure and bounded; malformed or over-length input
// yields a miss, never an error, since bad input is expected traffic on
// the hot path.
package giturl

import (
	"log"
	"net/http"
	"regexp"
	"strings"
)

// Inputs longer than this are rejected outright before any regexp runs,
// to bound worst-case matching cost.
const maxInputLength = 512

var (
	gitURLRe     = regexp.MustCompile(`^(https?://)([^/]+)(/.*?\.git)(/.*)?$`)
	urlPathRe    = regexp.MustCompile(`^(/.*?\.git)(/.*)?$`)
	nameAndOrgRe = regexp.MustCompile(`^https?://[^/]+/(?:(.+)/)?([^/]+\.git)$`)
)

// GitURL is a fully-qualified Git remote URL split into its parts.
// RepoPath ends at and includes ".git"; any trailing operation path is
// discarded.
type GitURL struct {
	Protocol string
	Host     string
	RepoPath string
}

// ProcessGitURL splits a Git remote URL. The second return is false on
// malformed or over-length input; callers must treat a miss as a reject.
func ProcessGitURL(url string) (GitURL, bool) {
	if len(url) > maxInputLength {
		log.Printf("giturl: rejecting over-length git URL (%d bytes)", len(url))
		return GitURL{}, false
	}
	m := gitURLRe.FindStringSubmatch(url)
	if m == nil {
		log.Printf("giturl: could not parse git URL %q", url)
		return GitURL{}, false
	}
	return GitURL{Protocol: m[1], Host: m[2], RepoPath: m[3]}, true
}

// URLPath is a proxied request path split into the repository portion
// (through ".git") and the remaining Git operation suffix.
type URLPath struct {
	RepoPath string
	GitPath  string
}

// ProcessURLPath splits a proxied request's URL path. GitPath defaults to
// "/" when the path ends at the repository.
func ProcessURLPath(requestPath string) (URLPath, bool) {
	if len(requestPath) > maxInputLength {
		log.Printf("giturl: rejecting over-length request path (%d bytes)", len(requestPath))
		return URLPath{}, false
	}
	m := urlPathRe.FindStringSubmatch(requestPath)
	if m == nil {
		log.Printf("giturl: could not parse request path %q", requestPath)
		return URLPath{}, false
	}
	gitPath := m[2]
	if gitPath == "" {
		gitPath = "/"
	}
	return URLPath{RepoPath: m[1], GitPath: gitPath}, true
}

// NameAndOrg is the trailing "{name}.git" of a remote URL plus everything
// between the host and it. Project is empty when the repository sits
// directly under the host.
type NameAndOrg struct {
	Project  string
	RepoName string
}

// ProcessNameAndOrg extracts the project and repository name from a Git
// remote URL.
func ProcessNameAndOrg(url string) (NameAndOrg, bool) {
	if len(url) > maxInputLength {
		log.Printf("giturl: rejecting over-length git URL (%d bytes)", len(url))
		return NameAndOrg{}, false
	}
	m := nameAndOrgRe.FindStringSubmatch(url)
	if m == nil {
		log.Printf("giturl: could not parse name and org from %q", url)
		return NameAndOrg{}, false
	}
	return NameAndOrg{Project: m[1], RepoName: m[2]}, true
}

// ValidGitRequest reports whether gitPath plus the request headers look
// like genuine Git smart-HTTP traffic. This is the first gate; it runs
// before the policy chain and rejects non-Git traffic cheaply.
func ValidGitRequest(gitPath string, header http.Header) bool {
	if len(gitPath) > maxInputLength {
		return false
	}
	ua := header.Get("User-Agent")
	switch gitPath {
	case "/info/refs?service=git-upload-pack", "/info/refs?service=git-receive-pack":
		return strings.HasPrefix(ua, "git/")
	case "/git-upload-pack", "/git-receive-pack":
		return strings.HasPrefix(ua, "git/") &&
			strings.HasPrefix(header.Get("Accept"), "application/x-git-")
	}
	return false
}
