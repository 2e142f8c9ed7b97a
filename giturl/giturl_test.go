package giturl

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessGitURL(t *testing.T) {
	u, ok := ProcessGitURL("https://github.com/finos/git-proxy.git/info/refs?service=git-upload-pack")
	require.True(t, ok)
	assert.Equal(t, "https://", u.Protocol)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "/finos/git-proxy.git", u.RepoPath)

	u, ok = ProcessGitURL("http://gitlab.example.com/group/sub/repo.git")
	require.True(t, ok)
	assert.Equal(t, "http://", u.Protocol)
	assert.Equal(t, "gitlab.example.com", u.Host)
	assert.Equal(t, "/group/sub/repo.git", u.RepoPath)
}

func TestProcessGitURLMisses(t *testing.T) {
	for _, bad := range []string{
		"",
		"not a url",
		"ssh://github.com/finos/git-proxy.git",
		"https://github.com/finos/git-proxy",
	} {
		_, ok := ProcessGitURL(bad)
		assert.False(t, ok, "expected miss for %q", bad)
	}
}

func TestProcessURLPath(t *testing.T) {
	p, ok := ProcessURLPath("/finos/git-proxy.git/info/refs?service=git-upload-pack")
	require.True(t, ok)
	assert.Equal(t, "/finos/git-proxy.git", p.RepoPath)
	assert.Equal(t, "/info/refs?service=git-upload-pack", p.GitPath)

	p, ok = ProcessURLPath("/finos/git-proxy.git")
	require.True(t, ok)
	assert.Equal(t, "/finos/git-proxy.git", p.RepoPath)
	assert.Equal(t, "/", p.GitPath)

	_, ok = ProcessURLPath("/finos/git-proxy")
	assert.False(t, ok)
}

func TestProcessNameAndOrg(t *testing.T) {
	n, ok := ProcessNameAndOrg("https://github.com/finos/git-proxy.git")
	require.True(t, ok)
	assert.Equal(t, "finos", n.Project)
	assert.Equal(t, "git-proxy.git", n.RepoName)

	n, ok = ProcessNameAndOrg("https://host.com/repo.git")
	require.True(t, ok)
	assert.Empty(t, n.Project)
	assert.Equal(t, "repo.git", n.RepoName)

	n, ok = ProcessNameAndOrg("https://host.com/a/b/c.git")
	require.True(t, ok)
	assert.Equal(t, "a/b", n.Project)
	assert.Equal(t, "c.git", n.RepoName)
}

func TestOverLengthInputNeverPanics(t *testing.T) {
	long := "https://github.com/" + strings.Repeat("a", 600) + ".git"

	_, ok := ProcessGitURL(long)
	assert.False(t, ok)
	_, ok = ProcessURLPath("/" + strings.Repeat("a", 600) + ".git")
	assert.False(t, ok)
	_, ok = ProcessNameAndOrg(long)
	assert.False(t, ok)
	assert.False(t, ValidGitRequest("/"+strings.Repeat("a", 600), http.Header{}))
}

func TestValidGitRequest(t *testing.T) {
	gitHeaders := http.Header{}
	gitHeaders.Set("User-Agent", "git/2.40")

	assert.True(t, ValidGitRequest("/info/refs?service=git-upload-pack", gitHeaders))
	assert.True(t, ValidGitRequest("/info/refs?service=git-receive-pack", gitHeaders))
	assert.False(t, ValidGitRequest("/info/refs?service=git-upload-pack", http.Header{}))

	packHeaders := http.Header{}
	packHeaders.Set("User-Agent", "git/2.40")
	packHeaders.Set("Accept", "application/x-git-receive-pack-result")
	assert.True(t, ValidGitRequest("/git-receive-pack", packHeaders))
	assert.True(t, ValidGitRequest("/git-upload-pack", packHeaders))

	htmlAccept := http.Header{}
	htmlAccept.Set("User-Agent", "git/2.40")
	htmlAccept.Set("Accept", "text/html")
	assert.False(t, ValidGitRequest("/git-receive-pack", htmlAccept))

	browser := http.Header{}
	browser.Set("User-Agent", "Mozilla/5.0")
	browser.Set("Accept", "application/x-git-receive-pack-result")
	assert.False(t, ValidGitRequest("/git-receive-pack", browser))

	assert.False(t, ValidGitRequest("/", gitHeaders))
	assert.False(t, ValidGitRequest("/info/refs", gitHeaders))
	assert.False(t, ValidGitRequest("/info/refs?service=git-evil-pack", gitHeaders))
}
