// Package pages publishes a build to GitHub Pages.
//
// Publishing itself is delegated to a deploy command run in the project
// directory with the build directory as its argument. The package resolves
// the repository from the origin remote so it can point the operator at the
// Pages settings, where HTTPS has to be enforced by hand.
package pages

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/sinkhq/sink/internal/config"
)

// RemoteName is the remote whose URL names the repository.
const RemoteName = "origin"

// ErrURL is returned when the configured url is not a github.io address.
var ErrURL = errors.New("url must be an https://<owner>.github.io address")

var ownerPattern = regexp.MustCompile(`^https://([^./]+)\.github\.io(/|$)`)

// Runner runs a shell command in dir.
type Runner interface {
	Build(ctx context.Context, command, dir string) error
}

// Result describes a published site.
type Result struct {
	Owner       string
	Repository  string
	URL         string
	SettingsURL string
}

// Owner extracts the account name from a github.io URL.
func Owner(url string) (string, error) {
	m := ownerPattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrURL, url)
	}
	return m[1], nil
}

// RepositoryName returns the repository name of a remote URL, accepting
// both https and scp-style ssh forms.
func RepositoryName(remoteURL string) string {
	u := strings.TrimSuffix(strings.TrimRight(remoteURL, "/"), ".git")
	if i := strings.LastIndexByte(u, ':'); i > strings.LastIndexByte(u, '/') {
		u = u[i+1:]
	}
	return path.Base(u)
}

// RemoteURL returns the first URL of remote in the repository containing dir.
func RemoteURL(dir, remote string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	r, err := repo.Remote(remote)
	if err != nil {
		return "", fmt.Errorf("reading remote %s: %w", remote, err)
	}
	urls := r.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %s has no url", remote)
	}
	return urls[0], nil
}

// Publish runs the pages command for cfg's build directory. The repository
// and owner are resolved first so a misconfigured project fails before
// anything is pushed.
func Publish(ctx context.Context, cfg *config.Config, run Runner, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	t := cfg.Deployment
	if err := t.ValidatePages(); err != nil {
		return nil, err
	}
	owner, err := Owner(t.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalid, err)
	}
	remote, err := RemoteURL(cfg.Dir, RemoteName)
	if err != nil {
		return nil, err
	}
	repo := RepositoryName(remote)

	command := t.PagesCommand + " " + quote(t.BuildDir)
	log.Info("publishing to GitHub Pages", zap.String("command", command), zap.String("repository", owner+"/"+repo))
	if err := run.Build(ctx, command, cfg.Dir); err != nil {
		return nil, fmt.Errorf("pages command failed: %w", err)
	}

	res := &Result{
		Owner:       owner,
		Repository:  repo,
		URL:         t.URL,
		SettingsURL: fmt.Sprintf("https://github.com/%s/%s/settings/pages", owner, repo),
	}
	log.Info("enforce HTTPS in the repository settings", zap.String("settings", res.SettingsURL))
	log.Info("after enforcement the site is served at", zap.String("url", res.URL))
	return res, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
