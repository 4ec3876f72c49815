// Package gitmeta reads branch, tag and manifest metadata from the central
// bare repositories. Every command is relayed through the remote executor
// to the repository host, so it passes the same command allow-list.
package gitmeta

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/remote"
)

// ManifestPath is the release manifest inside each application repository.
const ManifestPath = "docs/release.nfo"

// RefKind is the namespace a ref lives in.
type RefKind string

const (
	KindHead   RefKind = "head"
	KindBranch RefKind = "branch"
	KindTag    RefKind = "tag"
)

// Ref is a resolved branch, tag or HEAD.
type Ref struct {
	Kind RefKind
	Name string // short name, e.g. "2.1.0" or "main"
	Full string // e.g. "refs/tags/2.1.0" or "HEAD"
	Hash string
}

// Runner runs a command on hosts. Implemented by *remote.Executor.
type Runner interface {
	Run(ctx context.Context, cmd remote.Command, hosts []string) (remote.Results, error)
}

// Reader answers git metadata questions for configured applications.
type Reader struct {
	run Runner
	cfg *config.Config
}

// NewReader creates a Reader.
func NewReader(run Runner, cfg *config.Config) *Reader {
	return &Reader{run: run, cfg: cfg}
}

func (r *Reader) repository(app string) (config.Repository, string, error) {
	repo, ok := r.cfg.RepositoryFor(app)
	if !ok {
		return config.Repository{}, "", errors.New(errors.ErrConfig,
			fmt.Sprintf("Application '%s' has no repository configured", app),
			"Set applications."+app+".repository in "+config.ConfigFileName+".")
	}
	return repo, path.Join(repo.Path, app), nil
}

// exec runs cmd on the repository host and returns its stdout lines.
func (r *Reader) exec(ctx context.Context, repo config.Repository, cmd remote.Command, what string) ([]string, error) {
	results, err := r.run.Run(ctx, cmd, []string{repo.Host})
	if err != nil {
		return nil, err
	}
	res := results[repo.Host]
	if res.Err != nil {
		return nil, res.Err
	}
	if res.ExitCode != 0 {
		return nil, errors.New(errors.ErrGit,
			fmt.Sprintf("Could not %s (git exited %d)", what, res.ExitCode),
			strings.Join(res.Stderr, "\n")).OnHost(repo.Host)
	}
	return res.Stdout, nil
}

// ListRefs returns HEAD, branches and tags of app. Tags are reported with
// the commit they point at, not the tag object.
func (r *Reader) ListRefs(ctx context.Context, app string) ([]Ref, error) {
	repo, dir, err := r.repository(app)
	if err != nil {
		return nil, err
	}
	lines, err := r.exec(ctx, repo, remote.Cmd("git", "ls-remote", dir), "list refs of "+app)
	if err != nil {
		return nil, err
	}
	refs := parseLsRemote(lines)
	if len(refs) == 0 {
		return nil, errors.New(errors.ErrGit,
			fmt.Sprintf("Repository %s has no refs", dir),
			"Check the repository exists and has been pushed to.")
	}
	return refs, nil
}

// ResolveRef turns a branch or tag name into a ref with its commit hash.
// Tags take precedence over branches of the same name. An empty name
// resolves HEAD. Full names ("refs/heads/x") match exactly.
func (r *Reader) ResolveRef(ctx context.Context, app, name string) (Ref, error) {
	refs, err := r.ListRefs(ctx, app)
	if err != nil {
		return Ref{}, err
	}

	if name == "" || name == "HEAD" {
		if ref, ok := find(refs, func(ref Ref) bool { return ref.Kind == KindHead }); ok {
			return ref, nil
		}
	}
	if ref, ok := find(refs, func(ref Ref) bool { return ref.Full == name }); ok {
		return ref, nil
	}
	if ref, ok := find(refs, func(ref Ref) bool { return ref.Kind == KindTag && ref.Name == name }); ok {
		return ref, nil
	}
	if ref, ok := find(refs, func(ref Ref) bool { return ref.Kind == KindBranch && ref.Name == name }); ok {
		return ref, nil
	}

	return Ref{}, errors.New(errors.ErrGit,
		fmt.Sprintf("No branch or tag named '%s' in %s", name, app),
		"Run 'releasectl refs --app "+app+"' to see what exists.")
}

// VerifyTagHash reports whether ref still points at hash. Branches and tags
// may share a name, so any match passes.
func (r *Reader) VerifyTagHash(ctx context.Context, app, ref, hash string) (bool, error) {
	repo, dir, err := r.repository(app)
	if err != nil {
		return false, err
	}
	lines, err := r.exec(ctx, repo, remote.Cmd("git", "ls-remote", dir, ref), "look up "+ref)
	if err != nil {
		return false, err
	}
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == hash {
			return true, nil
		}
	}
	return false, nil
}

// FetchManifest returns docs/release.nfo as of ref.
func (r *Reader) FetchManifest(ctx context.Context, app, ref string) (string, error) {
	resolved, err := r.ResolveRef(ctx, app, ref)
	if err != nil {
		return "", err
	}
	repo, dir, err := r.repository(app)
	if err != nil {
		return "", err
	}
	lines, err := r.exec(ctx, repo,
		remote.Cmd("git", "--git-dir="+dir, "show", resolved.Full+":"+ManifestPath),
		"read "+ManifestPath+" at "+resolved.Full)
	if err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// ListFiles returns every file path tracked at ref.
func (r *Reader) ListFiles(ctx context.Context, app, ref string) ([]string, error) {
	resolved, err := r.ResolveRef(ctx, app, ref)
	if err != nil {
		return nil, err
	}
	repo, dir, err := r.repository(app)
	if err != nil {
		return nil, err
	}
	lines, err := r.exec(ctx, repo,
		remote.Cmd("git", "--git-dir="+dir, "ls-tree", "-r", "--name-only", resolved.Full),
		"list files at "+resolved.Full)
	if err != nil {
		return nil, err
	}
	files := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			files = append(files, l)
		}
	}
	return files, nil
}

// parseLsRemote reads "<hash>\t<ref>" lines. Peeled tag entries ("^{}")
// replace the tag object hash with the commit hash.
func parseLsRemote(lines []string) []Ref {
	byFull := map[string]*Ref{}
	var order []string

	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		hash, full := fields[0], fields[1]
		peeled := strings.HasSuffix(full, "^{}")
		full = strings.TrimSuffix(full, "^{}")

		ref := classifyRef(full, hash)
		if ref == nil {
			continue
		}
		if existing, ok := byFull[full]; ok {
			if peeled {
				existing.Hash = hash
			}
			continue
		}
		byFull[full] = ref
		order = append(order, full)
	}

	refs := make([]Ref, 0, len(order))
	for _, full := range order {
		refs = append(refs, *byFull[full])
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return kindRank(refs[i].Kind) < kindRank(refs[j].Kind)
	})
	return refs
}

func classifyRef(full, hash string) *Ref {
	switch {
	case full == "HEAD":
		return &Ref{Kind: KindHead, Name: "HEAD", Full: full, Hash: hash}
	case strings.HasPrefix(full, "refs/heads/"):
		return &Ref{Kind: KindBranch, Name: strings.TrimPrefix(full, "refs/heads/"), Full: full, Hash: hash}
	case strings.HasPrefix(full, "refs/tags/"):
		return &Ref{Kind: KindTag, Name: strings.TrimPrefix(full, "refs/tags/"), Full: full, Hash: hash}
	}
	return nil
}

func kindRank(k RefKind) int {
	switch k {
	case KindHead:
		return 0
	case KindBranch:
		return 1
	default:
		return 2
	}
}

func find(refs []Ref, match func(Ref) bool) (Ref, bool) {
	for _, ref := range refs {
		if match(ref) {
			return ref, true
		}
	}
	return Ref{}, false
}
