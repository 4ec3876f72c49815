package deploy

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/remote"
	"github.com/rileyhilliard/releasectl/internal/txn"
)

// Deploy builds a new release of target on every host and makes it
// current. Validation errors are returned before any remote command runs;
// after that the Outcome is always returned and its Err mirrors the error.
func (d *Deployer) Deploy(ctx context.Context, t Target) (*Outcome, error) {
	start := time.Now()
	name := release.NewName(d.clock())

	o, err := d.prepare("deploy", t, name)
	if err != nil {
		return nil, err
	}
	if _, ok := d.cfg.RepositoryFor(t.Application); !ok {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Application '%s' has no repository configured", t.Application),
			"Set applications."+t.Application+".repository in releasectl.yaml.")
	}

	o.Journal.Printf("*** deploying %s to %s as release %s", t.Application, t.Environment, name)
	o.Journal.Printf("*** hosts: %s", strings.Join(o.Hosts, ", "))

	s := &deployRun{d: d, o: o, p: o.Path, hosts: o.Hosts, target: t}
	stages := []txn.Stage{
		{Name: StageUpdateCode, Fatal: true, Run: s.updateCode, Compensate: s.removeRelease},
		{Name: StageLinkShared, Run: s.linkShared},
		{Name: StageDebug, Run: s.disableDebug},
		{Name: StageVersion, Run: s.writeVersion},
		{Name: StageSymlink, Fatal: true, Commit: true, Run: s.symlink, Compensate: s.restoreCurrent},
		{Name: StageCleanup, Run: s.cleanup},
	}

	res := txn.NewRunner(txn.Handlers{&journalHandler{o: o}, d.stages}, d.log).Run(ctx, stages)
	o.Stages = res.Stages
	o.Compensations = res.Compensations

	var failure error
	if !res.Success() {
		failure = stageError(res)
	}
	d.finish(o, start, failure)
	return o, o.Err
}

// stageError wraps the failed stage's error as DEPLOYMENT_ERROR, keeping
// the original (e.g. GIT_ERROR) as cause.
func stageError(res *txn.Result) error {
	failed := res.Stages[res.FailedStage]
	if errors.IsCode(res.Err, errors.ErrDeployment) {
		return res.Err
	}
	suggestion := "The previous release is still current."
	for _, c := range res.Compensations {
		if c.Err != nil {
			suggestion = "Cleanup after the failure did not complete; check " + c.Stage + " on the listed hosts."
			break
		}
	}
	return errors.WrapWithCode(res.Err, errors.ErrDeployment,
		fmt.Sprintf("Deployment failed during %s", failed.Name), suggestion)
}

// journalHandler narrates stages into the journal.
type journalHandler struct {
	o *Outcome
}

func (h *journalHandler) OnStageStart(num, total int, name string) {
	h.o.Journal.Printf("  * [%d/%d] %s", num, total, name)
}

func (h *journalHandler) OnStageComplete(_, _ int, r *txn.StageResult) {
	switch r.Status {
	case txn.StatusSkipped:
		h.o.Journal.Printf("    %s skipped", r.Name)
	case txn.StatusDegraded:
		h.o.Journal.Printf("    %s incomplete, continuing: %s", r.Name, firstLine(r.Err))
	case txn.StatusFailed:
		h.o.Journal.Printf("    %s failed: %s", r.Name, firstLine(r.Err))
	}
}

func (h *journalHandler) OnCompensate(stage string, err error) {
	if err != nil {
		h.o.Journal.Printf("*** [%s] rolling back failed: %s", stage, firstLine(err))
		return
	}
	h.o.Journal.Printf("*** [%s] rolling back", stage)
}

func firstLine(err error) string {
	if err == nil {
		return ""
	}
	s := strings.TrimSpace(err.Error())
	s = strings.TrimPrefix(s, "✗ ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// deployRun is the state shared by the stages of one deploy.
type deployRun struct {
	d      *Deployer
	o      *Outcome
	p      release.Path
	hosts  []string
	target Target

	// previous maps host to the release current pointed at before the flip.
	previous map[string]string
	flipped  []string
}

func (s *deployRun) updateCode(ctx context.Context) error {
	ref, err := s.d.git.ResolveRef(ctx, s.target.Application, s.target.Ref)
	if err != nil {
		return err
	}
	s.o.Ref = ref
	s.o.Journal.Printf("    %s %s is %s", ref.Kind, ref.Full, ref.Hash)

	repo, _ := s.d.cfg.RepositoryFor(s.target.Application)
	url := strings.TrimSuffix(repo.URL, "/") + "/" + s.target.Application
	cache := s.p.CachedCopy()

	have, err := s.d.run.Run(ctx, remote.Cmd("test", "-d", path.Join(cache, ".git")), s.hosts)
	if err != nil {
		return err
	}
	var fetch, clone []string
	for _, h := range s.hosts {
		r := have[h]
		switch {
		case r.Err != nil:
			s.o.HostResults = have
			return r.Err
		case r.ExitCode == 0:
			fetch = append(fetch, h)
		default:
			clone = append(clone, h)
		}
	}

	if len(clone) > 0 {
		if err := s.d.scanned(ctx, s.o, remote.Cmd("git", "clone", "-q", url, cache), clone); err != nil {
			return err
		}
	}
	if len(fetch) > 0 {
		if err := s.d.scanned(ctx, s.o, remote.Cmd("git", "-C", cache, "fetch", "-q", "origin"), fetch); err != nil {
			return err
		}
	}
	for _, cmd := range []remote.Command{
		remote.Cmd("git", "-C", cache, "checkout", "-q", "-f", ref.Hash),
		remote.Cmd("git", "-C", cache, "clean", "-q", "-d", "-f"),
		remote.Cmd("mkdir", "-p", s.p.Release),
		remote.Cmd("rsync", "-lrpt", "--delete", "--exclude=.git", cache+"/", s.p.Release+"/"),
	} {
		if err := s.d.scanned(ctx, s.o, cmd, s.hosts); err != nil {
			return err
		}
	}
	return nil
}

func (s *deployRun) removeRelease(ctx context.Context) error {
	cmd := remote.Cmd("rm", "-rf", s.p.Release)
	results, err := s.d.run.Run(ctx, cmd, s.hosts)
	if err != nil {
		return err
	}
	return results.Error(cmd, errors.ErrDeployment)
}

func (s *deployRun) linkShared(ctx context.Context) error {
	profile, ok := release.ProfileFor(s.target.Application)
	if !ok {
		s.d.log.Error("no link policy for application '%s'", s.target.Application)
		return errors.New(errors.ErrAppNotFound,
			fmt.Sprintf("No link policy for application '%s'", s.target.Application), "")
	}

	var failures []string
	for _, op := range profile.Links {
		cmd := linkCommand(op, s.p)
		results, err := s.d.step(ctx, s.o, cmd, s.hosts, errors.ErrDeployment)
		if err == nil {
			continue
		}
		if results == nil {
			return err
		}
		if op.Tolerate {
			s.o.Journal.Printf("    ignoring: %s", firstLine(err))
			s.o.HostResults = nil
			continue
		}
		failures = append(failures, firstLine(err))
	}

	group := s.d.cfg.Remote.WebGroup
	for _, dir := range profile.TempDirPaths(s.p.Release) {
		if _, err := s.d.step(ctx, s.o, remote.Cmd("mkdir", "-p", dir), s.hosts, errors.ErrDeployment); err != nil {
			failures = append(failures, firstLine(err))
		}
	}
	for _, dir := range profile.WritableDirPaths(s.p.Release) {
		var cmds []remote.Command
		if group != "" {
			cmds = append(cmds, remote.Cmd("chgrp", group, dir))
		}
		cmds = append(cmds, remote.Cmd("chmod", "g+rw", dir))
		for _, cmd := range cmds {
			if _, err := s.d.step(ctx, s.o, cmd, s.hosts, errors.ErrDeployment); err != nil {
				failures = append(failures, firstLine(err))
			}
		}
	}

	if len(failures) > 0 {
		return errors.New(errors.ErrDeployment,
			fmt.Sprintf("%d shared data step(s) failed", len(failures)),
			strings.Join(failures, "\n"))
	}
	return nil
}

func linkCommand(op release.LinkOp, p release.Path) remote.Command {
	target := p.InRelease(op.Target)
	switch op.Kind {
	case release.OpRemove:
		return remote.Cmd("rm", "-f", target)
	case release.OpRemoveTree:
		return remote.Cmd("rm", "-rf", target)
	case release.OpMkdir:
		return remote.Cmd("mkdir", "-p", target)
	default:
		return remote.Cmd("ln", "-nsf", p.InShared(op.Source), target)
	}
}

func (s *deployRun) disableDebug(ctx context.Context) error {
	if release.IsDevEnvironment(s.target.Environment) {
		return txn.Skip("debug output stays on in " + s.target.Environment)
	}
	profile, _ := release.ProfileFor(s.target.Application)
	core, ok := profile.DebugConfigPath(s.p.Release)
	if !ok {
		return txn.Skip(s.target.Application + " is not a CakePHP app")
	}

	results, err := s.d.run.Run(ctx, remote.Cmd("test", "-f", core), s.hosts)
	if err != nil {
		return err
	}
	var present []string
	for _, h := range s.hosts {
		r := results[h]
		if r.Err != nil {
			return r.Err
		}
		if r.ExitCode == 0 {
			present = append(present, h)
		}
	}
	if len(present) == 0 {
		return txn.Skip(core + " not found")
	}

	_, err = s.d.step(ctx, s.o, remote.Cmd("sed", "-i", release.DisableDebugExpression, core), present, errors.ErrDeployment)
	return err
}

func (s *deployRun) writeVersion(ctx context.Context) error {
	if !release.WritesVersionFile(s.target.Environment) {
		return txn.Skip("no version file in " + s.target.Environment)
	}
	label := release.SanitizeVersion(s.target.Version)
	if label == "" {
		return txn.Skip("no version label given")
	}
	profile, _ := release.ProfileFor(s.target.Application)
	file := profile.VersionFilePath(s.p.Release)

	s.o.Journal.Printf("    version %s -> %s", label, file)
	cmd := remote.Cmd("tee", "-a", file).WithStdin([]byte(label + "\n"))
	results, err := s.d.run.Run(ctx, cmd, s.hosts)
	if err != nil {
		return err
	}
	if err := results.Error(cmd, errors.ErrDeployment); err != nil {
		s.o.HostResults = results
		return err
	}
	return nil
}

func (s *deployRun) symlink(ctx context.Context) error {
	s.previous = make(map[string]string)
	current, err := s.d.run.Run(ctx, remote.Cmd("readlink", s.p.Current), s.hosts)
	if err != nil {
		return err
	}
	for h, r := range current {
		target := strings.TrimSpace(r.Output())
		if !r.OK() || target == "" {
			continue
		}
		if !path.IsAbs(target) {
			target = path.Join(s.p.DeployTo, target)
		}
		s.previous[h] = target
	}

	cmd := remote.Cmd("ln", "-nsf", s.p.Release, s.p.Current)
	results, err := s.d.step(ctx, s.o, cmd, s.hosts, errors.ErrDeployment)
	for _, h := range s.hosts {
		if r := results[h]; r != nil && r.OK() {
			s.flipped = append(s.flipped, h)
		}
	}
	if err != nil {
		return err
	}
	s.o.Journal.Printf("    current -> %s", s.p.Release)
	return nil
}

// restoreCurrent points current back where it was on hosts where the flip
// went through, so removing the release leaves no dangling link.
func (s *deployRun) restoreCurrent(ctx context.Context) error {
	byTarget := make(map[string][]string)
	var unlink []string
	for _, h := range s.flipped {
		if prev, ok := s.previous[h]; ok {
			byTarget[prev] = append(byTarget[prev], h)
		} else {
			unlink = append(unlink, h)
		}
	}

	var errs []string
	for _, prev := range sortedKeys(byTarget) {
		cmd := remote.Cmd("ln", "-nsf", prev, s.p.Current)
		results, err := s.d.run.Run(ctx, cmd, byTarget[prev])
		if err == nil {
			err = results.Error(cmd, errors.ErrDeployment)
		}
		if err != nil {
			errs = append(errs, firstLine(err))
		}
	}
	if len(unlink) > 0 {
		cmd := remote.Cmd("rm", "-f", s.p.Current)
		results, err := s.d.run.Run(ctx, cmd, unlink)
		if err == nil {
			err = results.Error(cmd, errors.ErrDeployment)
		}
		if err != nil {
			errs = append(errs, firstLine(err))
		}
	}
	if len(errs) > 0 {
		return errors.New(errors.ErrDeployment, "Could not restore current", strings.Join(errs, "\n"))
	}
	return nil
}

func (s *deployRun) cleanup(ctx context.Context) error {
	keep := s.d.cfg.Remote.KeepReleases
	if keep <= 0 {
		keep = defaultKeepCount
	}

	listing, err := s.d.run.Run(ctx, remote.Cmd("ls", "-1", s.p.Releases), s.hosts)
	if err != nil {
		return err
	}

	doomed := make(map[string][]string)
	for _, h := range s.hosts {
		r := listing[h]
		if !r.OK() {
			continue
		}
		names := release.Latest(r.Stdout, len(r.Stdout))
		if len(names) <= keep {
			continue
		}
		for _, name := range names[keep:] {
			if name == s.p.Name {
				continue
			}
			doomed[name] = append(doomed[name], h)
		}
	}
	if len(doomed) == 0 {
		return txn.Skip(fmt.Sprintf("%d or fewer releases on every host", keep))
	}

	var failures []string
	for _, name := range sortedKeys(doomed) {
		s.o.Journal.Printf("    removing old release %s", name)
		if _, err := s.d.step(ctx, s.o, remote.Cmd("rm", "-rf", s.p.ReleaseDir(name)), doomed[name], errors.ErrDeployment); err != nil {
			failures = append(failures, firstLine(err))
		}
	}
	if len(failures) > 0 {
		return errors.New(errors.ErrDeployment, "Some old releases were not removed", strings.Join(failures, "\n"))
	}
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
