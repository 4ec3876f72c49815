package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rileyhilliard/releasectl/internal/config"
	"github.com/rileyhilliard/releasectl/internal/deploy"
	"github.com/rileyhilliard/releasectl/internal/errors"
	"github.com/rileyhilliard/releasectl/internal/gitmeta"
	"github.com/rileyhilliard/releasectl/internal/host"
	"github.com/rileyhilliard/releasectl/internal/journal"
	"github.com/rileyhilliard/releasectl/internal/lock"
	"github.com/rileyhilliard/releasectl/internal/logger"
	"github.com/rileyhilliard/releasectl/internal/metrics"
	"github.com/rileyhilliard/releasectl/internal/release"
	"github.com/rileyhilliard/releasectl/internal/remote"
	"github.com/rileyhilliard/releasectl/internal/rollback"
	"github.com/rileyhilliard/releasectl/internal/txn"
	"github.com/rileyhilliard/releasectl/internal/ui"
)

// newDialer connects hosts for a session. Tests swap it for a fake pool.
var newDialer = func(cfg *config.Config, log logger.Logger) (remote.Dialer, func() error) {
	pool := host.NewPool(cfg, log)
	return pool, pool.Close
}

// session is the wiring shared by every command run: config, executor,
// resolvers and the outputs of one invocation.
type session struct {
	ctx    context.Context
	cfg    *config.Config
	format outputFormat
	out    io.Writer
	errOut io.Writer

	// interactive is true when progress can be drawn on errOut.
	interactive bool

	opID string
	log  logger.Logger

	exec     *remote.Executor
	resolver *host.Resolver
	git      *gitmeta.Reader
	metrics  *metrics.Collector
	archive  *journal.Archive

	closeDialer func() error
}

func newSession(cmd *cobra.Command) (*session, error) {
	format, err := parseOutputFormat(outputFlag)
	if err != nil {
		return nil, err
	}
	cfg, _, err := config.LoadFound(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log := logger.NewEnvLogger("[releasectl]")
	dialer, closeDialer := newDialer(cfg, log)
	m := metrics.New()
	exec := remote.NewExecutor(dialer, remote.Options{
		RunAs:    cfg.RunAs,
		Timeout:  cfg.Remote.Timeout,
		Parallel: cfg.Remote.Parallel,
		DryRun:   dryRun,
		Logger:   log,
		Recorder: m,
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return &session{
		ctx:         ctx,
		cfg:         cfg,
		format:      format,
		out:         cmd.OutOrStdout(),
		errOut:      cmd.ErrOrStderr(),
		interactive: format == formatText && !verbose && isTerminal(cmd.ErrOrStderr()),
		opID:        uuid.NewString(),
		log:         log,
		exec:        exec,
		resolver:    host.NewResolver(cfg, log),
		git:         gitmeta.NewReader(exec, cfg),
		metrics:     m,
		archive:     journal.NewArchive(cfg.Logs),
		closeDialer: closeDialer,
	}, nil
}

// Close releases connections and writes the metrics textfile.
func (s *session) Close() {
	if path := s.cfg.Metrics.Textfile; path != "" {
		if err := s.metrics.WriteTextfile(path); err != nil {
			s.log.Warn("writing metrics to %s: %v", path, err)
		}
	}
	if s.closeDialer != nil {
		if err := s.closeDialer(); err != nil {
			s.log.Debug("closing connections: %v", err)
		}
	}
}

// journalTee is where journal lines go while an operation runs.
func (s *session) journalTee() io.Writer {
	if verbose && s.format == formatText {
		return s.out
	}
	return nil
}

func (s *session) deployer() *deploy.Deployer {
	var stages txn.Handlers
	stages = append(stages, s.metrics)
	if s.interactive {
		stages = append(stages, ui.NewStageProgress(s.errOut))
	}
	return deploy.New(deploy.Options{
		Config: s.cfg,
		Runner: s.exec,
		Hosts:  s.resolver,
		Git:    s.git,
		Stages: stages,
		Output: s.journalTee(),
		Logger: s.log,
	})
}

func (s *session) coordinator() *rollback.Coordinator {
	return rollback.New(rollback.Options{
		Runner: s.exec,
		Hosts:  s.resolver,
		Output: s.journalTee(),
		Logger: s.log,
	})
}

// wait runs fn behind a spinner when the terminal allows it.
func (s *session) wait(label string, fn func() error) error {
	if !s.interactive {
		return fn()
	}
	return ui.Wait(s.errOut, label, fn)
}

// locked runs fn while holding the deploy lock of t on every target host.
// Targets that fail validation are passed through to fn untouched, so
// they are reported by the operation itself before anything is sent.
func (s *session) locked(op string, t deploy.Target, fn func() error) error {
	if !s.cfg.Lock.Enabled || s.exec.DryRun() {
		return fn()
	}
	p, err := release.Resolve(t.Application, t.Environment, "")
	if err != nil {
		return fn()
	}
	hosts, err := s.resolver.Resolve(t.Environment, t.Hosts)
	if err != nil || len(hosts) == 0 {
		return fn()
	}
	if op == "deploy" {
		if _, ok := s.cfg.RepositoryFor(t.Application); !ok {
			return fn()
		}
	}

	locker := lock.NewLocker(s.exec, s.cfg.Lock, s.log)
	info := lock.NewLockInfo(fmt.Sprintf("%s %s", op, t), s.opID)
	lk, err := locker.Acquire(s.ctx, p.DeployTo, host.Names(hosts), info)
	if err != nil {
		return err
	}
	defer func() {
		// The operation context may be cancelled by now.
		if err := lk.Release(context.Background()); err != nil {
			s.log.Warn("releasing deploy lock: %v", err)
		}
	}()
	return fn()
}

// archiveJournal stores the journal of a finished operation and returns
// the file it went to, or "" when archiving is off.
func (s *session) archiveJournal(j *journal.Journal, op string, t deploy.Target, rel string) string {
	if j == nil || !s.archive.Enabled() || s.exec.DryRun() {
		return ""
	}
	path, err := s.archive.Save(j, journal.Meta{
		Application: t.Application,
		Environment: t.Environment,
		Operation:   op,
		Release:     rel,
	})
	if err != nil {
		s.log.Warn("archiving %s log: %v", op, err)
		return ""
	}
	if err := s.archive.Prune(); err != nil {
		s.log.Warn("pruning logs: %v", err)
	}
	return path
}

// emit writes a finished command's report in the chosen format and
// returns err for the exit status.
func (s *session) emit(op string, data interface{}, text func(io.Writer), err error) error {
	s.metrics.ObserveOperation(op, err)
	switch s.format {
	case formatJSON, formatYAML:
		if werr := writeEnvelope(s.out, s.format, envelopeFor(data, err)); werr != nil {
			return errors.WrapWithCode(werr, errors.ErrFailure, "Could not write the report", "")
		}
		if err != nil {
			return &reportedError{err: err}
		}
		return nil
	default:
		if text != nil {
			text(s.out)
		}
		return err
	}
}

// confirm asks a yes/no question. Replaced in tests.
var confirm = func(title, affirmative string) (bool, error) {
	var ok bool
	form := newConfirmForm(title, affirmative, &ok)
	if err := form.Run(); err != nil {
		return false, err
	}
	return ok, nil
}

// canPrompt reports whether a confirmation prompt can be shown. Replaced in
// tests.
var canPrompt = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
