// Package cli implements the releasectl command-line interface.
//
// Each command builds a session (config, logger, SSH pool, executor) and
// hands the work to the deploy or rollback packages. The command then turns
// the outcome into a report that is printed as text or as a JSON or YAML
// envelope, and exits with the status code of the first error.
//
// # Commands
//
//	releasectl deploy          - Deploy a branch or tag as a new release
//	releasectl setup           - Prepare the directory layout on every host
//	releasectl clear-cache     - Clear the shared application cache
//	releasectl test            - Run the application's test suite on the hosts
//	releasectl verify-rollback - Compare the two newest releases across hosts
//	releasectl undo-rollback   - Make the previous release current again
//	releasectl refs            - List or verify repository branches and tags
//	releasectl manifest        - Show the release manifest of a ref
//	releasectl unlock          - Show or remove a stale deploy lock
//	releasectl check           - Check that hosts have the tools releasectl runs
//
// # Targets
//
// Commands that touch hosts take --app and --env, and optionally --hosts to
// narrow the environment's host set. TargetFlags turns them into a
// deploy.Target.
//
// # Locking
//
// Mutating commands take the per-application deploy lock on every target
// host before running. The lock is skipped in dry-run mode.
package cli
