// Package ui provides the terminal output pieces of releasectl: spinners,
// the per-stage deploy progress, tables and summaries, all styled with
// Lip Gloss.
//
// # Color Scheme
//
// Colors are ANSI codes so they follow the terminal palette:
//
//	ColorSuccess   (green)  - Successful stages and hosts
//	ColorError     (red)    - Failures
//	ColorWarning   (yellow) - Degraded stages, partial rollbacks
//	ColorMuted     (gray)   - Timing and secondary text
//
// DisableColors switches to plain text for --no-color and non-terminal
// output.
//
// # Progress
//
// StageProgress implements txn.StageHandler and draws a spinner per
// deploy stage. Wait wraps a single blocking call in a Bubble Tea spinner:
//
//	err := ui.Wait(os.Stderr, "Verifying releases", func() error {
//		v, err = coord.VerifyConsistency(ctx, target)
//		return err
//	})
package ui
