package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess  = "✓" // Operation succeeded
	SymbolFail     = "✗" // Stage or host failed
	SymbolPending  = "○" // Not yet started
	SymbolProgress = "◐" // In progress
	SymbolComplete = "●" // Stage done
	SymbolSkipped  = "⊘" // Stage skipped
	SymbolWarning  = "◑" // Degraded or partial
	SymbolUndo     = "↺" // Compensation ran
)
