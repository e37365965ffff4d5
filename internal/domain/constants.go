package domain

const (
	// WinnerPrizeFraction is the share of the prize pool paid to the winner.
	// The platform keeps the remainder.
	WinnerPrizeFraction = "0.70"

	// MinPlayers is the smallest match that can be created.
	MinPlayers = 2

	DefaultMatchTitle = "Custom Skirmish"

	// Funding provider statuses
	FundingStatusFinished = "finished"

	// Oracle sources
	SourceReport    = "report"
	SourceTelemetry = "telemetry"
	SourceStream    = "stream"
	SourceOperator  = "operator"
	SourceRecovery  = "recovery"
)
