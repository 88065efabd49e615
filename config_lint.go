package attemptgate

import (
	"fmt"
	"strings"
)

// LintSeverity grades how risky a lint finding is.
type LintSeverity int

const (
	LintLow LintSeverity = iota
	LintMedium
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "HIGH"
	case LintMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// LintWarning flags a configuration that validates but behaves in a way
// embedders usually do not intend.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Lint inspects the config for legal-but-suspicious settings. It never
// fails validation; pair it with Validate and surface the findings at
// whatever severity the deployment cares about.
func (c Config) Lint() LintWarnings {
	var ws LintWarnings

	if c.Events.Enabled && !c.Events.DropIfFull {
		ws = append(ws, LintWarning{
			Code:     "events_blocking",
			Severity: LintHigh,
			Message:  "a slow event sink stalls every limiter call once the buffer fills",
		})
	}
	if c.Retention < c.BlockDuration {
		ws = append(ws, LintWarning{
			Code:     "retention_below_block",
			Severity: LintMedium,
			Message:  "the retention sweep can forgive a key before its block has fully run",
		})
	}
	if c.Window > c.Retention {
		ws = append(ws, LintWarning{
			Code:     "window_exceeds_retention",
			Severity: LintMedium,
			Message:  "in-window entries can be swept away before the window lapses",
		})
	}
	if c.MaxAttempts == 1 {
		ws = append(ws, LintWarning{
			Code:     "max_attempts_one",
			Severity: LintLow,
			Message:  "the first recorded attempt blocks immediately",
		})
	}
	if !c.Events.Enabled && !c.Metrics.Enabled {
		ws = append(ws, LintWarning{
			Code:     "observability_disabled",
			Severity: LintLow,
			Message:  "blocks and storage degradation surface only in logs",
		})
	}

	return ws
}

// Codes lists just the warning codes, in emission order.
func (ws LintWarnings) Codes() []string {
	codes := make([]string, 0, len(ws))
	for _, w := range ws {
		codes = append(codes, w.Code)
	}
	return codes
}

// BySeverity keeps only warnings at or above min.
func (ws LintWarnings) BySeverity(min LintSeverity) LintWarnings {
	var out LintWarnings
	for _, w := range ws {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError turns warnings at or above min into a single error, or nil
// when none reach it. Deployments that treat lint findings as policy can
// gate startup on it.
func (ws LintWarnings) AsError(min LintSeverity) error {
	bad := ws.BySeverity(min)
	if len(bad) == 0 {
		return nil
	}
	return fmt.Errorf("config lint: %s", strings.Join(bad.Codes(), ", "))
}
