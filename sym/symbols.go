// Package sym defines the glyphs used to tag log lines and CLI output by subsystem.
// They are stable across CLI output and structured logs.
package sym

// System symbols.
const (
	Pulse      = "꩜" // async jobs, scheduler ticks, rate limiting
	PulseOpen  = "✿" // startup with orphaned job recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // database/storage layer
	AM         = "≡" // configuration
	Track      = "◎" // tracking preferences and user resolution
)

// CommandToSymbol maps top-level CLI commands to the glyph printed in their headers.
var CommandToSymbol = map[string]string{
	"pulse": Pulse,
	"jobs":  Pulse,
	"db":    DB,
	"am":    AM,
	"track": Track,
}

// ForCommand returns the glyph for a CLI command, or "" when the command has none.
func ForCommand(cmd string) string {
	return CommandToSymbol[cmd]
}
