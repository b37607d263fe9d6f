package clifmt

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

func Headerf(format string, args ...any) string {
	text := fmt.Sprintf(format, args...)
	if !useColor() {
		return text
	}
	return "\x1b[1;36m" + text + "\x1b[0m"
}

func Success(text string) string {
	return colorize("32", text)
}

func Warn(text string) string {
	return colorize("33", text)
}

func Fail(text string) string {
	return colorize("31", text)
}

func Dim(text string) string {
	return colorize("2", text)
}

func Key(text string) string {
	return colorize("1;33", text)
}

// Layer renders one guardrail trace line for the demo output, e.g.
//
//	▸ Input Guardrail        [PASS] — contains medical keywords
func Layer(name, status, detail string) string {
	var tag string
	switch status {
	case "PASS":
		tag = Success("[PASS]")
	case "BLOCK":
		tag = Fail("[BLOCK]")
	default:
		tag = Warn("[" + status + "]")
	}
	suffix := ""
	if detail != "" {
		suffix = " — " + detail
	}
	return fmt.Sprintf("  ▸ %-22s %s%s", name, tag, suffix)
}

func colorize(code string, text string) string {
	if !useColor() {
		return text
	}
	return "\x1b[" + code + "m" + text + "\x1b[0m"
}

func useColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}
