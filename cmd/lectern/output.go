package main

import (
	"fmt"
	"os"
)

// ANSI styling for terminal output. Status lines go to stderr so stdout
// stays clean for agent replies and piping.
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiBold   = "\033[1m"
)

func paint(style, text string) string {
	if noColor {
		return text
	}
	return style + text + ansiReset
}

func note(style, mark, format string, args ...any) {
	fmt.Fprintln(os.Stderr, paint(style, mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { note(ansiGreen, "✓", format, args...) }
func printError(format string, args ...any)   { note(ansiRed, "✗", format, args...) }
func printWarning(format string, args ...any) { note(ansiYellow, "⚠", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", paint(ansiBold, label+":"), fmt.Sprintf(format, args...))
}

// printAgent writes an agent reply to stdout.
func printAgent(text string) {
	fmt.Fprintln(os.Stdout, paint(ansiCyan, text))
}
