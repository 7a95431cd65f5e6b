package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// console receives progress and status messages. Command results such as
// evaluation tables go to stdout instead.
var console io.Writer = os.Stderr

// fieldWidth aligns the values of the status report.
const fieldWidth = 13

type tone struct {
	color string
	mark  string
}

var (
	toneOK   = tone{colorGreen, "✓"}
	toneFail = tone{colorRed, "✗"}
	toneWarn = tone{colorYellow, "⚠"}
	toneStep = tone{colorCyan, "→"}
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func announce(t tone, format string, args ...any) {
	fmt.Fprintln(console, colorize(t.color, t.mark+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { announce(toneOK, format, args...) }
func printError(format string, args ...any)   { announce(toneFail, format, args...) }
func printWarning(format string, args ...any) { announce(toneWarn, format, args...) }
func printStep(format string, args ...any)    { announce(toneStep, format, args...) }

// printField prints one "label: value" row of the status report.
func printField(label, format string, args ...any) {
	pad := max(fieldWidth-len(label)-1, 1)
	fmt.Fprintf(console, "  %s%s%s\n", colorize(colorBold, label+":"), strings.Repeat(" ", pad), fmt.Sprintf(format, args...))
}

// printCheck prints a status row marked as healthy, or as failed with err
// in place of the value when err is non-nil.
func printCheck(label string, err error, format string, args ...any) {
	if err != nil {
		printField(label, "%s %v", colorize(toneFail.color, toneFail.mark), err)
		return
	}
	printField(label, "%s %s", colorize(toneOK.color, toneOK.mark), fmt.Sprintf(format, args...))
}
