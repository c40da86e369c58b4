package term

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

var hyperlinkEnv = []string{
	"WT_SESSION",
	"VTE_VERSION",
	"KONSOLE_VERSION",
	"KITTY_WINDOW_ID",
	"WEZTERM_EXECUTABLE",
	"DOMTERM",
	"TERM_PROGRAM",
}

// SupportsHyperlinks guesses from the environment whether the terminal
// renders OSC 8 links.
func SupportsHyperlinks() bool {
	term := os.Getenv("TERM")
	if term == "" || term == "dumb" || term == "alacritty" {
		return false
	}
	for _, key := range hyperlinkEnv {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Link renders url as a clickable link when w is a capable terminal and as
// plain text otherwise.
func Link(w io.Writer, url string) string {
	if url == "" || !IsTerminal(w) || !SupportsHyperlinks() {
		return url
	}
	return ClickableLink(url, url)
}

func ClickableLink(label string, url string) string {
	if url == "" {
		return label
	}
	if label == "" {
		label = url
	}
	return "\x1b]8;;" + url + "\x1b\\" + label + "\x1b]8;;\x1b\\"
}
