// Package banner prints the startup banner for long-running commands.
package banner

import (
	"fmt"
	"io"
	"strings"
)

// Logo is the ASCII art logo.
const Logo = `
   ██╗  ██╗ ██████╗ ██╗   ██╗██████╗  ██████╗ ██╗      █████╗ ███████╗███████╗
   ██║  ██║██╔═══██╗██║   ██║██╔══██╗██╔════╝ ██║     ██╔══██╗██╔════╝██╔════╝
   ███████║██║   ██║██║   ██║██████╔╝██║  ███╗██║     ███████║███████╗███████╗
   ██╔══██║██║   ██║██║   ██║██╔══██╗██║   ██║██║     ██╔══██║╚════██║╚════██║
   ██║  ██║╚██████╔╝╚██████╔╝██║  ██║╚██████╔╝███████╗██║  ██║███████║███████║
   ╚═╝  ╚═╝ ╚═════╝  ╚═════╝ ╚═╝  ╚═╝ ╚═════╝ ╚══════╝╚═╝  ╚═╝╚══════╝╚══════╝
`

// Tagline is the project tagline.
const Tagline = "Prepaid hours, shipped as pull requests"

// Feature is one line item in the startup summary.
type Feature struct {
	Name    string
	Enabled bool
	Note    string
}

// Symbol renders the feature state.
func (f Feature) Symbol() string {
	if f.Enabled {
		return "✓"
	}
	return "○"
}

// Startup describes what a session run is about to do.
type Startup struct {
	Version   string
	SessionID string
	Customer  string
	Remaining float64
	Sources   []string
	Targets   []string
	Features  []Feature
}

// Print writes the full banner.
func Print(w io.Writer, s Startup) {
	fmt.Fprint(w, Logo)
	fmt.Fprintf(w, "   %s\n", Tagline)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "HOURGLASS v%s\n", s.Version)
	fmt.Fprintln(w, strings.Repeat("━", 40))
	fmt.Fprintf(w, "Session:   %s (%s)\n", s.SessionID, s.Customer)
	fmt.Fprintf(w, "Remaining: %.2fh\n", s.Remaining)
	if len(s.Sources) > 0 {
		fmt.Fprintf(w, "Sources:   %s\n", strings.Join(s.Sources, ", "))
	}
	if len(s.Targets) > 0 {
		fmt.Fprintf(w, "Targets:   %s\n", strings.Join(s.Targets, ", "))
	}

	if len(s.Features) > 0 {
		fmt.Fprintln(w)
		const cols, colWidth = 3, 14
		for i, f := range s.Features {
			name := f.Name
			if f.Note != "" {
				name += "*"
			}
			fmt.Fprintf(w, "%s %-*s", f.Symbol(), colWidth-2, name)
			if (i+1)%cols == 0 || i == len(s.Features)-1 {
				fmt.Fprintln(w)
			}
		}
		hasNotes := false
		for _, f := range s.Features {
			if f.Note == "" {
				continue
			}
			if !hasNotes {
				fmt.Fprintln(w)
				hasNotes = true
			}
			fmt.Fprintf(w, "  * %s: %s\n", f.Name, f.Note)
		}
	}
	fmt.Fprintln(w)
}

// PrintCompact writes a single-line banner.
func PrintCompact(w io.Writer, version string) {
	fmt.Fprintf(w, "⏳ Hourglass v%s - %s\n", version, Tagline)
}
