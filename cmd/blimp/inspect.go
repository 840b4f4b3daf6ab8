package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/blimp/internal/bledb"
	"github.com/srg/blimp/internal/peripheral"
	"golang.org/x/term"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <profile>...",
	Short: "Validate profiles and show the services they declare",
	Long: `Parses service profiles the way serve does and prints the resulting
services, characteristics and descriptors with their properties, permissions
and initial values. Nothing is published.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

var (
	inspectJSON    bool
	inspectNoColor bool
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
	inspectCmd.Flags().BoolVar(&inspectNoColor, "no-color", false, "Disable colored output")
}

func runInspect(cmd *cobra.Command, args []string) error {
	profiles, err := loadProfiles(args)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	registry := peripheral.NewRegistry()
	for i, profile := range profiles {
		for j := range profile.Services {
			if _, err := registry.CreateServiceFromDeclaration(&profile.Services[j]); err != nil {
				return fmt.Errorf("profile %s: %w", args[i], err)
			}
		}
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(registry.Services())
	}

	newTreePrinter(out, !inspectNoColor && isTerminal(out)).print(registry.Services())
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

type treePrinter struct {
	out     io.Writer
	service *color.Color
	char    *color.Color
	desc    *color.Color
	dim     *color.Color
}

func newTreePrinter(out io.Writer, colored bool) *treePrinter {
	p := &treePrinter{
		out:     out,
		service: color.New(color.FgCyan, color.Bold),
		char:    color.New(color.FgGreen),
		desc:    color.New(color.FgYellow),
		dim:     color.New(color.Faint),
	}
	for _, c := range []*color.Color{p.service, p.char, p.desc, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *treePrinter) print(services []peripheral.ServiceGraph) {
	for i, svc := range services {
		if i > 0 {
			_, _ = fmt.Fprintln(p.out)
		}
		kind := "primary"
		if !svc.Primary {
			kind = "secondary"
		}
		_, _ = fmt.Fprintf(p.out, "%s %s\n", p.service.Sprintf("Service %s%s", svc.UUID, displayName(bledb.LookupService(svc.UUID))), p.dim.Sprintf("(%s)", kind))

		for ci, c := range svc.Characteristics {
			branch, stem := "├─", "│ "
			if ci == len(svc.Characteristics)-1 {
				branch, stem = "└─", "  "
			}
			_, _ = fmt.Fprintf(p.out, "  %s %s\n", branch, p.char.Sprintf("%s%s", c.UUID, displayName(bledb.LookupCharacteristic(c.UUID))))
			_, _ = fmt.Fprintf(p.out, "  %s   properties:  %s\n", stem, c.Properties)
			_, _ = fmt.Fprintf(p.out, "  %s   permissions: %s\n", stem, orNone(c.Permissions.String()))
			if len(c.Value) > 0 {
				_, _ = fmt.Fprintf(p.out, "  %s   value:       %s\n", stem, formatValue(c.Value))
			}
			for _, d := range c.Descriptors {
				line := p.desc.Sprintf("%s%s", d.UUID, displayName(bledb.LookupDescriptor(d.UUID)))
				if len(d.Value) > 0 {
					line += " = " + formatValue(d.Value)
				}
				_, _ = fmt.Fprintf(p.out, "  %s   • %s\n", stem, line)
			}
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return ""
	}
	return " (" + name + ")"
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// formatValue renders bytes as hex, followed by the text when every byte is printable
func formatValue(v []byte) string {
	hex := make([]string, len(v))
	printable := true
	for i, b := range v {
		hex[i] = fmt.Sprintf("%02x", b)
		if b > unicode.MaxASCII || !unicode.IsPrint(rune(b)) {
			printable = false
		}
	}
	out := strings.Join(hex, " ")
	if printable {
		out += fmt.Sprintf(" %q", string(v))
	}
	return out
}
