package command

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"charm.land/lipgloss/v2"
	"golang.org/x/term"

	"github.com/joeycumines/safeswitch/internal/condition"
	"github.com/joeycumines/safeswitch/internal/config"
	"github.com/joeycumines/safeswitch/internal/scenario"
	"github.com/joeycumines/safeswitch/internal/sim"
	"github.com/joeycumines/safeswitch/internal/tree"
)

// DescribeCommand prints a scenario's task tree, including derived higher
// post-conditions.
type DescribeCommand struct {
	*BaseCommand
	config *config.Config
	fs     *flag.FlagSet

	scenarioPath string
	color        string
}

// NewDescribeCommand creates a new describe command.
func NewDescribeCommand(cfg *config.Config) *DescribeCommand {
	return &DescribeCommand{
		BaseCommand: NewBaseCommand(
			"describe",
			"Show a scenario's conditions, agents and task tree",
			"describe [options] <scenario.yaml>",
		),
		config: cfg,
	}
}

// SetupFlags configures the flags for the describe command.
func (c *DescribeCommand) SetupFlags(fs *flag.FlagSet) {
	c.fs = fs
	fs.StringVar(&c.scenarioPath, "scenario", "", "Scenario file (alternative to the positional argument)")
	fs.StringVar(&c.color, "color", "", "Styled output: auto, always, never")
}

type describeStyles struct {
	enabled bool
	title   lipgloss.Style
	name    lipgloss.Style
	kind    map[string]lipgloss.Style
	detail  lipgloss.Style
}

func newDescribeStyles(enabled bool) describeStyles {
	return describeStyles{
		enabled: enabled,
		title:   lipgloss.NewStyle().Bold(true).Underline(true),
		name:    lipgloss.NewStyle().Bold(true),
		kind: map[string]lipgloss.Style{
			"sequence": lipgloss.NewStyle().Foreground(lipgloss.Color("33")),
			"selector": lipgloss.NewStyle().Foreground(lipgloss.Color("135")),
			"guard":    lipgloss.NewStyle().Foreground(lipgloss.Color("178")),
			"learn":    lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
			"do":       lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
			"plan":     lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
		},
		detail: lipgloss.NewStyle().Faint(true),
	}
}

func (s describeStyles) render(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// colorEnabled decides whether to style output written to w.
func colorEnabled(mode string, w io.Writer) (bool, error) {
	switch strings.ToLower(mode) {
	case "always":
		return true, nil
	case "never":
		return false, nil
	case "auto", "":
		f, ok := w.(*os.File)
		return ok && term.IsTerminal(int(f.Fd())), nil
	default:
		return false, fmt.Errorf("invalid color mode: %s", mode)
	}
}

// Execute prints the scenario description.
func (c *DescribeCommand) Execute(args []string, stdout, stderr io.Writer) error {
	path, err := scenarioArg(c.scenarioPath, args)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Usage: %s\n", c.Usage())
		return err
	}

	mode := c.color
	if !setFlags(c.fs)["color"] {
		mode = config.DefaultSchema().ResolveFor(c.config, c.Name(), "color")
	}
	styled, err := colorEnabled(mode, stdout)
	if err != nil {
		return err
	}

	sc, err := scenario.Load(path)
	if err != nil {
		return err
	}
	sys, err := scenario.Build(sc, scenario.Options{Logger: discardLogger()})
	if err != nil {
		return err
	}

	st := newDescribeStyles(styled)
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", st.render(st.title, "Scenario"), sc.Name)

	b.WriteString("\n" + st.render(st.title, "Conditions") + "\n")
	names := make([]string, 0, len(sc.Conditions))
	for name := range sc.Conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "  %s  %s\n", st.render(st.name, name), st.render(st.detail, sc.Conditions[name]))
	}

	b.WriteString("\n" + st.render(st.title, "Agents") + "\n")
	for _, a := range sc.Agents {
		layout, policy := a.Layout, a.Policy
		if layout == "" {
			layout = sim.Grid25.String()
		}
		if policy == "" {
			policy = "random"
		}
		fmt.Fprintf(&b, "  %s  %s\n", st.render(st.name, a.Name),
			st.render(st.detail, fmt.Sprintf("body=%s layout=%s policy=%s barriers=[%s]", a.Body, layout, policy, strings.Join(a.Barriers, ", "))))
	}

	b.WriteString("\n" + st.render(st.title, "Tree") + "\n")
	tree.Walk(sys.Tree.Root(), func(n tree.Node, depth int) {
		kind, detail := describeNode(n)
		fmt.Fprintf(&b, "%s%s %s", strings.Repeat("  ", depth+1), st.render(st.kind[kind], kind), st.render(st.name, n.Name()))
		if detail != "" {
			fmt.Fprintf(&b, "  %s", st.render(st.detail, detail))
		}
		b.WriteString("\n")
	})

	_, err = io.WriteString(stdout, b.String())
	return err
}

func describeNode(n tree.Node) (kind, detail string) {
	switch n := n.(type) {
	case *tree.Sequence:
		return "sequence", ""
	case *tree.Selector:
		return "selector", ""
	case *tree.Guard:
		return "guard", "if " + n.Condition().Name()
	case *tree.Do:
		return "do", ""
	case *tree.Subtree:
		return "plan", ""
	case *tree.RunPolicyUntil:
		parts := []string{"agent=" + n.Agent().Name(), "post=" + n.Post().Name()}
		if accs := n.ACCs(); len(accs) > 0 {
			parts = append(parts, "accs=["+strings.Join(condition.Names(accs), ", ")+"]")
		}
		if higher := n.HigherPosts(); len(higher) > 0 {
			parts = append(parts, "higher=["+strings.Join(condition.Names(higher), ", ")+"]")
		}
		if n.ACCTerminal() {
			parts = append(parts, "acc-terminal")
		}
		return "learn", strings.Join(parts, " ")
	default:
		return "node", ""
	}
}
