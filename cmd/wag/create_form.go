package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/untoldecay/waggle/internal/types"
)

// createFormRawInput holds the raw string values from the form UI before
// parsing.
type createFormRawInput struct {
	Title       string
	Description string
	CellType    string
	Priority    string // from select, e.g. "0", "1", "2"
	Assignee    string
	Labels      string // comma-separated
	Parent      string
	Design      string
	Acceptance  string
	Notes       string
	Deps        string // comma-separated, "type:id" or "id"
}

// createFormValues is the parsed form result. Flag-driven creation fills
// the same struct so cell creation has a single path.
type createFormValues struct {
	Title              string
	Description        string
	Design             string
	AcceptanceCriteria string
	Notes              string
	CellType           types.CellType
	Priority           int
	Assignee           string
	Labels             []string
	Parent             string
	Dependencies       []depSpec
}

// depSpec is one parsed dependency argument.
type depSpec struct {
	ID   string
	Type types.DependencyType
}

// parseDepSpec parses "type:id" or a bare id (defaulting to blocks).
func parseDepSpec(raw string) (depSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return depSpec{}, fmt.Errorf("empty dependency")
	}
	spec := depSpec{ID: raw, Type: types.DepBlocks}
	if i := strings.Index(raw, ":"); i >= 0 {
		spec.Type = types.DependencyType(strings.TrimSpace(raw[:i]))
		spec.ID = strings.TrimSpace(raw[i+1:])
	}
	if !spec.Type.IsValid() {
		return depSpec{}, fmt.Errorf("invalid dependency type %q (valid: blocks, related, parent-child, discovered-from)", spec.Type)
	}
	if spec.ID == "" {
		return depSpec{}, fmt.Errorf("dependency %q has no cell id", raw)
	}
	return spec, nil
}

func splitCommaList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseCreateFormInput converts raw form strings into typed values.
func parseCreateFormInput(raw *createFormRawInput) (*createFormValues, error) {
	priority, err := strconv.Atoi(raw.Priority)
	if err != nil {
		priority = 2
	}

	var deps []depSpec
	for _, d := range splitCommaList(raw.Deps) {
		spec, err := parseDepSpec(d)
		if err != nil {
			return nil, err
		}
		deps = append(deps, spec)
	}

	return &createFormValues{
		Title:              strings.TrimSpace(raw.Title),
		Description:        raw.Description,
		Design:             raw.Design,
		AcceptanceCriteria: raw.Acceptance,
		Notes:              raw.Notes,
		CellType:           types.CellType(raw.CellType),
		Priority:           priority,
		Assignee:           strings.TrimSpace(raw.Assignee),
		Labels:             splitCommaList(raw.Labels),
		Parent:             strings.TrimSpace(raw.Parent),
		Dependencies:       deps,
	}, nil
}

// createValuesFromFlags builds form values from cell create's flags.
func createValuesFromFlags(cmd *cobra.Command, title string) (*createFormValues, error) {
	cellType, _ := cmd.Flags().GetString("type")
	priority, _ := cmd.Flags().GetInt("priority")
	description, _ := cmd.Flags().GetString("description")
	design, _ := cmd.Flags().GetString("design")
	acceptance, _ := cmd.Flags().GetString("acceptance")
	notes, _ := cmd.Flags().GetString("notes")
	assignee, _ := cmd.Flags().GetString("assignee")
	labels, _ := cmd.Flags().GetStringSlice("label")
	rawDeps, _ := cmd.Flags().GetStringSlice("deps")
	parent, _ := cmd.Flags().GetString("parent")

	if !types.CellType(cellType).IsValid() {
		return nil, fmt.Errorf("invalid cell type %q (valid: task, bug, feature, epic, chore)", cellType)
	}
	if priority < 0 || priority > 4 {
		return nil, fmt.Errorf("priority %d out of range 0-4", priority)
	}

	var deps []depSpec
	for _, d := range rawDeps {
		spec, err := parseDepSpec(d)
		if err != nil {
			return nil, err
		}
		deps = append(deps, spec)
	}

	return &createFormValues{
		Title:              strings.TrimSpace(title),
		Description:        description,
		Design:             design,
		AcceptanceCriteria: acceptance,
		Notes:              notes,
		CellType:           types.CellType(cellType),
		Priority:           priority,
		Assignee:           assignee,
		Labels:             labels,
		Parent:             parent,
		Dependencies:       deps,
	}, nil
}

// runCreateForm collects cell fields with an interactive form. A nil,
// nil return means the user canceled.
func runCreateForm() (*createFormValues, error) {
	raw := &createFormRawInput{}

	typeOptions := []huh.Option[string]{
		huh.NewOption("Task", "task"),
		huh.NewOption("Bug", "bug"),
		huh.NewOption("Feature", "feature"),
		huh.NewOption("Epic", "epic"),
		huh.NewOption("Chore", "chore"),
	}

	priorityOptions := []huh.Option[string]{
		huh.NewOption("P0 - Critical", "0"),
		huh.NewOption("P1 - High", "1"),
		huh.NewOption("P2 - Medium (default)", "2"),
		huh.NewOption("P3 - Low", "3"),
		huh.NewOption("P4 - Backlog", "4"),
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Title").
				Description("Brief summary of the work (required)").
				Placeholder("e.g., Fix retry loop in watcher fallback").
				Value(&raw.Title).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("title is required")
					}
					if len(s) > types.MaxTitleLength {
						return fmt.Errorf("title must be %d characters or less", types.MaxTitleLength)
					}
					return nil
				}),

			huh.NewText().
				Title("Description").
				Description("What needs doing and why").
				Placeholder("Explain the work and its context...").
				CharLimit(5000).
				Value(&raw.Description),

			huh.NewSelect[string]().
				Title("Type").
				Description("Categorize the kind of work").
				Options(typeOptions...).
				Value(&raw.CellType),

			huh.NewSelect[string]().
				Title("Priority").
				Description("Set urgency level").
				Options(priorityOptions...).
				Value(&raw.Priority),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Assignee").
				Description("Which agent should work on this? (optional)").
				Placeholder("e.g., red-panda").
				Value(&raw.Assignee),

			huh.NewInput().
				Title("Labels").
				Description("Comma-separated tags (optional)").
				Placeholder("e.g., auth, refactor, needs-review").
				Value(&raw.Labels),

			huh.NewInput().
				Title("Parent Epic").
				Description("Epic cell to attach this to (optional)").
				Placeholder("e.g., wag-a1b2c3").
				Value(&raw.Parent),
		),

		huh.NewGroup(
			huh.NewText().
				Title("Design Notes").
				Description("Technical approach (optional)").
				Placeholder("Describe the implementation approach...").
				CharLimit(5000).
				Value(&raw.Design),

			huh.NewText().
				Title("Acceptance Criteria").
				Description("How do we know this is done? (optional)").
				Placeholder("List the criteria for completion...").
				CharLimit(5000).
				Value(&raw.Acceptance),

			huh.NewText().
				Title("Notes").
				Description("Anything else worth recording (optional)").
				CharLimit(5000).
				Value(&raw.Notes),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("Dependencies").
				Description("Format: type:id or just id (optional)").
				Placeholder("e.g., blocks:wag-a1b2c3, discovered-from:wag-d4e5f6").
				Value(&raw.Deps),

			huh.NewConfirm().
				Title("Create this cell?").
				Affirmative("Create").
				Negative("Cancel"),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil, nil
		}
		return nil, fmt.Errorf("form error: %w", err)
	}
	return parseCreateFormInput(raw)
}
