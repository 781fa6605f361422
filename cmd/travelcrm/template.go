package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foxzi/travelcrm/internal/repository"
	"github.com/foxzi/travelcrm/internal/template"
)

var templateID string

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Email template commands",
}

var templateCheckCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Check a template for unsafe HTML and unsupported blocks",
	Long: `Check a template file or a stored template (--id). A .json file is read as a
template with subject, html, text and variables; any other file is read as HTML.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTemplateCheck,
}

func init() {
	templateCheckCmd.Flags().StringVar(&templateID, "id", "", "ID of a stored template")

	templateCmd.AddCommand(templateCheckCmd)
	rootCmd.AddCommand(templateCmd)
}

func runTemplateCheck(cmd *cobra.Command, args []string) error {
	var (
		tmpl *template.Template
		err  error
	)
	switch {
	case templateID != "":
		tmpl, err = loadStoredTemplate(templateID)
	case len(args) == 1:
		tmpl, err = loadTemplateFile(args[0])
	default:
		return fmt.Errorf("a template file or --id is required")
	}
	if err != nil {
		return err
	}

	report := checkTemplate(tmpl)
	fmt.Print(report)
	if !report.ok() {
		return fmt.Errorf("template check failed")
	}
	return nil
}

func loadStoredTemplate(id string) (*template.Template, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	t, err := repository.NewTemplateRepository(database.DB).GetByID(context.Background(), id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("template %s not found", id)
	}
	return t.Content(), nil
}

func loadTemplateFile(path string) (*template.Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var t template.Template
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to parse template: %w", err)
		}
		return &t, nil
	}
	return &template.Template{HTML: string(data)}, nil
}

type checkReport struct {
	security   template.SecurityReport
	structure  error
	used       []string
	undeclared []string
	unused     []string
}

func checkTemplate(t *template.Template) checkReport {
	engine := template.NewEngine(template.PolicyFail)
	r := checkReport{
		security:  template.ValidateHTMLSecurity(t.HTML),
		structure: engine.Validate(t),
		used:      engine.Variables(t),
	}

	declared := make(map[string]bool, len(t.Variables))
	for _, v := range t.Variables {
		declared[v.Name] = true
	}
	referenced := make(map[string]bool, len(r.used))
	for _, name := range r.used {
		referenced[name] = true
		if len(t.Variables) > 0 && !declared[name] {
			r.undeclared = append(r.undeclared, name)
		}
	}
	for _, v := range t.Variables {
		if !referenced[v.Name] {
			r.unused = append(r.unused, v.Name)
		}
	}
	return r
}

// ok reports whether the template can be saved; unused and undeclared
// variables are only warnings
func (r checkReport) ok() bool {
	return r.security.IsSecure && r.structure == nil
}

func (r checkReport) String() string {
	var b strings.Builder
	if r.security.IsSecure {
		b.WriteString("Security: OK\n")
	} else {
		b.WriteString("Security: issues found\n")
		for _, issue := range r.security.Issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}
	if r.structure != nil {
		fmt.Fprintf(&b, "Structure: %v\n", r.structure)
	} else {
		b.WriteString("Structure: OK\n")
	}
	fmt.Fprintf(&b, "Variables: %s\n", joinOrNone(r.used))
	if len(r.undeclared) > 0 {
		fmt.Fprintf(&b, "  undeclared: %s\n", strings.Join(r.undeclared, ", "))
	}
	if len(r.unused) > 0 {
		fmt.Fprintf(&b, "  unused: %s\n", strings.Join(r.unused, ", "))
	}
	return b.String()
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
