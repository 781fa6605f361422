package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foxzi/travelcrm/internal/template"
)

func TestCheckTemplate(t *testing.T) {
	tests := []struct {
		name       string
		tmpl       *template.Template
		ok         bool
		undeclared []string
		unused     []string
	}{
		{
			name: "clean",
			tmpl: &template.Template{
				Subject:   "Hola {{firstName}}",
				HTML:      "<p>{{destination}}</p>",
				Variables: []template.Variable{{Name: "firstName"}, {Name: "destination"}},
			},
			ok: true,
		},
		{
			name: "script",
			tmpl: &template.Template{HTML: "<script>alert(1)</script>"},
		},
		{
			name: "nested blocks",
			tmpl: &template.Template{HTML: "{{#if a}}{{#if b}}x{{/if}}{{/if}}"},
		},
		{
			name: "variable mismatch",
			tmpl: &template.Template{
				HTML:      "<p>{{price}}</p>",
				Variables: []template.Variable{{Name: "discount"}},
			},
			ok:         true,
			undeclared: []string{"price"},
			unused:     []string{"discount"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := checkTemplate(tt.tmpl)
			if r.ok() != tt.ok {
				t.Errorf("ok() = %v, want %v\n%s", r.ok(), tt.ok, r)
			}
			if strings.Join(r.undeclared, ",") != strings.Join(tt.undeclared, ",") {
				t.Errorf("undeclared = %v, want %v", r.undeclared, tt.undeclared)
			}
			if strings.Join(r.unused, ",") != strings.Join(tt.unused, ",") {
				t.Errorf("unused = %v, want %v", r.unused, tt.unused)
			}
		})
	}
}

func TestCheckTemplateReportsNestedBlocks(t *testing.T) {
	r := checkTemplate(&template.Template{Text: "{{#unless a}}{{#if b}}x{{/if}}{{/unless}}"})
	if !errors.Is(r.structure, template.ErrNestedBlocks) {
		t.Fatalf("structure = %v, want ErrNestedBlocks", r.structure)
	}
	if !strings.Contains(r.String(), "Structure: text:") {
		t.Errorf("report = %s", r)
	}
}

func TestLoadTemplateFile(t *testing.T) {
	dir := t.TempDir()

	htmlPath := filepath.Join(dir, "welcome.html")
	if err := os.WriteFile(htmlPath, []byte("<p>Hola {{firstName}}</p>"), 0644); err != nil {
		t.Fatal(err)
	}
	tmpl, err := loadTemplateFile(htmlPath)
	if err != nil {
		t.Fatalf("loadTemplateFile(html) error = %v", err)
	}
	if tmpl.HTML != "<p>Hola {{firstName}}</p>" || tmpl.Subject != "" {
		t.Errorf("html template = %+v", tmpl)
	}

	jsonPath := filepath.Join(dir, "offer.json")
	data := `{"subject":"Oferta {{destination}}","html":"<p>{{price}}</p>",` +
		`"variables":[{"name":"price","type":"number","required":true}]}`
	if err := os.WriteFile(jsonPath, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	tmpl, err = loadTemplateFile(jsonPath)
	if err != nil {
		t.Fatalf("loadTemplateFile(json) error = %v", err)
	}
	if tmpl.Subject != "Oferta {{destination}}" {
		t.Errorf("Subject = %q", tmpl.Subject)
	}
	if len(tmpl.Variables) != 1 || tmpl.Variables[0].Type != template.TypeNumber || !tmpl.Variables[0].Required {
		t.Errorf("Variables = %+v", tmpl.Variables)
	}

	if _, err := loadTemplateFile(filepath.Join(dir, "missing.html")); err == nil {
		t.Error("loadTemplateFile(missing) error = nil")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Caribe", 10, "Caribe"},
		{"Escapada a Cartagena de Indias", 12, "Escapada ..."},
		{"Año Nuevo en Perú", 10, "Año Nue..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
