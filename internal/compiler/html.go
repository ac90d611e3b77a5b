package compiler

import (
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
)

var (
	//go:embed templates/client.html.tmpl
	clientHTMLSource string
	clientHTML       = template.Must(template.New("client.html").Parse(clientHTMLSource))
)

type clientPage struct {
	Title      string
	Stylesheet string
	LiveReload string
}

// writeClientHTML emits build/client.html pointing at the browser bundle.
func writeClientHTML(opts Options) error {
	page := clientPage{Title: opts.Title}
	if page.Title == "" {
		page.Title = filepath.Base(opts.Root)
	}
	if _, err := os.Stat(filepath.Join(opts.build(), "_browser", "client.css")); err == nil {
		page.Stylesheet = "/_browser/client.css"
	}
	if opts.Mode == Development {
		page.LiveReload = opts.LiveReloadPath
	}

	if err := os.MkdirAll(opts.build(), 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(opts.build(), "client.html"))
	if err != nil {
		return fmt.Errorf("failed to write client.html: %w", err)
	}
	defer f.Close()

	return clientHTML.Execute(f, page)
}
