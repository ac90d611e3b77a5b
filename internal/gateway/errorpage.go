package gateway

import (
	_ "embed"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/status"
)

var (
	//go:embed templates/error.html
	errorPageSource string
	errorPage       = template.Must(template.New("error").Parse(errorPageSource))
)

type errorSection struct {
	Title       string
	Diagnostics []string
}

func (g *Gateway) renderErrors(w http.ResponseWriter, s status.Status) {
	data := struct {
		Sections []errorSection
		Count    int
	}{
		Sections: []errorSection{
			{Title: "Backend", Diagnostics: s.BackendErrors},
			{Title: "Frontend", Diagnostics: s.FrontendErrors},
		},
		Count: len(s.BackendErrors) + len(s.FrontendErrors),
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	setNoCache(h)
	w.WriteHeader(http.StatusInternalServerError)
	if err := errorPage.Execute(w, data); err != nil {
		g.logger.Error("failed to render error page", zap.Error(err))
	}
}
