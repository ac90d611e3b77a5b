package compiler

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"regexp"
	"text/template"

	"github.com/evanw/esbuild/pkg/api"
)

const virtualNamespace = "ark"

var (
	//go:embed templates/server.tsx
	serverSource string

	//go:embed templates/client.tsx
	clientSource string

	//go:embed templates/remote.ts.tmpl
	remoteSource string
	remoteTmpl   = template.Must(template.New("remote").Parse(remoteSource))
)

// virtualModules resolves the entry points and the generated auto-loader.
// The client entry is only provided when src/client.tsx does not exist.
func virtualModules(target Target, opts Options) api.Plugin {
	src := opts.src()
	return api.Plugin{
		Name: "ark-virtual",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^ark:(client|server)$`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					if args.Path == clientEntry {
						onDisk := filepath.Join(src, "client.tsx")
						if _, err := os.Stat(onDisk); err == nil {
							return api.OnResolveResult{Path: onDisk}, nil
						}
						return api.OnResolveResult{Path: "client.tsx", Namespace: virtualNamespace}, nil
					}
					return api.OnResolveResult{Path: "server.tsx", Namespace: virtualNamespace}, nil
				})

			build.OnResolve(api.OnResolveOptions{Filter: `^\./auto-loader(\.tsx)?$`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{Path: "auto-loader.tsx", Namespace: virtualNamespace}, nil
				})

			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: virtualNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					res := api.OnLoadResult{ResolveDir: src, Loader: api.LoaderTSX}
					switch args.Path {
					case "server.tsx":
						res.Contents = &serverSource
					case "client.tsx":
						res.Contents = &clientSource
						res.WatchDirs = []string{src}
					case "auto-loader.tsx":
						al, err := GenerateAutoLoader(src, target)
						if err != nil {
							return api.OnLoadResult{}, err
						}
						res.Contents = &al.Source
						res.WatchDirs = al.WatchDirs
						res.WatchFiles = al.WatchFiles
					}
					return res, nil
				})
		},
	}
}

var remoteFile = regexp.MustCompile(`\.server\.tsx$`)

// remoteStubs replaces backend modules imported by the frontend with a
// function that calls them over HTTP.
func remoteStubs(opts Options) api.Plugin {
	src := opts.src()
	return api.Plugin{
		Name: "ark-remote",
		Setup: func(build api.PluginBuild) {
			build.OnLoad(api.OnLoadOptions{Filter: remoteFile.String(), Namespace: "file"},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					rel, err := filepath.Rel(src, args.Path)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents, err := RemoteStub(ModuleID(rel))
					if err != nil {
						return api.OnLoadResult{}, err
					}
					return api.OnLoadResult{Contents: &contents, Loader: api.LoaderTS}, nil
				})
		},
	}
}

// RemoteStub returns the frontend replacement for the backend module id.
func RemoteStub(moduleID string) (string, error) {
	var buf bytes.Buffer
	if err := remoteTmpl.Execute(&buf, struct{ ModuleID string }{moduleID}); err != nil {
		return "", err
	}
	return buf.String(), nil
}
