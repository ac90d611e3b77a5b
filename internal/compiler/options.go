package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/evanw/esbuild/pkg/api"
	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/config"
)

const (
	clientEntry = "ark:client"
	serverEntry = "ark:server"
)

var assetLoaders = map[string]api.Loader{
	".png":   api.LoaderFile,
	".jpg":   api.LoaderFile,
	".jpeg":  api.LoaderFile,
	".gif":   api.LoaderFile,
	".svg":   api.LoaderFile,
	".webp":  api.LoaderFile,
	".ico":   api.LoaderFile,
	".woff":  api.LoaderFile,
	".woff2": api.LoaderFile,
	".ttf":   api.LoaderFile,
	".eot":   api.LoaderFile,
}

func loaders(styles api.Loader) map[string]api.Loader {
	out := map[string]api.Loader{".css": styles}
	for ext, l := range assetLoaders {
		out[ext] = l
	}
	return out
}

func common(opts Options) api.BuildOptions {
	b := api.BuildOptions{
		AbsWorkingDir: opts.Root,
		Bundle:        true,
		Write:         true,
		LogLevel:      api.LogLevelSilent,
		JSX:           api.JSXAutomatic,
		NodePaths:     []string{filepath.Join(opts.Root, "node_modules")},
		Define: map[string]string{
			"process.env.NODE_ENV": fmt.Sprintf("%q", string(opts.Mode)),
		},
	}
	if opts.Mode == Production {
		b.MinifyWhitespace = true
		b.MinifyIdentifiers = true
		b.MinifySyntax = true
	} else {
		b.Sourcemap = api.SourceMapLinked
	}
	return b
}

func frontendOptions(u *Unit, opts Options) api.BuildOptions {
	b := common(opts)
	b.Platform = api.PlatformBrowser
	b.Format = api.FormatESModule
	b.Splitting = true
	b.Target = api.ES2020
	b.Outdir = opts.build()
	b.PublicPath = "/"
	b.EntryNames = "_browser/[name]"
	b.ChunkNames = "_browser/chunks/[name]-[hash]"
	b.AssetNames = "assets/[name]-[hash]"
	b.Loader = loaders(api.LoaderCSS)
	b.EntryPointsAdvanced = []api.EntryPoint{{InputPath: clientEntry, OutputPath: "client"}}
	b.Plugins = []api.Plugin{
		virtualModules(Frontend, opts),
		remoteStubs(opts),
		lifecycle(u, func(result *api.BuildResult) error {
			if len(result.Errors) > 0 {
				return nil
			}
			return writeClientHTML(opts)
		}),
	}
	return b
}

func backendOptions(u *Unit, opts Options) (api.BuildOptions, error) {
	external, err := serverExternals(opts.Root)
	if err != nil {
		u.logger.Warn("could not read package.json, bundling every dependency", zap.Error(err))
	}

	b := common(opts)
	b.Platform = api.PlatformNode
	b.Format = api.FormatCommonJS
	b.Target = api.ES2020
	b.Outdir = filepath.Join(opts.build(), "server")
	b.EntryNames = "[name]"
	b.AssetNames = "assets/[name]-[hash]"
	b.Loader = loaders(api.LoaderEmpty)
	b.External = external
	b.EntryPointsAdvanced = []api.EntryPoint{{InputPath: serverEntry, OutputPath: "main"}}
	b.Plugins = []api.Plugin{
		virtualModules(Backend, opts),
		lifecycle(u, nil),
	}
	return b, nil
}

// serverExternals lists the dependencies the backend bundle leaves to
// node_modules: everything in package.json except the allow list.
func serverExternals(root string) ([]string, error) {
	pkg, err := config.ReadPackageJSON(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	allow := map[string]bool{}
	for _, name := range pkg.MagicJSConfig.CompilerOptions.ServerBundleAllowList {
		allow[name] = true
	}

	seen := map[string]bool{}
	var out []string
	for _, deps := range []map[string]string{pkg.Dependencies, pkg.PeerDependencies} {
		for name := range deps {
			if allow[name] || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name, name+"/*")
		}
	}
	sort.Strings(out)
	return out, nil
}

// lifecycle forwards esbuild's start and end hooks to the unit. after runs
// before the monitor sees the result.
func lifecycle(u *Unit, after func(*api.BuildResult) error) api.Plugin {
	return api.Plugin{
		Name: "ark-lifecycle",
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				u.startPass()
				return api.OnStartResult{}, nil
			})
			build.OnEnd(func(result *api.BuildResult) (api.OnEndResult, error) {
				if after != nil {
					if err := after(result); err != nil {
						result.Errors = append(result.Errors, api.Message{
							PluginName: "ark-lifecycle",
							Text:       err.Error(),
						})
					}
				}
				u.report(nil, u.finishPass(result))
				return api.OnEndResult{}, nil
			})
		},
	}
}
