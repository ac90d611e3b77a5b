package compiler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sampleSrc(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(src, "ark.json"), `{"routes":[{"path":"/","view":"./views/home.tsx"},{"path":"/about","view":"views/about.tsx"}]}`)
	writeFile(t, filepath.Join(src, "views", "home.tsx"), "export default () => null;\n")
	writeFile(t, filepath.Join(src, "features", "blog", "list.applet.tsx"), "export default () => null;\n")
	writeFile(t, filepath.Join(src, "features", "blog", "config.json"), `{"applets":[{"fileName":"list.applet.tsx","alias":"blog-list"}]}`)
	writeFile(t, filepath.Join(src, "backend", "get-posts.server.tsx"), "export default async () => [];\n")
	return src
}

func TestGenerateAutoLoaderFrontend(t *testing.T) {
	src := sampleSrc(t)

	al, err := GenerateAutoLoader(src, Frontend)
	require.NoError(t, err)

	assert.Contains(t, al.Source, "const ViewsHomeTsx = lazy(() => import('./views/home.tsx'));")
	assert.Contains(t, al.Source, "registerView('/about', 'ViewsAboutTsx', ViewsAboutTsx_COMP);")
	assert.Contains(t, al.Source, `"resolvers":["features/blog/list.applet.tsx","blog-list"]`)
	assert.NotContains(t, al.Source, "registerBackendComponent('", "frontend never registers backend modules")
	assert.Contains(t, al.WatchDirs, filepath.Join(src, "features", "blog"))
	assert.Equal(t, []string{filepath.Join(src, "ark.json")}, al.WatchFiles)
}

func TestGenerateAutoLoaderBackend(t *testing.T) {
	src := sampleSrc(t)

	al, err := GenerateAutoLoader(src, Backend)
	require.NoError(t, err)

	assert.Contains(t, al.Source, "import ViewsHomeTsx from './views/home.tsx';")
	assert.Contains(t, al.Source, "import getPostsServerTsx from './backend/get-posts.server.tsx';")
	assert.Contains(t, al.Source, "registerBackendComponent('backend/get-posts', getPostsServerTsx);")
	assert.NotContains(t, al.Source, "lazy(() =>")
	assert.Contains(t, al.WatchDirs, filepath.Join(src, "backend"))
}

func TestGenerateAutoLoaderDedupesImports(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	writeFile(t, filepath.Join(src, "ark.json"), `{"routes":[{"path":"/","view":"views/home.tsx"},{"path":"/home","view":"views/home.tsx"}]}`)

	al, err := GenerateAutoLoader(src, Backend)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(al.Source, "import ViewsHomeTsx from"))
	assert.Equal(t, 2, strings.Count(al.Source, "registerView("))
}

func TestGenerateAutoLoaderMissingManifest(t *testing.T) {
	_, err := GenerateAutoLoader(t.TempDir(), Frontend)
	assert.ErrorContains(t, err, "ark.json")
}

func TestModuleID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"backend/get-posts.server.tsx", "backend/get-posts"},
		{"features/blog/save.server.tsx", "features/blog/save"},
		{"top.server.tsx", "top"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ModuleID(tt.in))
		})
	}
}

func TestCaseHelpers(t *testing.T) {
	assert.Equal(t, "BlogListAppletTsx", pascal("blog/list.applet.tsx"))
	assert.Equal(t, "ViewsHomePageTsx", pascal("./views/homePage.tsx"))
	assert.Equal(t, "M404Tsx", pascal("404.tsx"))
	assert.Equal(t, "getPostsServerTsx", camel("get-posts.server.tsx"))
}

func TestRemoteStub(t *testing.T) {
	stub, err := RemoteStub("backend/get-posts")
	require.NoError(t, err)
	assert.Contains(t, stub, `'/__backend/__managed/' + "backend/get-posts"`)
	assert.Contains(t, stub, "JSON.stringify({ args })")
}
