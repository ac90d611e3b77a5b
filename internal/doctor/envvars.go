package doctor

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/joho/godotenv"

	"github.com/magicjsdev/ark/internal/config"
)

// EnvRef is one process.env reference found in the source tree.
type EnvRef struct {
	Name string
	File string
	Line int
}

var envRefPattern = regexp.MustCompile(`process\.env\.([A-Z][A-Z0-9_]*)|process\.env\[['"]([A-Z][A-Z0-9_]*)['"]\]`)

var sourceExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true, ".cjs": true,
}

// Set by the runtime or the bundler.
var ignoredEnvVars = map[string]bool{
	"NODE_ENV": true,
	"PORT":     true,
	"HOST":     true,
	"PATH":     true,
	"HOME":     true,
	"CI":       true,
	"DEBUG":    true,
}

var secretMarkers = []string{
	"API_KEY", "APIKEY", "SECRET", "TOKEN", "PASSWORD", "PASSWD",
	"PRIVATE_KEY", "AUTH", "CREDENTIAL", "ACCESS_KEY",
}

// ScanEnvRefs returns the first reference of every env var used under dir,
// sorted by name.
func ScanEnvRefs(dir string) ([]EnvRef, error) {
	seen := map[string]bool{}
	var refs []EnvRef

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || (strings.HasPrefix(d.Name(), ".") && path != dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(path)] {
			return nil
		}
		found, err := scanFile(path)
		if err != nil {
			return nil
		}
		for _, r := range found {
			if !seen[r.Name] && !ignoredEnvVars[r.Name] {
				seen[r.Name] = true
				refs = append(refs, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
	return refs, nil
}

func scanFile(path string) ([]EnvRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var refs []EnvRef
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		for _, m := range envRefPattern.FindAllStringSubmatch(scanner.Text(), -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			refs = append(refs, EnvRef{Name: name, File: path, Line: line})
		}
	}
	return refs, scanner.Err()
}

// MissingSecrets returns the referenced vars that look like credentials and
// are set neither in the env files, nor in .env.example, nor in the
// environment of ark itself.
func MissingSecrets(cfg config.Config, refs []EnvRef) []EnvRef {
	defined, err := cfg.LoadEnv()
	if err != nil {
		defined = map[string]string{}
	}
	if example, err := godotenv.Read(filepath.Join(cfg.Root, ".env.example")); err == nil {
		for k := range example {
			defined[k] = ""
		}
	}

	var missing []EnvRef
	for _, r := range refs {
		if !isSecret(r.Name) {
			continue
		}
		if _, ok := defined[r.Name]; ok {
			continue
		}
		if _, ok := os.LookupEnv(r.Name); ok {
			continue
		}
		missing = append(missing, r)
	}
	return missing
}

func isSecret(name string) bool {
	for _, m := range secretMarkers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}
