package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// AutoLoader is the generated module registering views, applets and backend
// modules, together with the paths whose changes invalidate it.
type AutoLoader struct {
	Source     string
	WatchDirs  []string
	WatchFiles []string
}

type arkManifest struct {
	Routes []struct {
		Path string `json:"path"`
		View string `json:"view"`
	} `json:"routes"`
}

type featureConfig struct {
	PackageID string `json:"packageId,omitempty"`
	Applets   []struct {
		FileName string `json:"fileName"`
		Alias    string `json:"alias"`
	} `json:"applets"`
}

type importable struct {
	Path      *string  `json:"path"`
	Type      string   `json:"type"`
	FilePath  string   `json:"filePath"`
	FileID    string   `json:"fileId"`
	Resolvers []string `json:"resolvers,omitempty"`
}

// GenerateAutoLoader scans srcDir and renders the auto-loader module for
// target. Frontend imports are lazy; backend imports are static and also
// register every *.server.tsx module.
func GenerateAutoLoader(srcDir string, target Target) (AutoLoader, error) {
	manifestPath := filepath.Join(srcDir, "ark.json")
	al := AutoLoader{WatchFiles: []string{manifestPath}, WatchDirs: []string{srcDir}}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return al, fmt.Errorf("failed to read ark.json: %w", err)
	}
	var manifest arkManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return al, fmt.Errorf("invalid ark.json: %w", err)
	}

	var items []importable
	for _, r := range manifest.Routes {
		route := r.Path
		view := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(r.View)), "/")
		items = append(items, importable{
			Path:     &route,
			Type:     "view",
			FilePath: "./" + view,
			FileID:   pascal(r.View),
		})
	}

	applets, dirs, err := scanApplets(srcDir)
	if err != nil {
		return al, err
	}
	items = append(items, applets...)
	al.WatchDirs = append(al.WatchDirs, dirs...)

	var backend []backendModule
	if target == Backend {
		var bdirs []string
		backend, bdirs, err = scanBackendModules(srcDir)
		if err != nil {
			return al, err
		}
		al.WatchDirs = append(al.WatchDirs, bdirs...)
	}
	al.WatchDirs = dedupe(al.WatchDirs)

	al.Source = renderAutoLoader(items, backend, target == Frontend)
	return al, nil
}

func scanApplets(srcDir string) ([]importable, []string, error) {
	featuresDir := filepath.Join(srcDir, "features")
	entries, err := os.ReadDir(featuresDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	var items []importable
	dirs := []string{featuresDir}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		feature := e.Name()
		featurePath := filepath.Join(featuresDir, feature)

		var cfg featureConfig
		if data, err := os.ReadFile(filepath.Join(featurePath, "config.json")); err == nil {
			// A broken config only loses the aliases.
			_ = json.Unmarshal(data, &cfg)
		}

		err := filepath.WalkDir(featurePath, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if p != featurePath && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				dirs = append(dirs, p)
				return nil
			}
			if !strings.HasSuffix(d.Name(), ".applet.tsx") {
				return nil
			}

			fileName, _ := filepath.Rel(featurePath, p)
			fileName = filepath.ToSlash(fileName)
			rel, _ := filepath.Rel(srcDir, p)
			rel = filepath.ToSlash(rel)

			resolvers := []string{rel}
			for _, a := range cfg.Applets {
				if a.FileName == fileName && a.Alias != "" {
					resolvers = append(resolvers, a.Alias)
				}
			}
			items = append(items, importable{
				Type:      "applet",
				FilePath:  "./" + rel,
				FileID:    pascal(feature + "/" + fileName),
				Resolvers: resolvers,
			})
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan feature %s: %w", feature, err)
		}
	}
	return items, dirs, nil
}

type backendModule struct {
	FilePath string
	VarName  string
	ModuleID string
}

func scanBackendModules(srcDir string) ([]backendModule, []string, error) {
	var mods []backendModule
	var dirs []string
	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != srcDir && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules") {
				return filepath.SkipDir
			}
			dirs = append(dirs, p)
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".server.tsx") {
			return nil
		}
		rel, _ := filepath.Rel(srcDir, p)
		rel = filepath.ToSlash(rel)
		varRel := strings.TrimPrefix(rel, "backend/")
		mods = append(mods, backendModule{
			FilePath: "./" + rel,
			VarName:  camel(varRel),
			ModuleID: ModuleID(rel),
		})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan backend modules: %w", err)
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].FilePath < mods[j].FilePath })
	return mods, dirs, nil
}

func renderAutoLoader(items []importable, backend []backendModule, lazy bool) string {
	var imports, registrations strings.Builder

	seen := map[string]bool{}
	for _, it := range items {
		if seen[it.FileID] {
			continue
		}
		seen[it.FileID] = true
		if lazy {
			fmt.Fprintf(&imports, "const %s = lazy(() => import('%s'));\n", it.FileID, it.FilePath)
		} else {
			fmt.Fprintf(&imports, "import %s from '%s';\n", it.FileID, it.FilePath)
		}
	}

	for _, m := range backend {
		fmt.Fprintf(&imports, "import %s from '%s';\n", m.VarName, m.FilePath)
		fmt.Fprintf(&registrations, "  registerBackendComponent('%s', %s);\n", m.ModuleID, m.VarName)
	}

	for _, it := range items {
		comp := it.FileID
		if lazy {
			comp = it.FileID + "_COMP"
			fmt.Fprintf(&registrations, "  const %s = (props: any) => <%s {...props} />;\n", comp, it.FileID)
		}
		switch it.Type {
		case "view":
			fmt.Fprintf(&registrations, "  registerView('%s', '%s', %s);\n", *it.Path, it.FileID, comp)
		case "applet":
			meta, _ := json.Marshal(it)
			fmt.Fprintf(&registrations, "  registerApplet(%s, %s);\n", meta, comp)
		}
	}

	var b strings.Builder
	b.WriteString("// @ts-nocheck\n")
	b.WriteString("import React, { lazy } from 'react';\n")
	b.WriteString("import { registerView, registerApplet, registerBackendComponent, controller } from '@magicjs.dev/frontend';\n")
	b.WriteString("import arkConfig from './ark.json';\n\n")
	b.WriteString(imports.String())
	b.WriteString("\ncontroller.arkConfig = arkConfig;\n\n")
	b.WriteString("export function initializeModules() {\n")
	b.WriteString(registrations.String())
	b.WriteString("}\n")
	return b.String()
}

// ModuleID derives the RPC id of a backend module from its path relative to
// the source directory: forward slashes, everything from the first dot
// dropped.
func ModuleID(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.Index(rel, "."); i >= 0 {
		rel = rel[:i]
	}
	return rel
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func pascal(s string) string {
	var b strings.Builder
	for _, w := range words(s) {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	out := b.String()
	if out == "" || unicode.IsDigit([]rune(out)[0]) {
		out = "M" + out
	}
	return out
}

func camel(s string) string {
	p := []rune(pascal(s))
	p[0] = unicode.ToLower(p[0])
	return string(p)
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
