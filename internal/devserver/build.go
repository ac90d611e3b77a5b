package devserver

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/magicjsdev/ark/internal/compiler"
	"github.com/magicjsdev/ark/internal/config"
	"github.com/magicjsdev/ark/internal/status"
)

// BuildReport is the outcome of a one-shot build of both targets.
type BuildReport struct {
	Frontend *compiler.Result
	Backend  *compiler.Result
}

// Errors returns the number of compile errors across both targets.
func (r BuildReport) Errors() int {
	n := 0
	for _, res := range []*compiler.Result{r.Frontend, r.Backend} {
		if res != nil {
			n += len(res.Errors)
		}
	}
	return n
}

// Status renders the report the way the dev server reports a pass.
func (r BuildReport) Status() status.Status {
	s := status.New(0, 0)
	for _, res := range []*compiler.Result{r.Frontend, r.Backend} {
		if res == nil {
			continue
		}
		setCompiled(&s, res.Target, true)
		setDiagnostics(&s, res)
	}
	return status.Refresh(s)
}

// Build compiles both targets once and waits for their results. Compile
// errors are returned in the report; the error is for tooling faults.
func Build(cfg config.Config, mode compiler.Mode, logger *zap.Logger) (BuildReport, error) {
	return buildWith(cfg, mode,
		compiler.New(compiler.Frontend, logger),
		compiler.New(compiler.Backend, logger))
}

func buildWith(cfg config.Config, mode compiler.Mode, units ...Compiler) (BuildReport, error) {
	opts := compiler.Options{
		Root:     cfg.Root,
		SrcDir:   cfg.SrcDir,
		BuildDir: cfg.BuildDir,
		Mode:     mode,
		Title:    cfg.Name,
	}

	var (
		mu     sync.Mutex
		report BuildReport
	)
	var g errgroup.Group
	for _, u := range units {
		u := u
		u.AttachMonitor(func(err error, res *compiler.Result) {
			if res == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Target == compiler.Frontend {
				report.Frontend = res
			} else {
				report.Backend = res
			}
		})
		g.Go(func() error {
			if err := u.Build(opts); err != nil {
				return fmt.Errorf("%s build failed: %w", u.Target(), err)
			}
			return nil
		})
	}
	err := g.Wait()
	return report, err
}
