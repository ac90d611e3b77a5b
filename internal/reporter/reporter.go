// Package reporter pushes status snapshots to an external runtime agent.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/magicjsdev/ark/internal/status"
)

// ReportPath is appended to the runtime URL.
const ReportPath = "/__ark__agent_c/report_from_compiler"

// Reporter delivers reports in order from a single goroutine. Delivery is
// best effort: failures are logged and dropped.
type Reporter struct {
	url    string
	client *http.Client
	logger *zap.Logger
	queue  chan status.Status
}

// New creates a reporter for runtimeURL. An empty URL disables it.
func New(runtimeURL string, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.Named("reporter"),
		queue:  make(chan status.Status, 64),
	}
	if runtimeURL != "" {
		r.url = strings.TrimRight(runtimeURL, "/") + ReportPath
	}
	return r
}

// Enabled reports whether a runtime URL was configured.
func (r *Reporter) Enabled() bool { return r.url != "" }

// Report queues s for delivery without blocking. When the queue is full the
// report is dropped.
func (r *Reporter) Report(s status.Status) {
	if !r.Enabled() {
		return
	}
	select {
	case r.queue <- s.Clone():
	default:
		r.logger.Warn("report queue full, dropping status", zap.String("status", string(s.CompilationStatus)))
	}
}

// Run delivers queued reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	if !r.Enabled() {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case s := <-r.queue:
			if err := r.send(ctx, s); err != nil {
				r.logger.Warn("failed to report status to runtime", zap.Error(err))
			}
		}
	}
}

func (r *Reporter) send(ctx context.Context, s status.Status) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode status: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("runtime responded %s", resp.Status)
	}
	return nil
}
