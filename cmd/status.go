package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/magicjsdev/ark/internal/gateway"
	"github.com/magicjsdev/ark/internal/status"
	"github.com/magicjsdev/ark/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running dev server",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().IntP("port", "p", 0, "Dev server port (default from configuration)")
	statusCmd.Flags().Bool("json", false, "Print the raw status document")
}

func runStatus(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	if port == 0 {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port = cfg.DevServer.Port
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	s, err := fetchStatus(ctx, fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		return fmt.Errorf("no dev server on port %d: %w", port, err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	renderStatus(os.Stdout, s)
	return nil
}

func fetchStatus(ctx context.Context, base string) (status.Status, error) {
	var s status.Status
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+gateway.StatusPath, nil)
	if err != nil {
		return s, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return s, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return s, fmt.Errorf("invalid status document: %w", err)
	}
	return s, nil
}

func renderStatus(w io.Writer, s status.Status) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Component", "State", "Errors", "Warnings"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})

	table.Append([]string{"frontend", compiledState(s.FrontendCompiled),
		strconv.Itoa(len(s.FrontendErrors)), strconv.Itoa(len(s.FrontendWarnings))})
	table.Append([]string{"backend", compiledState(s.BackendCompiled),
		strconv.Itoa(len(s.BackendErrors)), strconv.Itoa(len(s.BackendWarnings))})
	table.Append([]string{fmt.Sprintf("app server :%d", s.AppServerPort), liveState(s.AppServerLive), "", ""})
	table.Append([]string{fmt.Sprintf("dev server :%d", s.DevServerPort), liveState(s.DevServerActive), "", ""})
	table.SetFooter([]string{"overall", string(s.CompilationStatus), "", ""})
	table.Render()

	fmt.Fprint(w, ui.Diagnostics(s))
}

func compiledState(ok bool) string {
	if ok {
		return "compiled"
	}
	return "building"
}

func liveState(ok bool) string {
	if ok {
		return "live"
	}
	return "down"
}
