package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/leapstack-labs/leapgraph/internal/cli/config"
	"github.com/leapstack-labs/leapgraph/internal/cli/output"
	"github.com/leapstack-labs/leapgraph/internal/llm"
	"github.com/spf13/cobra"
)

// Check status values.
const (
	CheckPass = "pass"
	CheckWarn = "warn"
	CheckFail = "fail"
)

// HealthCheck represents a single check result.
type HealthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	ConfigFile string        `json:"config_file,omitempty"`
	Checks     []HealthCheck `json:"checks"`
	Failed     int           `json:"failed"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Long: `Check that the project is ready to use:
  - configuration is valid and project directories exist
  - the state database opens
  - the warehouse target accepts connections
  - the graph database is reachable
  - an LLM API key is available`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, timeout)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Timeout per connectivity check")

	return cmd
}

func runDoctor(cmd *cobra.Command, timeout time.Duration) error {
	cmdCtx, cleanup := NewCommandContext(cmd)
	defer cleanup()

	cfg := cmdCtx.Cfg
	var checks []HealthCheck
	add := func(name, status, detail string) {
		checks = append(checks, HealthCheck{Name: name, Status: status, Detail: detail})
	}

	if err := cfg.Validate(); err != nil {
		add("config", CheckFail, err.Error())
	} else {
		add("config", CheckPass, fmt.Sprintf("target %s, graph %s", cfg.Target.Type, cfg.Graph.Flavor))
	}

	for _, d := range []struct{ name, path string }{
		{"sql_dir", cfg.SQLDir},
		{"lineage_dir", cfg.LineageDir},
		{"templates_dir", cfg.TemplatesDir},
	} {
		if info, err := os.Stat(d.path); err != nil || !info.IsDir() {
			add(d.name, CheckWarn, d.path+" not found")
		} else {
			add(d.name, CheckPass, d.path)
		}
	}
	if _, err := os.Stat(cfg.Pipelines.Mapping); err != nil {
		add("pipeline_mapping", CheckWarn, cfg.Pipelines.Mapping+" not found")
	} else if _, err := cmdCtx.LoadMapping(); err != nil {
		add("pipeline_mapping", CheckFail, err.Error())
	} else {
		add("pipeline_mapping", CheckPass, cfg.Pipelines.Mapping)
	}

	if _, err := cmdCtx.OpenStore(); err != nil {
		add("state", CheckFail, err.Error())
	} else {
		add("state", CheckPass, cfg.StatePath)
	}

	withTimeout := func(fn func(ctx context.Context) error) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return fn(ctx)
	}

	if err := withTimeout(func(ctx context.Context) error {
		adp, err := cmdCtx.OpenWarehouse(ctx)
		if err != nil {
			return err
		}
		return adp.Exec(ctx, "SELECT 1")
	}); err != nil {
		add("warehouse", CheckFail, err.Error())
	} else {
		add("warehouse", CheckPass, cfg.Target.Type)
	}

	if err := withTimeout(func(ctx context.Context) error {
		client, _, err := cmdCtx.OpenGraph(ctx)
		if err != nil {
			return err
		}
		return client.Health(ctx)
	}); err != nil {
		add("graph", CheckFail, err.Error())
	} else {
		add("graph", CheckPass, cfg.Graph.URI)
	}

	if llm.ResolveAPIKey(cfg.LLM.APIKey) == "" {
		add("llm", CheckFail, "no API key (set llm.api_key or GOOGLE_API_KEY)")
	} else {
		add("llm", CheckPass, cfg.LLM.Provider+" "+cfg.LLM.Model)
	}

	out := &DoctorOutput{Checks: checks}
	for _, c := range checks {
		if c.Status == CheckFail {
			out.Failed++
		}
	}
	out.ConfigFile = config.GetConfigFileUsed()

	if err := renderDoctor(cmdCtx.Renderer, out); err != nil {
		return err
	}
	if out.Failed > 0 {
		return fmt.Errorf("%d checks failed", out.Failed)
	}
	return nil
}

func renderDoctor(r *output.Renderer, out *DoctorOutput) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		r.Println(output.FormatHeader(1, "Doctor"))
		r.Println("")
		if out.ConfigFile != "" {
			r.Println(output.FormatKeyValue("Config", out.ConfigFile))
			r.Println("")
		}
		rows := make([][]string, 0, len(out.Checks))
		for _, c := range out.Checks {
			rows = append(rows, []string{c.Name, c.Status, c.Detail})
		}
		r.Table([]string{"Check", "Status", "Detail"}, rows)
		return nil
	default:
		r.Header(1, "Doctor")
		if out.ConfigFile != "" {
			r.Println(r.Muted("Using " + out.ConfigFile))
		}
		for _, c := range out.Checks {
			r.StatusLine(c.Name, c.Status, c.Detail)
		}
		r.Println("")
		if out.Failed == 0 {
			r.Success("All checks passed")
		} else {
			r.Error(fmt.Sprintf("%d checks failed", out.Failed))
		}
		return nil
	}
}
