package commands

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// VersionInfo identifies a leapgraph build.
type VersionInfo struct {
	Version   string
	GitCommit string
	BuildDate string
	GoVersion string
}

// withBuildInfo fills fields left empty or "unknown" from the VCS stamp the
// Go toolchain embeds in the binary.
func (v VersionInfo) withBuildInfo(read func() (*debug.BuildInfo, bool)) VersionInfo {
	if v.GoVersion == "" {
		v.GoVersion = runtime.Version()
	}
	bi, ok := read()
	if !ok {
		return v
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if unset(v.GitCommit) {
				v.GitCommit = s.Value
				if len(v.GitCommit) > 12 {
					v.GitCommit = v.GitCommit[:12]
				}
			}
		case "vcs.time":
			if unset(v.BuildDate) {
				v.BuildDate = s.Value
			}
		}
	}
	if unset(v.Version) && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v.Version = bi.Main.Version
	}
	return v
}

func unset(s string) bool { return s == "" || s == "unknown" }

// NewVersionCommand creates the version command.
func NewVersionCommand(info VersionInfo) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display leapgraph version and build information.`,
		Run: func(cmd *cobra.Command, _ []string) {
			v := info.withBuildInfo(debug.ReadBuildInfo)
			w := cmd.OutOrStdout()
			if short {
				_, _ = fmt.Fprintln(w, v.Version)
				return
			}
			_, _ = fmt.Fprintf(w, "leapgraph v%s\n", v.Version)
			_, _ = fmt.Fprintln(w, "Column-level lineage extraction and graph loading")
			if !unset(v.GitCommit) {
				_, _ = fmt.Fprintf(w, "  commit: %s\n", v.GitCommit)
			}
			if !unset(v.BuildDate) {
				_, _ = fmt.Fprintf(w, "  built:  %s\n", v.BuildDate)
			}
			_, _ = fmt.Fprintf(w, "  go:     %s %s/%s\n", v.GoVersion, runtime.GOOS, runtime.GOARCH)
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")

	return cmd
}
