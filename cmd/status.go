package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/config"
	"github.com/clusterlift/clusterlift/internal/state"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).Padding(0, 1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Width(14)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session and its cluster",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		sess, err := state.Load(config.ExpandHome(state.DefaultPath))
		if errors.Is(err, state.ErrNoSession) {
			fmt.Println("No cluster session. Start one with 'clusterlift provision' or 'clusterlift lift <script>'.")
			return nil
		}
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}

		fmt.Println(titleStyle.Render("clusterlift session"))
		row("Session", sess.SessionID)
		row("Cluster", sess.ClusterName)
		row("Handle", valueOr(sess.Handle, "-"))
		row("State", stateStyle(sess.State).Render(string(sess.State)))
		row("Started", humanize.Time(sess.StartedAt))
		row("Updated", humanize.Time(sess.LastUpdated))
		if sess.LastError != "" {
			row("Last error", errStyle.Render(sess.LastError))
		}

		if len(sess.Scripts) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Staged scripts"))
			for _, sc := range sess.Scripts {
				fmt.Printf("  %s  (%s)\n", sc.URI, humanize.Bytes(uint64(sc.Size)))
			}
		}
		if len(sess.Submissions) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Submissions"))
			for _, sub := range sess.Submissions {
				for i, name := range sub.Steps {
					id := ""
					if i < len(sub.StepIDs) {
						id = sub.StepIDs[i]
					}
					fmt.Printf("  %-8s %-16s %s\n", sub.Kind, id, name)
				}
			}
		}

		if !sess.Active() {
			return nil
		}

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		_, gateway, err := newGateway(ctx, cfg, logger)
		if err != nil {
			return err
		}
		st, err := gateway.Describe(ctx, cluster.Handle(sess.Handle))
		fmt.Println()
		fmt.Println(titleStyle.Render("Control plane"))
		if err != nil {
			row("Describe", errStyle.Render(err.Error()))
			return nil
		}
		remote := warnStyle.Render(st.State)
		switch {
		case st.Ready:
			remote = okStyle.Render(st.State)
		case st.Gone:
			remote = errStyle.Render(st.State)
		}
		row("State", remote)
		if st.Message != "" {
			row("Message", st.Message)
		}
		if st.Gone {
			fmt.Println()
			fmt.Println(warnStyle.Render("The cluster is gone; 'clusterlift teardown' will close the session."))
		}
		return nil
	},
}

func row(label, value string) {
	fmt.Printf("  %s %s\n", labelStyle.Render(label+":"), value)
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func stateStyle(s cluster.State) lipgloss.Style {
	switch s {
	case cluster.StateRunning, cluster.StateTerminated:
		return okStyle
	case cluster.StateFailed:
		return errStyle
	}
	return warnStyle
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
