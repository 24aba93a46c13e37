package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/crm-assistant/internal/service/assistant"
	"github.com/zhouzirui/crm-assistant/internal/service/stream"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the assistant is available",
	RunE: func(cmd *cobra.Command, args []string) error {
		probe := assistant.NewStatusProbe(cfg.Client.StatusURL(), nil, stream.StaticToken(cfg.Client.Token))
		status, err := probe.CheckStatus(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd, status)
		return nil
	},
}

func printStatus(cmd *cobra.Command, status assistant.Status) {
	out := cmd.OutOrStdout()
	st := newStyles(out)
	if status.Available {
		fmt.Fprintln(out, st.assistant.Render("available"))
	} else {
		fmt.Fprintln(out, st.err.Render("unavailable"))
	}
	if status.Model != "" {
		fmt.Fprintf(out, "model:      %s\n", status.Model)
	}
	fmt.Fprintf(out, "configured: %t\n", status.Configured)
	if status.Message != "" {
		fmt.Fprintln(out, st.hint.Render(status.Message))
	}
}
