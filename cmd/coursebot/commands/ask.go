package commands

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"coursebot/internal/tui"
)

func newAskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Chat with a running server in the terminal",
		Args:  cobra.NoArgs,
		RunE:  runAsk,
	}
	addClientFlags(cmd)
	return cmd
}

func runAsk(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	module, _ := cmd.Flags().GetString("module")
	chapter, _ := cmd.Flags().GetString("chapter")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	m := tui.New(newClient(cmd, cfg.Server.Addr), module, chapter, cfg.Synthesis.LowConfidence, timeout)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(cmd.Context())).Run()
	return err
}
