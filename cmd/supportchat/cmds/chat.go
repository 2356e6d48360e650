package cmds

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/supportchat/pkg/ui"
)

func NewChatCommand() *cobra.Command {
	var markdownStyle string
	var altScreen bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the BloomBot support widget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdout.Fd()) || !isatty.IsTerminal(os.Stdin.Fd()) {
				return errors.New("chat needs an interactive terminal, use `supportchat ask` instead")
			}

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			env, err := newSessionEnv(ctx, s)
			if err != nil {
				return err
			}
			defer env.Close()

			if markdownStyle == "auto" {
				markdownStyle = ui.DetectMarkdownStyle()
			}
			model := ui.NewModel(ctx, env.Controller,
				ui.WithMarkdownStyle(markdownStyle),
				ui.WithLogger(log.Logger),
			)

			opts := []tea.ProgramOption{tea.WithContext(ctx)}
			if altScreen {
				opts = append(opts, tea.WithAltScreen())
			}
			if _, err := tea.NewProgram(model, opts...).Run(); err != nil {
				return errors.Wrap(err, "run chat ui")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&markdownStyle, "markdown-style", "auto", "Glamour style for replies (auto, dark, light, notty, or empty for plain text)")
	cmd.Flags().BoolVar(&altScreen, "alt-screen", true, "Use the terminal's alternate screen")
	return cmd
}
