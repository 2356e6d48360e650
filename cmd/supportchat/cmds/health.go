package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the assistant is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			client, err := s.NewClient()
			if err != nil {
				return err
			}
			if err := client.Health(cmd.Context()); err != nil {
				return errors.Wrapf(err, "assistant at %s is not healthy", client.BaseURL())
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", client.BaseURL())
			return err
		},
	}
}
