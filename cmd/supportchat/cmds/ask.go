package cmds

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	input "github.com/tcnksm/go-input"

	"github.com/go-go-golems/supportchat/pkg/ui"
)

func NewAskCommand() *cobra.Command {
	var asJSON bool
	var markdownStyle string

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a single message to BloomBot and print the reply",
		Long: "Send a single message to BloomBot and print the reply. Without arguments " +
			"the message is read from stdin, or prompted for when stdin is a terminal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := readMessage(args, cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			env, err := newSessionEnv(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer env.Close()

			env.Controller.UpdateInput(message)
			st, err := env.Controller.Submit(cmd.Context())
			if err != nil {
				return err
			}
			if st.LastError != nil {
				return errors.New(st.LastError.Message)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return errors.Wrap(enc.Encode(st.LastResponse), "encode reply")
			}

			style := ""
			if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
				style = markdownStyle
				if style == "auto" {
					style = ui.DetectMarkdownStyle()
				}
			}
			_, err = fmt.Fprintf(out, "%s %s\n", ui.BotName, ui.RenderMarkdown(st.LastResponse.Response, style))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the reply, including route metadata, as JSON")
	cmd.Flags().StringVar(&markdownStyle, "markdown-style", "auto", "Glamour style used when printing to a terminal")
	return cmd
}

// readMessage takes the message from args, an interactive prompt, or piped
// stdin, in that order.
func readMessage(args []string, in io.Reader, prompt io.Writer) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		u := &input.UI{Writer: prompt, Reader: in}
		answer, err := u.Ask("How can we help you?", &input.Options{
			Required:  true,
			Loop:      true,
			HideOrder: true,
			ValidateFunc: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("message cannot be empty")
				}
				return nil
			},
		})
		if err != nil {
			return "", errors.Wrap(err, "read message")
		}
		return answer, nil
	}

	b, err := io.ReadAll(in)
	if err != nil {
		return "", errors.Wrap(err, "read stdin")
	}
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return "", errors.New("no message given")
	}
	return msg, nil
}
