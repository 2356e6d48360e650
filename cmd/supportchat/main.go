package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/supportchat/cmd/supportchat/cmds"
	"github.com/go-go-golems/supportchat/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "supportchat",
	Short: "supportchat is a terminal client for the BloomBot support assistant",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		err := clay.InitLogger()
		cobra.CheckErr(err)
	},
	SilenceUsage: true,
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Warn().Err(err).Msg("could not load .env")
	}

	config.AddFlags(rootCmd)

	err := clay.InitViper("supportchat", rootCmd)
	cobra.CheckErr(err)
	err = clay.InitLogger()
	cobra.CheckErr(err)

	cmds.Register(rootCmd)

	err = rootCmd.Execute()
	cobra.CheckErr(err)
}
