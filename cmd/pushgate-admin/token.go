package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pushgate/pushgate/config"
	"github.com/pushgate/pushgate/crypto"
)

var tokenConfigPath string

// token mints a bearer token locally from the server's key material, so
// it only works on a host holding the pushgate config file.
var tokenCmd = &cobra.Command{
	Use:   "token <username>",
	Short: "Mint a review API bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := config.DefaultPaths
		if tokenConfigPath != "" {
			paths = []string{tokenConfigPath}
		}
		cfg, err := config.Load(paths...)
		if err != nil {
			return err
		}
		crypto.InitCrypto(cfg.File)
		fmt.Println(crypto.MintToken(args[0]))
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVarP(&tokenConfigPath, "config", "c", "",
		"path to the pushgate config file")
	rootCmd.AddCommand(tokenCmd)
}
