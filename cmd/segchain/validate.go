package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"segchain/internal/config"
	"segchain/internal/node"
)

var (
	validateConfigPath string
	validateSchemaPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a segment configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			var verrs config.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", fe.Field, fe.Problem)
				}
				return fmt.Errorf("%s: %d problem(s)", validateConfigPath, len(verrs))
			}
			return err
		}
		h, err := config.Hash(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ok: node=%s role=%s segments=%d driver-hash=%016x\n",
			validateConfigPath, cfg.Node.ID, node.RoleOf(cfg.Node.Position, cfg.Node.Segments), cfg.Node.Segments, h)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "config/segment.yaml", "Path to segment configuration YAML")
	validateCmd.Flags().StringVar(&validateSchemaPath, "schema", "", "Path to a CUE schema overriding the embedded one")
}
