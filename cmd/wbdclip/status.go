package main

import (
	"fmt"

	"github.com/airbusgeo/wbdclip"
	"github.com/spf13/cobra"
	"go.airbusds-geo.com/log"
)

var requery bool
var listPending bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report expected versus produced outputs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		logger := log.Logger(ctx).Sugar()
		cfg, err := wbdclip.LoadRunConfig(runFile)
		if err != nil {
			return err
		}
		store, err := artifactStore(ctx, cfg)
		if err != nil {
			return err
		}

		var ids []string
		if requery {
			if ids, err = cfg.Registry(cfg.AttributeQuery()).Enumerate(ctx); err != nil {
				return err
			}
		} else {
			chunks, err := wbdclip.ReadChunks(cfg.ChunkDir())
			if err != nil {
				return err
			}
			for _, c := range chunks {
				ids = append(ids, c.Items...)
			}
		}

		ledger, closer, err := cfg.OpenLedger(ownerID(), store)
		if err != nil {
			return err
		}
		if closer != nil {
			defer closer.Close()
		}
		st, err := wbdclip.CheckStatus(ctx, ledger, ids)
		if err != nil {
			return err
		}
		fmt.Printf("expected %d, produced %d\n", st.Expected, st.Produced)
		if listPending {
			for _, id := range st.Pending {
				fmt.Println(id)
			}
		}
		if st.Deficit() > 0 {
			logger.Warnf("%d outputs missing: re-run `wbdclip submit` with the same workdir, completed items will be skipped",
				st.Deficit())
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&runFile, "run", "", "run configuration written by plan/submit")
	statusCmd.Flags().BoolVar(&requery, "requery", false, "enumerate the mask again instead of reading chunk files")
	statusCmd.Flags().BoolVar(&listPending, "pending", false, "list pending ids")
	statusCmd.MarkFlagRequired("run")
}
