package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/freight-sync/api"
	"github.com/warp/freight-sync/freight"
)

func init() {
	rootCmd.AddCommand(payCmd)

	payCmd.Flags().String("field", string(freight.FieldAdvance), "Installment to change: advance or balance")
	payCmd.Flags().String("status", "", "Target status; empty advances to the next one")
	payCmd.Flags().String("utr", "", "UTR number of the transfer")
	payCmd.Flags().String("method", "", "Payment method")
}

var payCmd = &cobra.Command{
	Use:   "pay TRIP",
	Short: "Change one payment installment through the engine",
	Long: `Runs a single payment change against the configured store API and
prints the resulting trip and transaction record as JSON. TRIP is a trip
id or order number.`,
	Args: cobra.ExactArgs(1),
	RunE: runPay,
}

func runPay(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	field, _ := cmd.Flags().GetString("field")
	status, _ := cmd.Flags().GetString("status")
	utr, _ := cmd.Flags().GetString("utr")
	method, _ := cmd.Flags().GetString("method")

	pf := freight.PaymentField(field)
	if !pf.Valid() {
		return errors.New("--field must be advance or balance")
	}

	ctx := cmd.Context()
	engine, closeKV, err := buildEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeKV()

	meta := freight.PaymentMeta{UTRNumber: utr, PaymentMethod: method}
	var (
		trip *freight.Trip
		rec  freight.TransactionRecord
	)
	if status == "" {
		trip, rec, err = engine.AdvancePayment(ctx, args[0], pf, meta)
	} else {
		patch, perr := freight.NewPaymentPatch(pf, freight.PaymentStatus(status))
		if perr != nil {
			return perr
		}
		trip, rec, err = engine.UpdatePayment(ctx, args[0], patch, meta)
	}

	if rec.ID != "" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(api.TransactionResponse{Trip: trip, Transaction: rec}); encErr != nil {
			return encErr
		}
	}
	if err != nil {
		return errors.New(freight.UserMessage(err))
	}
	if perr := rec.Partial(); perr != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", perr)
	}
	return nil
}
