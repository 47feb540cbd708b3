package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paykiosk/pkg/crypto"
	"paykiosk/pkg/errors"
	"paykiosk/pkg/models"
	"paykiosk/pkg/reader"
)

var errNoCard = errors.New(errors.ErrTypeHardware, "NO_CARD", "no card was presented in time").
	WithUserMessage("No card was presented in time")

func cardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Maintenance commands against a card on the reader",
	}
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "how long to wait for a card")

	cmd.AddCommand(cardReadCmd())
	cmd.AddCommand(cardWriteCmd())
	return cmd
}

func cardReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Print the card number and secret of the next card",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return withCard(cmd.Context(), timeout, func(ctx context.Context, env cardEnv, uid string) error {
				numberBlock, err := env.reader.ReadBlock(ctx, uid, models.BlockCardNumber)
				if err != nil {
					return err
				}
				number, err := env.codec.DecodeField(numberBlock)
				if err != nil {
					return err
				}
				secretBlock, err := env.reader.ReadBlock(ctx, uid, models.BlockSecret)
				if err != nil {
					return err
				}
				secret, err := env.codec.OpenSecret(secretBlock, env.pin)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "UID:         %s\n", uid)
				fmt.Fprintf(out, "Card number: %s\n", number)
				fmt.Fprintf(out, "Secret:      %s\n", secret)
				return nil
			})
		},
	}
}

func cardWriteCmd() *cobra.Command {
	var number, secret string

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a card number and secret onto the next card",
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")
			return withCard(cmd.Context(), timeout, func(ctx context.Context, env cardEnv, uid string) error {
				sealed, err := env.codec.SealSecret(secret, env.pin)
				if err != nil {
					return err
				}
				if err := env.reader.WriteBlock(ctx, uid, models.BlockCardNumber, env.codec.EncodeField(number)); err != nil {
					return err
				}
				if err := env.reader.WriteBlock(ctx, uid, models.BlockSecret, sealed); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Card %s written\n", uid)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&number, "number", "", "card number to write")
	cmd.Flags().StringVar(&secret, "secret", "", "secret to seal with the configured PIN")
	cmd.MarkFlagRequired("number")
	cmd.MarkFlagRequired("secret")
	return cmd
}

type cardEnv struct {
	reader reader.CardReader
	codec  *crypto.Codec
	pin    string
}

// withCard opens the configured reader, waits for a card and runs fn on it
func withCard(parent context.Context, timeout time.Duration, fn func(context.Context, cardEnv, string) error) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	codec, err := crypto.NewCodecFromConfig(cfg.Codec.Cipher, cfg.Codec.DecodeMode, cfg.Codec.Salt, cfg.Codec.Iterations)
	if err != nil {
		return err
	}
	rd, err := openReader(cfg, codec, logger)
	if err != nil {
		return err
	}
	defer rd.Close()

	ctx, stop := signalContext(parent)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rd.Start()
	defer rd.Stop()
	logger.Info("waiting for a card", zap.Duration("timeout", timeout))

	for {
		select {
		case <-ctx.Done():
			return errNoCard.Clone().WithCause(ctx.Err())
		case ev := <-rd.Events():
			if ev.Kind != reader.CardDetected {
				continue
			}
			rd.Pause()
			return fn(ctx, cardEnv{reader: rd, codec: codec, pin: cfg.Session.PIN}, ev.UID)
		}
	}
}
