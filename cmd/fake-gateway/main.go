// Command fake-gateway serves the in-memory payment API for trying the
// kiosk without the real backend.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"paykiosk/pkg/gateway/gatewaytest"
	"paykiosk/pkg/logging"
	"paykiosk/pkg/models"
	"paykiosk/pkg/reader"
)

// seed is the optional YAML file describing the fake data
type seed struct {
	Operators []struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Role     int    `yaml:"role"`
		Token    string `yaml:"token"`
	} `yaml:"operators"`
	Issuance []struct {
		UID    string `yaml:"uid"`
		Number string `yaml:"number"`
		Secret string `yaml:"secret"`
	} `yaml:"issuance"`
	Cards []struct {
		Number  string `yaml:"number"`
		Secret  string `yaml:"secret"`
		Slug    string `yaml:"slug"`
		Balance string `yaml:"balance"`
	} `yaml:"cards"`
	Categories []models.Category `yaml:"categories"`
}

func main() {
	var addr, apiKey, seedPath string

	cmd := &cobra.Command{
		Use:          "fake-gateway",
		Short:        "Serve an in-memory payment API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New("info", true)
			if err != nil {
				return err
			}
			defer logger.Sync()

			fake := gatewaytest.NewServer()
			fake.APIKey = apiKey
			if seedPath == "" {
				defaultSeed(fake)
			} else if err := loadSeed(fake, seedPath); err != nil {
				return err
			}

			srv := &http.Server{Addr: addr, Handler: fake.Router(), ReadHeaderTimeout: 5 * time.Second}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			logger.Info("fake gateway listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8091", "listen address")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "required X-API-Key value")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file with operators, cards and categories")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// defaultSeed knows one operator per role and the simulated reader's card
func defaultSeed(fake *gatewaytest.Server) {
	fake.AddOperator("izdavanje@fest.rs", "lozinka", models.RoleIssuanceOperator, "token-issuance")
	fake.AddOperator("kasa@fest.rs", "lozinka", models.RoleChargeOperator, "token-charge")
	fake.AddOperator("bar@fest.rs", "lozinka", models.RoleCatalogOperator, "token-catalog")

	fake.AddIssuance(reader.StubUID, reader.StubCardNumber, reader.StubSecret)
	fake.AddCard(reader.StubCardNumber, reader.StubSecret, "posetilac-1", decimal.NewFromInt(1000))

	fake.SetCategories([]models.Category{
		{Name: "Pića", Products: []models.Product{
			{ID: "1", Name: "Kafa", Price: 100},
			{ID: "2", Name: "Sok", Price: 150},
		}},
		{Name: "Hrana", Products: []models.Product{
			{ID: "3", Name: "Kroasan", Price: 49.5},
		}},
	})
}

func loadSeed(fake *gatewaytest.Server, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var s seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}

	for _, op := range s.Operators {
		fake.AddOperator(op.Email, op.Password, models.Role(op.Role), op.Token)
	}
	for _, is := range s.Issuance {
		fake.AddIssuance(is.UID, is.Number, is.Secret)
	}
	for _, c := range s.Cards {
		balance, err := decimal.NewFromString(c.Balance)
		if err != nil {
			return fmt.Errorf("card %s balance: %w", c.Slug, err)
		}
		fake.AddCard(c.Number, c.Secret, c.Slug, balance)
	}
	fake.SetCategories(s.Categories)
	return nil
}
