// Command seed-db loads the starter catalog, store settings, an admin
// account and an API key into a fresh database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/store-core/internal/domain/account"
	"github.com/xenking/store-core/internal/domain/auth"
	"github.com/xenking/store-core/internal/domain/payment"
	"github.com/xenking/store-core/internal/domain/product"
	"github.com/xenking/store-core/internal/domain/settings"
	"github.com/xenking/store-core/internal/storage/postgres"
)

type catalogJSON struct {
	Products []struct {
		Name        string          `json:"name"`
		Category    string          `json:"category"`
		Description string          `json:"description"`
		PriceUSD    decimal.Decimal `json:"price_usd"`
		Type        string          `json:"type"`
	} `json:"products"`
	PaymentMethods []struct {
		Name    string `json:"name"`
		Details string `json:"details"`
	} `json:"payment_methods"`
}

type options struct {
	databaseURL string
	catalogFile string
	adminID     int64
	apiKey      string
	pepper      string
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.Int64Var(&opts.adminID, "admin-id", 0, "Telegram user ID of the super admin")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or STORE_SEED_API_KEY env)")
	flag.StringVar(&opts.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or STORE_API_KEY_PEPPER env)")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("STORE_SEED_API_KEY")
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("STORE_API_KEY_PEPPER")
	}
	switch {
	case opts.databaseURL == "":
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	case opts.adminID <= 0:
		slog.Error("admin ID is required: set --admin-id")
		os.Exit(1)
	case opts.apiKey == "" || opts.pepper == "":
		slog.Error("API key and pepper are required: set STORE_SEED_API_KEY and STORE_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := postgres.New(pool)

	if err := seedCatalog(ctx, db, opts.catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	if err := seedSettings(ctx, db); err != nil {
		return errors.Wrap(err, "seed settings")
	}
	if err := seedAdmin(ctx, db, opts); err != nil {
		return errors.Wrap(err, "seed admin")
	}
	return nil
}

// seedCatalog loads products and payment methods into an empty catalog.
func seedCatalog(ctx context.Context, db *postgres.DB, path string) error {
	existing, err := db.Products().List(ctx)
	if err != nil {
		return errors.Wrap(err, "list products")
	}
	if len(existing) > 0 {
		slog.Info("catalog already seeded, skipping", slog.Int("products", len(existing)))
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var catalog catalogJSON
	if err := json.Unmarshal(data, &catalog); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	return db.WithinTx(ctx, func(ctx context.Context) error {
		for _, p := range catalog.Products {
			typ := product.Type(strings.ToUpper(p.Type))
			if !typ.Valid() {
				return errors.Errorf("product %q: unknown type %q", p.Name, p.Type)
			}
			prod := product.Product{
				Name:        p.Name,
				Category:    p.Category,
				Description: p.Description,
				PriceUSD:    p.PriceUSD,
				Type:        typ,
				Active:      true,
			}
			if err := db.Products().Upsert(ctx, &prod); err != nil {
				return errors.Wrapf(err, "insert product %q", p.Name)
			}
			slog.Info("inserted product", slog.Int64("id", prod.ID), slog.String("name", prod.Name))
		}
		for _, m := range catalog.PaymentMethods {
			method := payment.Method{Name: m.Name, Details: m.Details, Active: true}
			if err := db.Payments().Upsert(ctx, &method); err != nil {
				return errors.Wrapf(err, "insert payment method %q", m.Name)
			}
			slog.Info("inserted payment method", slog.Int64("id", method.ID), slog.String("name", method.Name))
		}
		return nil
	})
}

// seedSettings writes defaults for keys that have never been set.
func seedSettings(ctx context.Context, db *postgres.DB) error {
	values, err := db.Settings().Values(ctx)
	if err != nil {
		return errors.Wrap(err, "read settings")
	}
	for key, value := range settings.Defaults {
		if _, ok := values[key]; ok {
			continue
		}
		if err := db.Settings().Set(ctx, key, value); err != nil {
			return errors.Wrapf(err, "set %s", key)
		}
		slog.Info("set default setting", slog.String("key", key), slog.String("value", value))
	}
	return nil
}

func seedAdmin(ctx context.Context, db *postgres.DB, opts options) error {
	if err := db.Accounts().Ensure(ctx, &account.Account{ID: opts.adminID, Username: "admin"}); err != nil {
		return errors.Wrap(err, "ensure account")
	}
	if err := db.Accounts().SetRole(ctx, opts.adminID, account.RoleSuperAdmin); err != nil {
		return errors.Wrap(err, "set role")
	}
	slog.Info("super admin ready", slog.Int64("id", opts.adminID))

	authn := auth.NewAuthenticator(db.APIKeys(), []byte(opts.pepper))
	hash := authn.Hash(opts.apiKey)
	switch _, err := db.APIKeys().FindByHash(ctx, hash); {
	case err == nil:
		slog.Info("API key already present, skipping")
		return nil
	case !errors.Is(err, auth.ErrNotFound):
		return errors.Wrap(err, "find api key")
	}

	key := auth.APIKey{
		Name:    "admin",
		KeyHash: hash,
		ActorID: opts.adminID,
		Scopes:  []string{auth.ScopeOrders, auth.ScopeLedger, auth.ScopeSettings, auth.ScopeAccounts},
	}
	if err := db.APIKeys().Create(ctx, &key); err != nil {
		return errors.Wrap(err, "create api key")
	}
	slog.Info("created API key", slog.Int64("id", key.ID), slog.String("name", key.Name))
	return nil
}
