package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/heating-shop/internal/domain/auth"
	"github.com/xenking/heating-shop/internal/domain/coupon"
	"github.com/xenking/heating-shop/internal/storage/postgres"
)

type shippingSeed struct {
	ID            string
	Name          string
	Price         int64
	FreeOver      *int64
	EstimatedDays int
}

type paymentSeed struct {
	ID           string
	Name         string
	Kind         string
	Instructions string
}

type variantSeed struct {
	ID         string
	ProductID  string
	CategoryID string
	SKU        string
	Name       string
	Price      int64
	RolePrices map[string]int64
}

type catalogSeed struct {
	Shipping []shippingSeed
	Payment  []paymentSeed
	Variants []variantSeed
}

func main() {
	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "back-office API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_APIKEYPEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_APIKEYPEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	seed, err := decodeCatalog(data)
	if err != nil {
		return errors.Wrap(err, "parse catalog file")
	}

	if err := seedCatalog(ctx, pool, seed); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedCoupons(ctx, postgres.NewCouponRepository(pool)); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	if err := seedAPIKey(ctx, postgres.NewAPIKeyRepository(pool), apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func decodeCatalog(data []byte) (*catalogSeed, error) {
	var seed catalogSeed
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "shippingMethods":
			return d.Arr(func(d *jx.Decoder) error {
				var s shippingSeed
				if err := d.Obj(func(d *jx.Decoder, key string) (err error) {
					switch key {
					case "id":
						s.ID, err = d.Str()
					case "name":
						s.Name, err = d.Str()
					case "price":
						s.Price, err = d.Int64()
					case "freeOver":
						v, err := d.Int64()
						if err != nil {
							return err
						}
						s.FreeOver = &v
					case "estimatedDays":
						s.EstimatedDays, err = d.Int()
					default:
						return d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				seed.Shipping = append(seed.Shipping, s)
				return nil
			})
		case "paymentMethods":
			return d.Arr(func(d *jx.Decoder) error {
				var p paymentSeed
				if err := d.Obj(func(d *jx.Decoder, key string) (err error) {
					switch key {
					case "id":
						p.ID, err = d.Str()
					case "name":
						p.Name, err = d.Str()
					case "kind":
						p.Kind, err = d.Str()
					case "instructions":
						p.Instructions, err = d.Str()
					default:
						return d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				seed.Payment = append(seed.Payment, p)
				return nil
			})
		case "variants":
			return d.Arr(func(d *jx.Decoder) error {
				v := variantSeed{RolePrices: map[string]int64{}}
				if err := d.Obj(func(d *jx.Decoder, key string) (err error) {
					switch key {
					case "id":
						v.ID, err = d.Str()
					case "productId":
						v.ProductID, err = d.Str()
					case "categoryId":
						v.CategoryID, err = d.Str()
					case "sku":
						v.SKU, err = d.Str()
					case "name":
						v.Name, err = d.Str()
					case "price":
						v.Price, err = d.Int64()
					case "rolePrices":
						return d.Obj(func(d *jx.Decoder, role string) error {
							price, err := d.Int64()
							if err != nil {
								return err
							}
							v.RolePrices[role] = price
							return nil
						})
					default:
						return d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				seed.Variants = append(seed.Variants, v)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, err
	}
	return &seed, nil
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool, seed *catalogSeed) error {
	slog.Info("upserting catalog",
		slog.Int("shipping_methods", len(seed.Shipping)),
		slog.Int("payment_methods", len(seed.Payment)),
		slog.Int("variants", len(seed.Variants)),
	)

	for i, s := range seed.Shipping {
		if _, err := pool.Exec(ctx, `INSERT INTO shipping_methods (id, name, price, free_over, estimated_days, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
				free_over = EXCLUDED.free_over, estimated_days = EXCLUDED.estimated_days,
				sort_order = EXCLUDED.sort_order, active = TRUE`,
			s.ID, s.Name, s.Price, s.FreeOver, s.EstimatedDays, i,
		); err != nil {
			return errors.Wrapf(err, "upsert shipping method %s", s.ID)
		}
	}

	for i, p := range seed.Payment {
		if _, err := pool.Exec(ctx, `INSERT INTO payment_methods (id, name, kind, instructions, sort_order)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind,
				instructions = EXCLUDED.instructions, sort_order = EXCLUDED.sort_order, active = TRUE`,
			p.ID, p.Name, p.Kind, p.Instructions, i,
		); err != nil {
			return errors.Wrapf(err, "upsert payment method %s", p.ID)
		}
	}

	for _, v := range seed.Variants {
		if _, err := pool.Exec(ctx, `INSERT INTO variants (id, product_id, category_id, sku, name, price)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET product_id = EXCLUDED.product_id,
				category_id = EXCLUDED.category_id, sku = EXCLUDED.sku, name = EXCLUDED.name,
				price = EXCLUDED.price, active = TRUE`,
			v.ID, v.ProductID, v.CategoryID, v.SKU, v.Name, v.Price,
		); err != nil {
			return errors.Wrapf(err, "upsert variant %s", v.ID)
		}
		for role, price := range v.RolePrices {
			if _, err := pool.Exec(ctx, `INSERT INTO variant_prices (variant_id, role, price)
				VALUES ($1, $2, $3)
				ON CONFLICT (variant_id, role) DO UPDATE SET price = EXCLUDED.price`,
				v.ID, role, price,
			); err != nil {
				return errors.Wrapf(err, "upsert %s price for %s", role, v.ID)
			}
		}

		slog.Info("upserted variant", slog.String("id", v.ID), slog.String("name", v.Name))
	}

	return nil
}

func seedCoupons(ctx context.Context, repo *postgres.CouponRepository) error {
	slog.Info("seeding coupons")

	limit := 100
	coupons := []coupon.Coupon{
		{
			Code:         "WELCOME10",
			DiscountType: coupon.DiscountPercentage,
			Value:        decimal.NewFromInt(10),
			Scope:        coupon.ScopeOrder,
			Description:  "10% off your first order",
		},
		{
			Code:         "BOILER50",
			DiscountType: coupon.DiscountFixed,
			Value:        decimal.NewFromInt(5000),
			Scope:        coupon.ScopeCategory,
			ScopeRef:     "c-boilers",
			UsageLimit:   &limit,
			Description:  "50 EUR off boilers",
		},
	}

	for i := range coupons {
		c := &coupons[i]
		c.ID = uuid.NewString()
		if err := repo.Upsert(ctx, c); err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.Code)
		}

		slog.Info("upserted coupon", slog.String("code", c.Code), slog.String("description", c.Description))
	}

	return nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding back-office API key")

	if err := repo.Upsert(ctx, auth.APIKeyInfo{
		ID:      "default",
		KeyHash: auth.HashKey(apiKey, []byte(pepper)),
		Name:    "Back office",
		Scopes:  []string{auth.ScopeAll},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"))

	return nil
}
