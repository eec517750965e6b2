package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/internal/domain/product"
	"github.com/xenking/catalog-sync/internal/storage/postgres"
	"github.com/xenking/catalog-sync/pkg/password"
)

const (
	writeConcurrency = 8
	seedSessionTTL   = time.Duration(0)
)

func main() {
	var (
		databaseURL  string
		productsFile string
		email        string
		pass         string
		displayName  string
		disable      string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file, optionally gzip compressed (.gz)")
	flag.StringVar(&email, "email", "demo@example.com", "email of the account that owns the products")
	flag.StringVar(&pass, "password", "", "password of the account (or CATALOG_SEED_PASSWORD env)")
	flag.StringVar(&displayName, "display-name", "Demo", "display name of a newly created account")
	flag.StringVar(&disable, "disable", "", "disable the account with this email and revoke its sessions instead of seeding")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if disable != "" {
		if err := disableAccount(ctx, databaseURL, disable); err != nil {
			slog.Error("disable failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		slog.Info("account disabled", slog.String("email", disable))
		return
	}

	if pass == "" {
		pass = os.Getenv("CATALOG_SEED_PASSWORD")
	}
	if pass == "" {
		slog.Error("password is required: set --password or CATALOG_SEED_PASSWORD")
		os.Exit(1)
	}

	reg := identity.Registration{Email: email, Password: pass, DisplayName: displayName}
	if err := run(ctx, databaseURL, productsFile, reg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile string, reg identity.Registration) error {
	drafts, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}

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

	auth := postgres.NewAuthenticator(pool, password.DefaultParams, seedSessionTTL, zap.NewNop())
	owner, err := ensureAccount(ctx, auth, reg)
	if err != nil {
		return errors.Wrap(err, "ensure account")
	}
	slog.Info("seeding products", slog.String("user_id", owner.ID), slog.Int("count", len(drafts)))

	store := postgres.NewRealtimeStore(pool, zap.NewNop())
	defer store.Close()

	now := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(writeConcurrency)
	for _, d := range drafts {
		key := store.GenerateKey(product.CollectionPath(owner.ID))
		record := product.Encode(d.Record(owner.ID, now))
		g.Go(func() error {
			if err := store.Write(gctx, product.ItemPath(owner.ID, key), record); err != nil {
				return errors.Wrapf(err, "write product %q", d.Name)
			}
			slog.Info("wrote product", slog.String("id", key), slog.String("name", d.Name))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total, err := store.SumPrices(ctx, product.CollectionPath(owner.ID))
	if err != nil {
		return errors.Wrap(err, "sum prices")
	}
	slog.Info("catalog value", slog.String("total", total.StringFixed(2)))

	return nil
}

// disableAccount blocks the account with email. Running servers end its
// live sessions on their next session check.
func disableAccount(ctx context.Context, databaseURL, email string) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	auth := postgres.NewAuthenticator(pool, password.DefaultParams, seedSessionTTL, zap.NewNop())
	return auth.Disable(ctx, email)
}

// ensureAccount signs up reg, or signs in when the account already exists.
func ensureAccount(ctx context.Context, auth *postgres.Authenticator, reg identity.Registration) (identity.Identity, error) {
	id, err := auth.SignUp(ctx, reg)
	if err == nil {
		slog.Info("created account", slog.String("email", reg.Email))
		return id, nil
	}
	if !apperr.IsAuth(err, apperr.AuthEmailInUse) {
		return identity.Identity{}, err
	}
	slog.Info("account exists, signing in", slog.String("email", reg.Email))
	id, err = auth.SignIn(ctx, identity.Credentials{Email: reg.Email, Password: reg.Password})
	if err != nil {
		return identity.Identity{}, err
	}
	// Only the credentials check is needed; close the session it opened.
	if err := auth.SignOut(ctx, id.SessionID); err != nil {
		return identity.Identity{}, errors.Wrap(err, "close seed session")
	}
	return id, nil
}

// readProducts parses a JSON array of products. Files ending in .gz are
// decompressed first.
func readProducts(path string) ([]product.Draft, error) {
	slog.Info("reading products file", slog.String("path", path))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open products file")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}
	return decodeProducts(jx.Decode(r, 64*1024))
}

// decodeProducts reads an array of product records. Unknown fields are
// ignored; name and description are required.
func decodeProducts(d *jx.Decoder) ([]product.Draft, error) {
	var drafts []product.Draft
	err := d.Arr(func(d *jx.Decoder) error {
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		p, err := product.Decode(raw)
		if err != nil {
			return errors.Wrapf(err, "product #%d", len(drafts)+1)
		}
		draft := product.Draft{
			Name:        strings.TrimSpace(p.Name),
			Description: strings.TrimSpace(p.Description),
			Price:       p.Price,
			ImageURL:    p.ImageURL,
		}
		if draft.Name == "" || draft.Description == "" {
			return errors.Errorf("product #%d: name and description are required", len(drafts)+1)
		}
		drafts = append(drafts, draft)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}
	return drafts, nil
}
