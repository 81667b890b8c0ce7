package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"elibrary/internal/access"
	"elibrary/internal/config"
	"elibrary/internal/ebook"
	"elibrary/internal/platform/crypto"
	"elibrary/internal/platform/logging"
	"elibrary/internal/user"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type sampleBook struct {
	title   string
	authors []string
	section string
}

var sampleBooks = []sampleBook{
	{"The Left Hand of Darkness", []string{"Ursula K. Le Guin"}, "fiction"},
	{"Dune", []string{"Frank Herbert"}, "fiction"},
	{"The Structure and Interpretation of Computer Programs", []string{"Harold Abelson", "Gerald Jay Sussman"}, "computing"},
	{"A Brief History of Time", []string{"Stephen Hawking"}, "science"},
	{"The Design of Everyday Things", []string{"Don Norman"}, "design"},
}

func main() {
	var (
		email    = flag.String("email", "librarian@elibrary.local", "Librarian email")
		password = flag.String("password", "", "Librarian password (defaults to SEED_LIBRARIAN_PASSWORD)")
		books    = flag.Bool("books", true, "Insert sample ebooks")
	)
	flag.Parse()

	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	logger, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if *password == "" {
		*password = os.Getenv("SEED_LIBRARIAN_PASSWORD")
	}
	if err := crypto.ValidatePasswordStrength(*password); err != nil {
		logger.Fatal("librarian password rejected", zap.Error(err))
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, ebooks, closeFn, err := openRepos(ctx, cfg)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer closeFn()

	hash, err := crypto.HashPassword(*password)
	if err != nil {
		logger.Fatal("hash password", zap.Error(err))
	}
	lib, err := user.NewService(users).Register(ctx, *email, "librarian", hash, access.RoleLibrarian)
	switch {
	case errors.Is(err, user.ErrAlreadyExists):
		logger.Info("librarian already exists", zap.String("email", *email))
		if lib, err = users.GetByEmail(ctx, *email); err != nil {
			logger.Fatal("load librarian", zap.Error(err))
		}
	case err != nil:
		logger.Fatal("create librarian", zap.Error(err))
	default:
		logger.Info("librarian created", zap.String("email", lib.Email), zap.String("user_id", lib.ID))
	}

	if !*books {
		return
	}
	catalogue := ebook.NewService(ebooks)
	actor := access.Actor{UserID: lib.ID, Role: lib.Role}
	for _, b := range sampleBooks {
		created, err := catalogue.Create(ctx, actor, ebook.NewEbook{Title: b.title, Authors: b.authors, SectionID: b.section})
		if err != nil {
			logger.Fatal("create ebook", zap.String("title", b.title), zap.Error(err))
		}
		logger.Info("ebook created", zap.String("ebook_id", created.ID), zap.String("title", created.Title))
	}
	logger.Info("seed complete", zap.Int("ebooks", len(sampleBooks)))
}

func openRepos(ctx context.Context, cfg *config.Config) (user.Repository, ebook.Repository, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, nil, err
		}
		return user.NewPostgresRepo(pool, cfg.DBTimeout), ebook.NewPostgresRepo(pool, cfg.DBTimeout), pool.Close, nil
	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, nil, err
		}
		db := client.Database(cfg.MongoDatabase)
		users := user.NewMongoRepo(db, cfg.DBTimeout)
		if err := users.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }
		return users, ebook.NewMongoRepo(db, cfg.DBTimeout), closeFn, nil
	default:
		return nil, nil, nil, fmt.Errorf("seeding needs a persistent store, STORE_DRIVER is %q", cfg.StoreDriver)
	}
}
