package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/dukex/followup/pkg/persistence"
	"github.com/dukex/followup/pkg/persistence/file"
	"github.com/dukex/followup/pkg/persistence/memory"
	"github.com/dukex/followup/pkg/persistence/mongodb"
	"github.com/dukex/followup/pkg/persistence/postgresql"
)

const defaultMongoDatabase = "followup"

var supportedPersistenceProviders = []string{"memory", "file", "postgres", "postgresql", "mongodb", "mongodb+srv"}

// NewPersistence opens the store named by databaseURL's scheme. A URL without a scheme is a file store root.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "memory":
		return memory.NewPersistence()
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case "mongodb", "mongodb+srv":
		return mongodb.NewPersistence(ctx, logger, databaseURL, mongoDatabase(databaseURL))
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("file persistence requires a directory, got %q", databaseURL)
		}

		return file.NewPersistence(rest), nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q, supported: %s",
			provider, strings.Join(supportedPersistenceProviders, ", "))
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}

// mongoDatabase takes the database name from the URL path.
func mongoDatabase(databaseURL string) string {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return defaultMongoDatabase
	}

	name := strings.Trim(parsed.Path, "/")
	if name == "" {
		return defaultMongoDatabase
	}

	return name
}
