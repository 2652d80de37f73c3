package infra

import (
	"context"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const postgresImage = "postgres:16"

type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 returns a DSN for a fresh Postgres 16 container. An
// explicit overrideDSN or the STRESS_TEST_PG_DSN environment variable
// short-circuits the container and reuses that database.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if dsn := reusableDSN(overrideDSN); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	pgC, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase("accord_test"),
		postgres.WithUsername("accord"),
		postgres.WithPassword("accordpass"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", err
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", err
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func reusableDSN(override string) string {
	if override != "" {
		return override
	}
	return os.Getenv("STRESS_TEST_PG_DSN")
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
