package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"accord/test/actors"
	"accord/test/chaos"
	"accord/test/infra"
	"accord/test/oracles"
)

var (
	flDuration  = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConflicts = flag.Int("conflicts", 4, "number of conflicts worked concurrently")
	flSeed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN       = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestAccordConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	// migrations
	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	couple := mustSeedCouple(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// one full actor cast per conflict, all battling the same workflow
	for i := 0; i < *flConflicts; i++ {
		conflictID := mustSeedConflict(t, ctx, pool, couple)

		g.Go(func() error { return actors.Submitter(ctx2, pool, conflictID, couple.memberA, stop) })
		g.Go(func() error { return actors.Submitter(ctx2, pool, conflictID, couple.memberB, stop) })
		g.Go(func() error { return actors.Synthesizer(ctx2, pool, conflictID, stop) })
		g.Go(func() error { return actors.Accepter(ctx2, pool, conflictID, true, stop) })
		g.Go(func() error { return actors.Accepter(ctx2, pool, conflictID, false, stop) })
		g.Go(func() error { return actors.Rejector(ctx2, pool, conflictID, stop) })
		g.Go(func() error { return actors.Messenger(ctx2, pool, conflictID, couple.memberA, stop) })
		g.Go(func() error { return actors.Requester(ctx2, pool, conflictID, couple.memberB, stop) })
		g.Go(func() error { return actors.RequestActor(ctx2, pool, conflictID, stop) })
		g.Go(func() error { return actors.Resolver(ctx2, pool, conflictID, stop) })
		g.Go(func() error { return actors.TimelineWriter(ctx2, pool, conflictID, stop) })
	}

	// chaos: kill random backend
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seededCouple struct {
	coupleID string
	memberA  string
	memberB  string
}

func mustSeedCouple(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seededCouple {
	t.Helper()
	var s seededCouple
	code := fmt.Sprintf("STRESS%d", rand.Int63n(1_000_000))
	if err := pool.QueryRow(ctx, `INSERT INTO couples (id, join_code) VALUES (gen_random_uuid(), $1) RETURNING id`, code).Scan(&s.coupleID); err != nil {
		t.Fatalf("seed couple: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO members (id, email, full_name, password_hash, couple_id)
                                   VALUES (gen_random_uuid(), $1, 'Stress A', 'x', $2) RETURNING id`,
		fmt.Sprintf("a%d@example.com", rand.Int63()), s.coupleID).Scan(&s.memberA); err != nil {
		t.Fatalf("seed member a: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO members (id, email, full_name, password_hash, couple_id)
                                   VALUES (gen_random_uuid(), $1, 'Stress B', 'x', $2) RETURNING id`,
		fmt.Sprintf("b%d@example.com", rand.Int63()), s.coupleID).Scan(&s.memberB); err != nil {
		t.Fatalf("seed member b: %v", err)
	}
	if _, err := pool.Exec(ctx, `UPDATE couples SET member_a_id=$2, member_b_id=$3 WHERE id=$1`, s.coupleID, s.memberA, s.memberB); err != nil {
		t.Fatalf("seat members: %v", err)
	}
	return s
}

func mustSeedConflict(t *testing.T, ctx context.Context, pool *pgxpool.Pool, c seededCouple) string {
	t.Helper()
	var conflictID string
	if err := pool.QueryRow(ctx, `INSERT INTO conflicts (id, couple_id, title)
                                   VALUES (gen_random_uuid(), $1, $2) RETURNING id`,
		c.coupleID, fmt.Sprintf("stress conflict %d", rand.Int63())).Scan(&conflictID); err != nil {
		t.Fatalf("seed conflict: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO perspectives (conflict_id, member_id) VALUES ($1,$2), ($1,$3)`,
		conflictID, c.memberA, c.memberB); err != nil {
		t.Fatalf("seed perspectives: %v", err)
	}
	return conflictID
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"conflicts", `SELECT id, phase, a_accepted, b_accepted, resolved_at FROM conflicts ORDER BY created_at DESC LIMIT 20`},
		{"timeline_events", `SELECT id, conflict_id, seq, type, created_at FROM timeline_events ORDER BY id DESC LIMIT 50`},
		{"requests", `SELECT id, conflict_id, accepted, fulfilled, created_at FROM requests ORDER BY created_at DESC LIMIT 50`},
		{"messages", `SELECT id, conflict_id, pinned, created_at FROM messages ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
