package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// dbcheck is a small operator tool for poking at the insights table without
// going through the API. Reads DATABASE_URL from the environment.
//
//	dbcheck            status counts and recent records
//	dbcheck stuck      records sitting in processing for over 30 minutes
//	dbcheck cleanup    delete failed records older than 7 days (and their rows only;
//	                   audio files are left for manual inspection)
func main() {
	pool, err := pgxpool.New(context.Background(), os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "stuck" {
		showStuck(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "cleanup" {
		tag, err := pool.Exec(ctx, `
			DELETE FROM insights
			WHERE processing_status = 'failed'
			  AND COALESCE(updated_at, created_at) < now() - interval '7 days'
		`)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Deleted %d old failed insights\n", tag.RowsAffected())
		return
	}

	// Default: status distribution and the newest records
	fmt.Println("Status          Count")
	fmt.Println("─────────────────────")
	rows, err := pool.Query(ctx, `
		SELECT processing_status, count(*)
		FROM insights
		GROUP BY processing_status
		ORDER BY processing_status
	`)
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		rows.Scan(&status, &count)
		fmt.Printf("%-15s %d\n", status, count)
	}

	fmt.Println("\n── Newest 10 Records ──")
	rows2, err := pool.Query(ctx, `
		SELECT id, filename, processing_status, created_at
		FROM insights
		ORDER BY created_at DESC
		LIMIT 10
	`)
	if err != nil {
		panic(err)
	}
	defer rows2.Close()
	for rows2.Next() {
		var id, filename, status string
		var created time.Time
		rows2.Scan(&id, &filename, &status, &created)
		fmt.Printf("  %s  %-12s %-30s %s\n", id, status, filename, created.Format(time.RFC3339))
	}
}

func showStuck(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `
		SELECT id, filename, created_at, COALESCE(updated_at, created_at)
		FROM insights
		WHERE processing_status = 'processing'
		  AND COALESCE(updated_at, created_at) < now() - interval '30 minutes'
		ORDER BY created_at
	`)
	if err != nil {
		panic(err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		found = true
		var id, filename string
		var created, touched time.Time
		rows.Scan(&id, &filename, &created, &touched)
		fmt.Printf("  %s  %-30s created=%s last_touched=%s\n",
			id, filename, created.Format(time.RFC3339), touched.Format(time.RFC3339))
	}
	if !found {
		fmt.Println("  (no stuck records)")
	}
}
