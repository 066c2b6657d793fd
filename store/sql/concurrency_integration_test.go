package sqlstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-oracle/core"
	sqlstore "github.com/goliatone/go-oracle/store/sql"
	"github.com/goliatone/go-oracle/store/sql/sqltest"
)

// backend opens a store session. overlapping reports whether two
// transactions can hold claims at the same time: the sqlite test database
// runs on a single connection, so its transactions queue behind each other
// and only postgres shows FOR UPDATE SKIP LOCKED at work.
type backend struct {
	name        string
	open        func(testing.TB) *sqlstore.Session
	overlapping bool
}

var backends = []backend{
	{name: "sqlite", open: sqltest.NewSession},
	{name: "postgres", open: sqltest.NewPostgresSession, overlapping: true},
}

func TestWebhookStore_ConcurrentCreateKeepsOneRowPerDedupKey(t *testing.T) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			store := b.open(t).Webhooks()

			const writers = 12
			var (
				wg      sync.WaitGroup
				start   = make(chan struct{})
				ids     = make([]string, writers)
				created = make([]bool, writers)
				errs    = make([]error, writers)
			)
			for i := range writers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					row, isNew, err := store.Create(ctx, inboundInput("0xsame-signature"))
					ids[i], created[i], errs[i] = row.ID, isNew, err
				}()
			}
			close(start)
			wg.Wait()

			fresh := 0
			for i := range writers {
				if errs[i] != nil {
					t.Fatalf("writer %d: %v", i, errs[i])
				}
				if ids[i] != ids[0] {
					t.Fatalf("writer %d got row %s, writer 0 got %s", i, ids[i], ids[0])
				}
				if created[i] {
					fresh++
				}
			}
			if fresh != 1 {
				t.Fatalf("expected exactly one writer to create the row, got %d", fresh)
			}
			if _, total, err := store.List(ctx, core.WebhookListFilter{Direction: core.DirectionInbound}); err != nil || total != 1 {
				t.Fatalf("expected one stored row, total=%d err=%v", total, err)
			}
		})
	}
}

func TestWebhookStore_ConcurrentClaimsNeverShareRows(t *testing.T) {
	tests := []struct {
		name   string
		rows   int
		limits []int
	}{
		{name: "more rows than claimants take", rows: 9, limits: []int{3, 4}},
		{name: "claimants outnumber rows", rows: 5, limits: []int{4, 4}},
	}
	for _, b := range backends {
		for _, tt := range tests {
			t.Run(b.name+"/"+tt.name, func(t *testing.T) {
				ctx := context.Background()
				session := b.open(t)
				for i := range tt.rows {
					if _, _, err := session.Webhooks().Create(ctx, inboundInput(fmt.Sprintf("0xsig-%d", i))); err != nil {
						t.Fatalf("seed row %d: %v", i, err)
					}
				}

				var (
					wg      sync.WaitGroup
					start   = make(chan struct{})
					claimed sync.WaitGroup
					mu      sync.Mutex
					seen    = map[string]int{}
					errs    = make([]error, len(tt.limits))
				)
				claimed.Add(len(tt.limits))
				for i, limit := range tt.limits {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						once := sync.OnceFunc(claimed.Done)
						defer once()
						errs[i] = session.RunInTx(ctx, func(ctx context.Context, tx core.Stores) error {
							rows, err := tx.Webhooks().ClaimPending(ctx, core.ClaimFilter{
								Direction: core.DirectionInbound,
								Limit:     limit,
							})
							if err != nil {
								return err
							}
							if b.overlapping {
								// hold the row locks until every claimant has claimed
								once()
								claimed.Wait()
							}
							for _, row := range rows {
								if err := tx.Webhooks().MarkSuccess(ctx, row.ID); err != nil {
									return err
								}
								mu.Lock()
								seen[row.ID]++
								mu.Unlock()
							}
							return nil
						})
					}()
				}
				close(start)
				wg.Wait()

				for i, err := range errs {
					if err != nil {
						t.Fatalf("claimant %d: %v", i, err)
					}
				}
				for id, count := range seen {
					if count != 1 {
						t.Fatalf("row %s was claimed %d times", id, count)
					}
				}
				sum := 0
				for _, limit := range tt.limits {
					sum += limit
				}
				if want := min(tt.rows, sum); len(seen) != want {
					t.Fatalf("expected %d claimed rows, got %d", want, len(seen))
				}
			})
		}
	}
}
