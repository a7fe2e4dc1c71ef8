package runstore_test

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/dataholics-selfience/pharmyrus/internal/patent"
	"github.com/dataholics-selfience/pharmyrus/internal/pipeline"
	"github.com/dataholics-selfience/pharmyrus/internal/runstore"
)

type fakeResults struct {
	db   *fakeDB
	left int
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	r.left--
	if r.db.failAt > 0 && r.db.execs == r.db.failAt-1 {
		return pgconn.CommandTag{}, errors.New("duplicate key")
	}
	r.db.execs++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }

func (r *fakeResults) QueryRow() pgx.Row { return nil }

func (r *fakeResults) Close() error {
	r.db.closed++
	return nil
}

type fakeDB struct {
	statements []string
	batches    []*pgx.Batch
	execs      int
	closed     int
	failAt     int
}

func (db *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	db.statements = append(db.statements, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (db *fakeDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	db.batches = append(db.batches, b)
	return &fakeResults{db: db, left: b.Len()}
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		db    *fakeDB
		store *runstore.Store
		res   *pipeline.Result
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = &fakeDB{}
		store = runstore.New(db)
		res = &pipeline.Result{
			RunID:     "run-1",
			Request:   pipeline.Request{MoleculeName: "darolutamide"},
			Status:    pipeline.StatusOK,
			StartedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
			Duration:  1500 * time.Millisecond,
			Records: []patent.Record{
				{Identifier: "BR 112013001234", Provenance: patent.ProvenanceFamilyExpansion, Source: "primary", SourceIdentifier: "WO2011140324", Score: 80},
				{Identifier: "BR112015005678", Provenance: patent.ProvenanceDirectSearch, Source: "directsearch", Score: 60},
			},
		}
	})

	It("should create both tables", func() {
		Expect(store.Migrate(ctx)).To(Succeed())
		Expect(db.statements).To(HaveLen(1))
		Expect(db.statements[0]).To(ContainSubstring("pipeline_runs"))
		Expect(db.statements[0]).To(ContainSubstring("pipeline_run_records"))
	})

	It("should write the run and its records in one batch", func() {
		n, err := store.Save(ctx, res)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		Expect(db.batches).To(HaveLen(1))
		queued := db.batches[0].QueuedQueries
		Expect(queued).To(HaveLen(3))

		run := queued[0].Arguments
		Expect(run[0]).To(Equal("run-1"))
		Expect(run[3]).To(Equal([]string{}))
		Expect(run[6]).To(Equal(2))
		Expect(run[8]).To(Equal(int64(1500)))

		Expect(queued[1].Arguments[1]).To(Equal("BR112013001234"))
		Expect(queued[1].Arguments[5]).To(Equal("WO2011140324"))
		Expect(queued[2].Arguments[2]).To(Equal(string(patent.ProvenanceDirectSearch)))
		Expect(db.closed).To(Equal(1))
	})

	It("should stop on the first failing statement", func() {
		db.failAt = 2

		n, err := store.Save(ctx, res)
		Expect(err).To(MatchError(ContainSubstring("run-1")))
		Expect(n).To(Equal(1))
		Expect(db.closed).To(Equal(1))
	})
})
