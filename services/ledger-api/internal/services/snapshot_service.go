package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coinledger/coinledger/pkg"
	"github.com/coinledger/coinledger/pkg/database"
	"github.com/coinledger/coinledger/pkg/repositories"
	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const snapshotPrefix = "snapshot-"
const snapshotSuffix = ".jsonl"

// snapshotRecord is one line of a snapshot file. Kind discriminates the
// payload so a single file carries the full ledger state.
type snapshotRecord struct {
	Kind    string      `json:"kind"` // "meta", "account", "balance", "transaction"
	Payload interface{} `json:"payload"`
}

type snapshotMeta struct {
	TakenAt      time.Time `json:"takenAt"`
	Accounts     int       `json:"accounts"`
	Balances     int       `json:"balances"`
	Transactions int       `json:"transactions"`
}

// SnapshotService writes point-in-time copies of the full ledger state to
// local files. Each snapshot reads accounts, balances, and the transaction
// log inside one repeatable-read transaction, so the file is internally
// consistent even while writes continue.
type SnapshotService interface {
	// Snapshot takes one snapshot now, retrying transient failures, and
	// returns the written file path.
	Snapshot(ctx context.Context, traceID string) (string, error)
	// Start registers the snapshot schedule and the pending-transfer sweep
	// and starts the scheduler.
	Start()
	// Stop halts the scheduler, waiting for a running job to finish.
	Stop()
}

type SnapshotServiceImpl struct {
	logger      *zap.Logger
	db          *database.DB
	accountRepo repositories.AccountRepository
	balanceRepo repositories.BalanceRepository
	txRepo      repositories.TransactionRepository
	pending     *PendingStore
	cron        *cron.Cron
	dir         string
	schedule    string
	keep        int
	enabled     bool
}

func NewSnapshotService(
	logger *zap.Logger,
	db *database.DB,
	accountRepo repositories.AccountRepository,
	balanceRepo repositories.BalanceRepository,
	txRepo repositories.TransactionRepository,
	pending *PendingStore,
	dir, schedule string,
	keep int,
	enabled bool,
) SnapshotService {
	return &SnapshotServiceImpl{
		logger:      logger,
		db:          db,
		accountRepo: accountRepo,
		balanceRepo: balanceRepo,
		txRepo:      txRepo,
		pending:     pending,
		cron:        cron.New(),
		dir:         dir,
		schedule:    schedule,
		keep:        keep,
		enabled:     enabled,
	}
}

func (s *SnapshotServiceImpl) Start() {
	if s.enabled {
		_, err := s.cron.AddFunc(s.schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := s.Snapshot(ctx, "scheduled"); err != nil {
				s.logger.Error("scheduled snapshot failed", zap.Error(err))
			}
		})
		if err != nil {
			s.logger.Fatal("invalid snapshot schedule",
				zap.String("schedule", s.schedule), zap.Error(err))
		}
		s.logger.Info("snapshot schedule registered", zap.String("schedule", s.schedule))
	}

	// Sweep abandoned pending transfers every minute so they do not pile up
	// between confirms.
	_, err := s.cron.AddFunc("* * * * *", func() {
		if removed := s.pending.Sweep(); removed > 0 {
			s.logger.Info("expired pending transfers swept", zap.Int("removed", removed))
		}
	})
	if err != nil {
		s.logger.Fatal("failed to register pending sweep", zap.Error(err))
	}

	s.cron.Start()
}

func (s *SnapshotServiceImpl) Stop() {
	<-s.cron.Stop().Done()
}

func (s *SnapshotServiceImpl) Snapshot(ctx context.Context, traceID string) (string, error) {
	var path string
	operation := func() error {
		p, err := s.takeSnapshot(ctx)
		if err != nil {
			s.logger.Warn("snapshot attempt failed",
				zap.String(pkg.TraceId, traceID), zap.Error(err))
			return err
		}
		path = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 1 * time.Minute
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}

	if err := s.applyRetention(); err != nil {
		// The snapshot itself succeeded; a retention failure only delays
		// cleanup until the next run.
		s.logger.Warn("snapshot retention failed", zap.String(pkg.TraceId, traceID), zap.Error(err))
	}

	s.logger.Info("snapshot written", zap.String(pkg.TraceId, traceID), zap.String("path", path))
	return path, nil
}

func (s *SnapshotServiceImpl) takeSnapshot(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}

	takenAt := time.Now().UTC()
	name := fmt.Sprintf("%s%s%s", snapshotPrefix, takenAt.Format("20060102T150405"), snapshotSuffix)
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp) // no-op after successful rename
	}()

	enc := json.NewEncoder(f)
	opts := pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}
	err = s.db.WithTransactionOptions(ctx, opts, func(ctx context.Context, tx pgx.Tx) error {
		ids, err := s.accountRepo.AllIDs(ctx, tx)
		if err != nil {
			return err
		}
		balances, err := s.balanceRepo.AllRows(ctx, tx)
		if err != nil {
			return err
		}
		transactions, err := s.txRepo.AllRows(ctx, tx)
		if err != nil {
			return err
		}

		if err := enc.Encode(snapshotRecord{Kind: "meta", Payload: snapshotMeta{
			TakenAt:      takenAt,
			Accounts:     len(ids),
			Balances:     len(balances),
			Transactions: len(transactions),
		}}); err != nil {
			return err
		}
		for _, id := range ids {
			if err := enc.Encode(snapshotRecord{Kind: "account", Payload: id}); err != nil {
				return err
			}
		}
		for _, row := range balances {
			if err := enc.Encode(snapshotRecord{Kind: "balance", Payload: row}); err != nil {
				return err
			}
		}
		for _, tr := range transactions {
			if err := enc.Encode(snapshotRecord{Kind: "transaction", Payload: tr}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := f.Sync(); err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

// applyRetention deletes the oldest snapshots beyond the configured keep
// count. Timestamped names sort chronologically, so name order is age order.
func (s *SnapshotServiceImpl) applyRetention() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), snapshotPrefix) && strings.HasSuffix(e.Name(), snapshotSuffix) {
			names = append(names, e.Name())
		}
	}
	if len(names) <= s.keep {
		return nil
	}

	sort.Strings(names)
	for _, name := range names[:len(names)-s.keep] {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return err
		}
		s.logger.Info("old snapshot removed", zap.String("file", name))
	}
	return nil
}
