package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/painter-loyalty/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresRepository)(nil)

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storeError("ping database", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// storeError оборачивает ошибку драйвера. Временные сбои помечаются ErrStoreUnavailable,
// повтор запроса остаётся на стороне вызывающего.
func storeError(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.TooManyConnections ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в транзакции. Ошибка fn или фиксации откатывает все изменения.
func (r *PostgresRepository) InTx(ctx context.Context, fn TxFunc) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("commit tx", err)
	}

	return nil
}

const serialColumns = `serial_number, price::text, is_consumed, consumed_by, consumed_at, qr_code_path, created_at`

func scanSerial(row pgx.Row) (model.Serial, error) {
	var (
		s     model.Serial
		price string
	)
	if err := row.Scan(&s.SerialNumber, &price, &s.IsConsumed, &s.ConsumedBy, &s.ConsumedAt, &s.QRCodePath, &s.CreatedAt); err != nil {
		return model.Serial{}, err
	}

	p, err := parseDecimal(price)
	if err != nil {
		return model.Serial{}, err
	}
	s.Price = p

	return s, nil
}

// CreateSerial сохраняет новый серийный номер.
func (r *PostgresRepository) CreateSerial(ctx context.Context, serialNumber string, price decimal.Decimal, now time.Time) (model.Serial, error) {
	s, err := scanSerial(r.pool.QueryRow(ctx,
		`INSERT INTO serials (serial_number, price, created_at) VALUES ($1, $2::numeric, $3)
		 RETURNING `+serialColumns,
		serialNumber, price.String(), now,
	))
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return model.Serial{}, fmt.Errorf("%w: %s", model.ErrDuplicateSerial, serialNumber)
		}
		return model.Serial{}, storeError("create serial", err)
	}
	return s, nil
}

// GetSerial возвращает серийный номер.
func (r *PostgresRepository) GetSerial(ctx context.Context, serialNumber string) (model.Serial, error) {
	return getSerial(ctx, r.pool, serialNumber)
}

func getSerial(ctx context.Context, q querier, serialNumber string) (model.Serial, error) {
	s, err := scanSerial(q.QueryRow(ctx,
		`SELECT `+serialColumns+` FROM serials WHERE serial_number = $1`,
		serialNumber,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Serial{}, fmt.Errorf("%w: %s", model.ErrSerialNotFound, serialNumber)
		}
		return model.Serial{}, storeError("get serial", err)
	}
	return s, nil
}

// SetSerialQRPath сохраняет путь к изображению QR-кода серийного номера.
func (r *PostgresRepository) SetSerialQRPath(ctx context.Context, serialNumber, path string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE serials SET qr_code_path = $2 WHERE serial_number = $1`,
		serialNumber, path,
	)
	if err != nil {
		return storeError("update qr path", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrSerialNotFound, serialNumber)
	}
	return nil
}

// StockSummary возвращает количество непогашенных и погашенных серийных номеров.
func (r *PostgresRepository) StockSummary(ctx context.Context) (model.StockSummary, error) {
	var s model.StockSummary
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE NOT is_consumed), COUNT(*) FILTER (WHERE is_consumed) FROM serials`,
	).Scan(&s.InStock, &s.Consumed)
	if err != nil {
		return model.StockSummary{}, storeError("stock summary", err)
	}
	return s, nil
}

// CreatePainter создаёт нового маляра.
func (r *PostgresRepository) CreatePainter(ctx context.Context, name *string, now time.Time) (model.Painter, error) {
	p := model.Painter{Name: name}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO painters (name, created_at) VALUES ($1, $2) RETURNING id, created_at`,
		name, now,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return model.Painter{}, storeError("create painter", err)
	}
	return p, nil
}

// GetPainter возвращает маляра по идентификатору.
func (r *PostgresRepository) GetPainter(ctx context.Context, id int64) (model.Painter, error) {
	var p model.Painter
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM painters WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Painter{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, id)
		}
		return model.Painter{}, storeError("get painter", err)
	}
	return p, nil
}

// CommissionTotals возвращает суммы начислений и выводов маляра.
func (r *PostgresRepository) CommissionTotals(ctx context.Context, painterID int64) (decimal.Decimal, decimal.Decimal, error) {
	return commissionTotals(ctx, r.pool, painterID)
}

func commissionTotals(ctx context.Context, q querier, painterID int64) (decimal.Decimal, decimal.Decimal, error) {
	var accrued, redeemed string
	err := q.QueryRow(ctx,
		`SELECT
		   (SELECT COALESCE(SUM(amount), 0)::text FROM accruals WHERE painter_id = $1),
		   (SELECT COALESCE(SUM(amount), 0)::text FROM redemptions WHERE painter_id = $1)`,
		painterID,
	).Scan(&accrued, &redeemed)
	if err != nil {
		return decimal.Zero, decimal.Zero, storeError("sum commissions", err)
	}

	a, err := parseDecimal(accrued)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	rd, err := parseDecimal(redeemed)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	return a, rd, nil
}

// AccrualsByPainter возвращает историю начислений маляра, начиная с последних.
func (r *PostgresRepository) AccrualsByPainter(ctx context.Context, painterID int64) ([]model.Accrual, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, painter_id, serial_number, amount::text, created_at
		 FROM accruals
		 WHERE painter_id = $1
		 ORDER BY created_at DESC, id DESC`,
		painterID,
	)
	if err != nil {
		return nil, storeError("select accruals", err)
	}
	defer rows.Close()

	var res []model.Accrual
	for rows.Next() {
		var (
			a      model.Accrual
			amount string
		)
		if err := rows.Scan(&a.ID, &a.PainterID, &a.SerialNumber, &amount, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan accrual: %w", err)
		}
		if a.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("rows error", err)
	}

	return res, nil
}

// RedemptionsByPainter возвращает историю выводов маляра, начиная с последних.
func (r *PostgresRepository) RedemptionsByPainter(ctx context.Context, painterID int64) ([]model.Redemption, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, painter_id, amount::text, created_at
		 FROM redemptions
		 WHERE painter_id = $1
		 ORDER BY created_at DESC, id DESC`,
		painterID,
	)
	if err != nil {
		return nil, storeError("select redemptions", err)
	}
	defer rows.Close()

	var res []model.Redemption
	for rows.Next() {
		var (
			rd     model.Redemption
			amount string
		)
		if err := rows.Scan(&rd.ID, &rd.PainterID, &amount, &rd.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		if rd.Amount, err = parseDecimal(amount); err != nil {
			return nil, err
		}
		res = append(res, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("rows error", err)
	}

	return res, nil
}

const painterStatsQuery = `
SELECT p.id, p.name,
       (SELECT COUNT(*) FROM serials s WHERE s.consumed_by = p.id),
       (SELECT MAX(s.consumed_at) FROM serials s WHERE s.consumed_by = p.id),
       (SELECT COALESCE(SUM(a.amount), 0)::text FROM accruals a WHERE a.painter_id = p.id),
       (SELECT COALESCE(SUM(r.amount), 0)::text FROM redemptions r WHERE r.painter_id = p.id)
FROM painters p`

func scanPainterStats(row pgx.Row) (model.PainterStats, error) {
	var (
		st                model.PainterStats
		accrued, redeemed string
	)
	if err := row.Scan(&st.PainterID, &st.Name, &st.ConsumedCount, &st.LastConsumedAt, &accrued, &redeemed); err != nil {
		return model.PainterStats{}, err
	}

	a, err := parseDecimal(accrued)
	if err != nil {
		return model.PainterStats{}, err
	}
	rd, err := parseDecimal(redeemed)
	if err != nil {
		return model.PainterStats{}, err
	}
	st.CommissionSummary = model.NewCommissionSummary(a, rd)

	return st, nil
}

// PainterStats возвращает агрегированные данные маляра.
func (r *PostgresRepository) PainterStats(ctx context.Context, painterID int64) (model.PainterStats, error) {
	st, err := scanPainterStats(r.pool.QueryRow(ctx, painterStatsQuery+` WHERE p.id = $1`, painterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.PainterStats{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
		}
		return model.PainterStats{}, storeError("painter stats", err)
	}
	return st, nil
}

// ListPainterStats возвращает агрегированные данные всех маляров.
func (r *PostgresRepository) ListPainterStats(ctx context.Context) ([]model.PainterStats, error) {
	rows, err := r.pool.Query(ctx, painterStatsQuery+` ORDER BY p.id`)
	if err != nil {
		return nil, storeError("select painter stats", err)
	}
	defer rows.Close()

	var res []model.PainterStats
	for rows.Next() {
		st, err := scanPainterStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scan painter stats: %w", err)
		}
		res = append(res, st)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("rows error", err)
	}

	return res, nil
}

type pgTx struct {
	tx pgx.Tx
}

// MarkConsumed погашает серийный номер. Условие NOT is_consumed в UPDATE вместе с
// блокировкой строки гарантирует, что из конкурирующих транзакций успешна только одна.
func (t *pgTx) MarkConsumed(ctx context.Context, serialNumber string, painterID int64, now time.Time) (model.Serial, error) {
	s, err := scanSerial(t.tx.QueryRow(ctx,
		`UPDATE serials SET is_consumed = TRUE, consumed_by = $2, consumed_at = $3
		 WHERE serial_number = $1 AND NOT is_consumed
		 RETURNING `+serialColumns,
		serialNumber, painterID, now,
	))
	if err == nil {
		return s, nil
	}

	if pgCode(err) == pgerrcode.ForeignKeyViolation {
		return model.Serial{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Serial{}, storeError("mark consumed", err)
	}

	if _, err := getSerial(ctx, t.tx, serialNumber); err != nil {
		return model.Serial{}, err
	}
	return model.Serial{}, fmt.Errorf("%w: %s", model.ErrAlreadyConsumed, serialNumber)
}

// InsertAccrual добавляет начисление. Уникальность serial_number исключает повторное начисление.
func (t *pgTx) InsertAccrual(ctx context.Context, painterID int64, serialNumber string, amount decimal.Decimal, now time.Time) (model.Accrual, error) {
	a := model.Accrual{
		PainterID:    painterID,
		SerialNumber: serialNumber,
		Amount:       amount,
		CreatedAt:    now,
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO accruals (painter_id, serial_number, amount, created_at) VALUES ($1, $2, $3::numeric, $4)
		 RETURNING id`,
		painterID, serialNumber, amount.String(), now,
	).Scan(&a.ID)
	if err != nil {
		switch pgCode(err) {
		case pgerrcode.UniqueViolation:
			return model.Accrual{}, fmt.Errorf("%w: %s", model.ErrAlreadyConsumed, serialNumber)
		case pgerrcode.ForeignKeyViolation:
			return model.Accrual{}, fmt.Errorf("insert accrual: %w", model.ErrNotFound)
		}
		return model.Accrual{}, storeError("insert accrual", err)
	}
	return a, nil
}

// LockPainter блокирует строку маляра для предотвращения параллельных выводов, превышающих баланс.
func (t *pgTx) LockPainter(ctx context.Context, painterID int64) error {
	var dummy int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM painters WHERE id = $1 FOR UPDATE`, painterID).Scan(&dummy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
		}
		return storeError("lock painter for update", err)
	}
	return nil
}

func (t *pgTx) CommissionTotals(ctx context.Context, painterID int64) (decimal.Decimal, decimal.Decimal, error) {
	return commissionTotals(ctx, t.tx, painterID)
}

func (t *pgTx) InsertRedemption(ctx context.Context, painterID int64, amount decimal.Decimal, now time.Time) (model.Redemption, error) {
	rd := model.Redemption{
		PainterID: painterID,
		Amount:    amount,
		CreatedAt: now,
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO redemptions (painter_id, amount, created_at) VALUES ($1, $2::numeric, $3) RETURNING id`,
		painterID, amount.String(), now,
	).Scan(&rd.ID)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return model.Redemption{}, fmt.Errorf("%w: %d", model.ErrPainterNotFound, painterID)
		}
		return model.Redemption{}, storeError("insert redemption", err)
	}
	return rd, nil
}
