package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// Store is the narrow persistence surface the server core depends on.
// The concrete *SqliteStore satisfies it; tests can substitute fakes.
type Store interface {
	Close() error

	// server auth, single row
	Setup(passwordHash []byte, secret []byte) error
	Auth() (passwordHash []byte, secret []byte, ok bool, err error)

	// accounts
	CreateAccount(name string) error
	DeleteAccount(name string) error
	ListAccounts() ([]string, error)
	HasAccount(name string) (bool, error)

	// transaction log
	InsertTransaction(transaction *Transaction) error
	UpdateTransaction(transaction *Transaction) error
	DeleteTransaction(accountName string, id string) (time.Time, error)
	GetTransaction(accountName string, id string) (*Transaction, error)
	ListTransactions(accountName string, since time.Time) ([]Transaction, error)
	EarliestTransactionTime(accountName string) (time.Time, bool, error)
	LatestTransactionTime(accountName string) (time.Time, bool, error)
	SetSpam(accountName string, id string, spam bool) error
	SetMerged(accountName string, id string, mergedId string) error
	ListAssets(accountName string) ([]string, error)

	// derived views
	DeleteBalanceSnapshots(accountName string, from time.Time) error
	UpsertBalanceSnapshot(snapshot *BalanceSnapshot) error
	ListBalanceSnapshots(accountName string, from time.Time) ([]BalanceSnapshot, error)
	LatestBalances(accountName string) ([]BalanceSnapshot, error)
	DeleteNetWorthSnapshots(accountName string, from time.Time) error
	UpsertNetWorthSnapshot(snapshot *NetWorthSnapshot) error
	ListNetWorthSnapshots(accountName string, from time.Time) ([]NetWorthSnapshot, error)
	DeleteTradeMarks(accountName string, from time.Time) error
	UpsertTradeMark(mark *TradeMark) error
	ListTradeMarks(accountName string, from time.Time) ([]TradeMark, error)

	// prices
	UpsertAssetPrice(asset string, bucket time.Time, price decimal.Decimal) error
	AssetPriceAt(asset string, bucket time.Time) (decimal.Decimal, bool, error)

	// settings and key-values, account name "" for process scope
	GetSetting(accountName string, key string) (string, bool, error)
	SetSetting(accountName string, key string, value string) error
	GetKeyValue(accountName string, key string) (string, bool, error)
	SetKeyValue(accountName string, key string, value string) error

	// notifications
	InsertNotification(notification *Notification) error
	ListNotifications(accountName string) ([]Notification, error)
}

var _ Store = (*SqliteStore)(nil)

// SqliteStore persists the ledger in a single sqlite database in WAL
// mode.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SqliteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (self *SqliteStore) Close() error {
	return self.db.Close()
}

func (self *SqliteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS auth (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		password_hash BLOB NOT NULL,
		secret        BLOB NOT NULL,
		setup_time    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS accounts (
		name         TEXT PRIMARY KEY,
		created_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id           TEXT PRIMARY KEY,
		account_name TEXT NOT NULL REFERENCES accounts(name),
		wallet       TEXT NOT NULL DEFAULT '',
		tx_time      INTEGER NOT NULL,
		tx_type      TEXT NOT NULL,
		asset        TEXT NOT NULL,
		amount       TEXT NOT NULL,
		fee          TEXT NOT NULL,
		price        TEXT NOT NULL,
		note         TEXT NOT NULL DEFAULT '',
		spam         INTEGER NOT NULL DEFAULT 0,
		merged_id    TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_account_time ON transactions(account_name, tx_time);

	CREATE TABLE IF NOT EXISTS balance_snapshots (
		account_name TEXT NOT NULL,
		bucket_time  INTEGER NOT NULL,
		asset        TEXT NOT NULL,
		amount       TEXT NOT NULL,
		PRIMARY KEY (account_name, bucket_time, asset)
	);

	CREATE TABLE IF NOT EXISTS net_worth_snapshots (
		account_name TEXT NOT NULL,
		bucket_time  INTEGER NOT NULL,
		value        TEXT NOT NULL,
		PRIMARY KEY (account_name, bucket_time)
	);

	CREATE TABLE IF NOT EXISTS trade_marks (
		transaction_id TEXT PRIMARY KEY,
		account_name   TEXT NOT NULL,
		mark_time      INTEGER NOT NULL,
		asset          TEXT NOT NULL,
		cost_basis     TEXT NOT NULL,
		profit_loss    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_marks_account_time ON trade_marks(account_name, mark_time);

	CREATE TABLE IF NOT EXISTS asset_prices (
		asset       TEXT NOT NULL,
		bucket_time INTEGER NOT NULL,
		price       TEXT NOT NULL,
		PRIMARY KEY (asset, bucket_time)
	);

	CREATE TABLE IF NOT EXISTS settings (
		account_name TEXT NOT NULL,
		key          TEXT NOT NULL,
		value        TEXT NOT NULL,
		PRIMARY KEY (account_name, key)
	);

	CREATE TABLE IF NOT EXISTS key_values (
		account_name TEXT NOT NULL,
		key          TEXT NOT NULL,
		value        TEXT NOT NULL,
		PRIMARY KEY (account_name, key)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id           TEXT PRIMARY KEY,
		account_name TEXT NOT NULL,
		message      TEXT NOT NULL,
		created_time INTEGER NOT NULL
	);
	`
	_, err := self.db.Exec(schema)
	return err
}

func (self *SqliteStore) Setup(passwordHash []byte, secret []byte) error {
	result, err := self.db.Exec(
		`INSERT OR IGNORE INTO auth (id, password_hash, secret, setup_time) VALUES (1, ?, ?, ?)`,
		passwordHash,
		secret,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("setup already completed")
	}
	return nil
}

func (self *SqliteStore) Auth() ([]byte, []byte, bool, error) {
	var passwordHash []byte
	var secret []byte
	err := self.db.QueryRow(`SELECT password_hash, secret FROM auth WHERE id = 1`).Scan(&passwordHash, &secret)
	if err == sql.ErrNoRows {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return passwordHash, secret, true, nil
}

func (self *SqliteStore) CreateAccount(name string) error {
	result, err := self.db.Exec(
		`INSERT OR IGNORE INTO accounts (name, created_time) VALUES (?, ?)`,
		name,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account exists: %s", name)
	}
	return nil
}

func (self *SqliteStore) DeleteAccount(name string) error {
	for _, table := range []string{
		"transactions",
		"balance_snapshots",
		"net_worth_snapshots",
		"trade_marks",
		"settings",
		"key_values",
		"notifications",
	} {
		if _, err := self.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE account_name = ?`, table), name); err != nil {
			return err
		}
	}
	_, err := self.db.Exec(`DELETE FROM accounts WHERE name = ?`, name)
	return err
}

func (self *SqliteStore) ListAccounts() ([]string, error) {
	rows, err := self.db.Query(`SELECT name FROM accounts ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (self *SqliteStore) HasAccount(name string) (bool, error) {
	var one int
	err := self.db.QueryRow(`SELECT 1 FROM accounts WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (self *SqliteStore) InsertTransaction(transaction *Transaction) error {
	_, err := self.db.Exec(
		`INSERT INTO transactions
		(id, account_name, wallet, tx_time, tx_type, asset, amount, fee, price, note, spam, merged_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		transaction.Id,
		transaction.AccountName,
		transaction.Wallet,
		transaction.Time.UnixMilli(),
		string(transaction.Type),
		transaction.Asset,
		transaction.Amount.String(),
		transaction.Fee.String(),
		transaction.Price.String(),
		transaction.Note,
		boolInt(transaction.Spam),
		transaction.MergedId,
	)
	return err
}

func (self *SqliteStore) UpdateTransaction(transaction *Transaction) error {
	result, err := self.db.Exec(
		`UPDATE transactions SET wallet = ?, tx_time = ?, tx_type = ?, asset = ?, amount = ?, fee = ?, price = ?, note = ?, spam = ?, merged_id = ?
		WHERE id = ? AND account_name = ?`,
		transaction.Wallet,
		transaction.Time.UnixMilli(),
		string(transaction.Type),
		transaction.Asset,
		transaction.Amount.String(),
		transaction.Fee.String(),
		transaction.Price.String(),
		transaction.Note,
		boolInt(transaction.Spam),
		transaction.MergedId,
		transaction.Id,
		transaction.AccountName,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("transaction not found: %s", transaction.Id)
	}
	return nil
}

func (self *SqliteStore) DeleteTransaction(accountName string, id string) (time.Time, error) {
	var txTimeMs int64
	err := self.db.QueryRow(
		`SELECT tx_time FROM transactions WHERE id = ? AND account_name = ?`,
		id,
		accountName,
	).Scan(&txTimeMs)
	if err == sql.ErrNoRows {
		return time.Time{}, fmt.Errorf("transaction not found: %s", id)
	}
	if err != nil {
		return time.Time{}, err
	}
	_, err = self.db.Exec(`DELETE FROM transactions WHERE id = ? AND account_name = ?`, id, accountName)
	return time.UnixMilli(txTimeMs), err
}

func (self *SqliteStore) GetTransaction(accountName string, id string) (*Transaction, error) {
	row := self.db.QueryRow(
		`SELECT id, account_name, wallet, tx_time, tx_type, asset, amount, fee, price, note, spam, merged_id
		FROM transactions WHERE id = ? AND account_name = ?`,
		id,
		accountName,
	)
	transaction, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("transaction not found: %s", id)
	}
	return transaction, err
}

func (self *SqliteStore) ListTransactions(accountName string, since time.Time) ([]Transaction, error) {
	rows, err := self.db.Query(
		`SELECT id, account_name, wallet, tx_time, tx_type, asset, amount, fee, price, note, spam, merged_id
		FROM transactions WHERE account_name = ? AND tx_time >= ? ORDER BY tx_time, id`,
		accountName,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []Transaction{}
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *transaction)
	}
	return transactions, rows.Err()
}

func (self *SqliteStore) EarliestTransactionTime(accountName string) (time.Time, bool, error) {
	return self.transactionTimeMarker(accountName, "MIN")
}

func (self *SqliteStore) LatestTransactionTime(accountName string) (time.Time, bool, error) {
	return self.transactionTimeMarker(accountName, "MAX")
}

func (self *SqliteStore) transactionTimeMarker(accountName string, agg string) (time.Time, bool, error) {
	var txTimeMs sql.NullInt64
	err := self.db.QueryRow(
		fmt.Sprintf(`SELECT %s(tx_time) FROM transactions WHERE account_name = ?`, agg),
		accountName,
	).Scan(&txTimeMs)
	if err != nil {
		return time.Time{}, false, err
	}
	if !txTimeMs.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(txTimeMs.Int64), true, nil
}

func (self *SqliteStore) SetSpam(accountName string, id string, spam bool) error {
	_, err := self.db.Exec(
		`UPDATE transactions SET spam = ? WHERE id = ? AND account_name = ?`,
		boolInt(spam),
		id,
		accountName,
	)
	return err
}

func (self *SqliteStore) SetMerged(accountName string, id string, mergedId string) error {
	_, err := self.db.Exec(
		`UPDATE transactions SET merged_id = ? WHERE id = ? AND account_name = ?`,
		mergedId,
		id,
		accountName,
	)
	return err
}

func (self *SqliteStore) ListAssets(accountName string) ([]string, error) {
	rows, err := self.db.Query(
		`SELECT DISTINCT asset FROM transactions WHERE account_name = ? AND spam = 0 ORDER BY asset`,
		accountName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	assets := []string{}
	for rows.Next() {
		var asset string
		if err := rows.Scan(&asset); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

func (self *SqliteStore) DeleteBalanceSnapshots(accountName string, from time.Time) error {
	_, err := self.db.Exec(
		`DELETE FROM balance_snapshots WHERE account_name = ? AND bucket_time >= ?`,
		accountName,
		from.UnixMilli(),
	)
	return err
}

func (self *SqliteStore) UpsertBalanceSnapshot(snapshot *BalanceSnapshot) error {
	_, err := self.db.Exec(
		`INSERT INTO balance_snapshots (account_name, bucket_time, asset, amount) VALUES (?, ?, ?, ?)
		ON CONFLICT (account_name, bucket_time, asset) DO UPDATE SET amount = excluded.amount`,
		snapshot.AccountName,
		snapshot.Bucket.UnixMilli(),
		snapshot.Asset,
		snapshot.Amount.String(),
	)
	return err
}

func (self *SqliteStore) ListBalanceSnapshots(accountName string, from time.Time) ([]BalanceSnapshot, error) {
	rows, err := self.db.Query(
		`SELECT account_name, bucket_time, asset, amount FROM balance_snapshots
		WHERE account_name = ? AND bucket_time >= ? ORDER BY bucket_time, asset`,
		accountName,
		from.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []BalanceSnapshot{}
	for rows.Next() {
		var snapshot BalanceSnapshot
		var bucketMs int64
		var amountStr string
		if err := rows.Scan(&snapshot.AccountName, &bucketMs, &snapshot.Asset, &amountStr); err != nil {
			return nil, err
		}
		snapshot.Bucket = time.UnixMilli(bucketMs)
		snapshot.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (self *SqliteStore) LatestBalances(accountName string) ([]BalanceSnapshot, error) {
	rows, err := self.db.Query(
		`SELECT b.account_name, b.bucket_time, b.asset, b.amount FROM balance_snapshots b
		JOIN (
			SELECT asset, MAX(bucket_time) AS bucket_time FROM balance_snapshots
			WHERE account_name = ? GROUP BY asset
		) m ON b.asset = m.asset AND b.bucket_time = m.bucket_time
		WHERE b.account_name = ? ORDER BY b.asset`,
		accountName,
		accountName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []BalanceSnapshot{}
	for rows.Next() {
		var snapshot BalanceSnapshot
		var bucketMs int64
		var amountStr string
		if err := rows.Scan(&snapshot.AccountName, &bucketMs, &snapshot.Asset, &amountStr); err != nil {
			return nil, err
		}
		snapshot.Bucket = time.UnixMilli(bucketMs)
		snapshot.Amount, err = decimal.NewFromString(amountStr)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (self *SqliteStore) DeleteNetWorthSnapshots(accountName string, from time.Time) error {
	_, err := self.db.Exec(
		`DELETE FROM net_worth_snapshots WHERE account_name = ? AND bucket_time >= ?`,
		accountName,
		from.UnixMilli(),
	)
	return err
}

func (self *SqliteStore) UpsertNetWorthSnapshot(snapshot *NetWorthSnapshot) error {
	_, err := self.db.Exec(
		`INSERT INTO net_worth_snapshots (account_name, bucket_time, value) VALUES (?, ?, ?)
		ON CONFLICT (account_name, bucket_time) DO UPDATE SET value = excluded.value`,
		snapshot.AccountName,
		snapshot.Bucket.UnixMilli(),
		snapshot.Value.String(),
	)
	return err
}

func (self *SqliteStore) ListNetWorthSnapshots(accountName string, from time.Time) ([]NetWorthSnapshot, error) {
	rows, err := self.db.Query(
		`SELECT account_name, bucket_time, value FROM net_worth_snapshots
		WHERE account_name = ? AND bucket_time >= ? ORDER BY bucket_time`,
		accountName,
		from.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snapshots := []NetWorthSnapshot{}
	for rows.Next() {
		var snapshot NetWorthSnapshot
		var bucketMs int64
		var valueStr string
		if err := rows.Scan(&snapshot.AccountName, &bucketMs, &valueStr); err != nil {
			return nil, err
		}
		snapshot.Bucket = time.UnixMilli(bucketMs)
		snapshot.Value, err = decimal.NewFromString(valueStr)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

func (self *SqliteStore) DeleteTradeMarks(accountName string, from time.Time) error {
	_, err := self.db.Exec(
		`DELETE FROM trade_marks WHERE account_name = ? AND mark_time >= ?`,
		accountName,
		from.UnixMilli(),
	)
	return err
}

func (self *SqliteStore) UpsertTradeMark(mark *TradeMark) error {
	_, err := self.db.Exec(
		`INSERT INTO trade_marks (transaction_id, account_name, mark_time, asset, cost_basis, profit_loss)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO UPDATE SET cost_basis = excluded.cost_basis, profit_loss = excluded.profit_loss`,
		mark.TransactionId,
		mark.AccountName,
		mark.Time.UnixMilli(),
		mark.Asset,
		mark.CostBasis.String(),
		mark.ProfitLoss.String(),
	)
	return err
}

func (self *SqliteStore) ListTradeMarks(accountName string, from time.Time) ([]TradeMark, error) {
	rows, err := self.db.Query(
		`SELECT transaction_id, account_name, mark_time, asset, cost_basis, profit_loss FROM trade_marks
		WHERE account_name = ? AND mark_time >= ? ORDER BY mark_time, transaction_id`,
		accountName,
		from.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	marks := []TradeMark{}
	for rows.Next() {
		var mark TradeMark
		var markMs int64
		var costBasisStr string
		var profitLossStr string
		if err := rows.Scan(&mark.TransactionId, &mark.AccountName, &markMs, &mark.Asset, &costBasisStr, &profitLossStr); err != nil {
			return nil, err
		}
		mark.Time = time.UnixMilli(markMs)
		mark.CostBasis, err = decimal.NewFromString(costBasisStr)
		if err != nil {
			return nil, err
		}
		mark.ProfitLoss, err = decimal.NewFromString(profitLossStr)
		if err != nil {
			return nil, err
		}
		marks = append(marks, mark)
	}
	return marks, rows.Err()
}

func (self *SqliteStore) UpsertAssetPrice(asset string, bucket time.Time, price decimal.Decimal) error {
	_, err := self.db.Exec(
		`INSERT INTO asset_prices (asset, bucket_time, price) VALUES (?, ?, ?)
		ON CONFLICT (asset, bucket_time) DO UPDATE SET price = excluded.price`,
		asset,
		bucket.UnixMilli(),
		price.String(),
	)
	return err
}

// AssetPriceAt returns the most recent known price at or before the
// bucket.
func (self *SqliteStore) AssetPriceAt(asset string, bucket time.Time) (decimal.Decimal, bool, error) {
	var priceStr string
	err := self.db.QueryRow(
		`SELECT price FROM asset_prices WHERE asset = ? AND bucket_time <= ? ORDER BY bucket_time DESC LIMIT 1`,
		asset,
		bucket.UnixMilli(),
	).Scan(&priceStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, false, err
	}
	return price, true, nil
}

func (self *SqliteStore) GetSetting(accountName string, key string) (string, bool, error) {
	return self.getPair("settings", accountName, key)
}

func (self *SqliteStore) SetSetting(accountName string, key string, value string) error {
	return self.setPair("settings", accountName, key, value)
}

func (self *SqliteStore) GetKeyValue(accountName string, key string) (string, bool, error) {
	return self.getPair("key_values", accountName, key)
}

func (self *SqliteStore) SetKeyValue(accountName string, key string, value string) error {
	return self.setPair("key_values", accountName, key, value)
}

func (self *SqliteStore) getPair(table string, accountName string, key string) (string, bool, error) {
	var value string
	err := self.db.QueryRow(
		fmt.Sprintf(`SELECT value FROM %s WHERE account_name = ? AND key = ?`, table),
		accountName,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (self *SqliteStore) setPair(table string, accountName string, key string, value string) error {
	_, err := self.db.Exec(
		fmt.Sprintf(`INSERT INTO %s (account_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT (account_name, key) DO UPDATE SET value = excluded.value`, table),
		accountName,
		key,
		value,
	)
	return err
}

func (self *SqliteStore) InsertNotification(notification *Notification) error {
	_, err := self.db.Exec(
		`INSERT INTO notifications (id, account_name, message, created_time) VALUES (?, ?, ?, ?)`,
		notification.Id,
		notification.AccountName,
		notification.Message,
		notification.Time.UnixMilli(),
	)
	return err
}

func (self *SqliteStore) ListNotifications(accountName string) ([]Notification, error) {
	rows, err := self.db.Query(
		`SELECT id, account_name, message, created_time FROM notifications
		WHERE account_name = ? ORDER BY created_time DESC`,
		accountName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notifications := []Notification{}
	for rows.Next() {
		var notification Notification
		var createdMs int64
		if err := rows.Scan(&notification.Id, &notification.AccountName, &notification.Message, &createdMs); err != nil {
			return nil, err
		}
		notification.Time = time.UnixMilli(createdMs)
		notifications = append(notifications, notification)
	}
	return notifications, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var transaction Transaction
	var txTimeMs int64
	var txType string
	var amountStr string
	var feeStr string
	var priceStr string
	var spam int
	err := row.Scan(
		&transaction.Id,
		&transaction.AccountName,
		&transaction.Wallet,
		&txTimeMs,
		&txType,
		&transaction.Asset,
		&amountStr,
		&feeStr,
		&priceStr,
		&transaction.Note,
		&spam,
		&transaction.MergedId,
	)
	if err != nil {
		return nil, err
	}
	transaction.Time = time.UnixMilli(txTimeMs)
	transaction.Type = TransactionType(txType)
	transaction.Spam = spam != 0
	if transaction.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, err
	}
	if transaction.Fee, err = decimal.NewFromString(feeStr); err != nil {
		return nil, err
	}
	if transaction.Price, err = decimal.NewFromString(priceStr); err != nil {
		return nil, err
	}
	return &transaction, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
