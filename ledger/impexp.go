package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// csv column layout for generic imports
var importHeader = []string{"time", "type", "asset", "amount", "fee", "price", "wallet", "note"}

// ParseCSV turns rows into transactions for one account. Pure: nothing
// is written; the caller inserts and raises the audit-log events. The
// fee, price, wallet and note columns may be empty.
func ParseCSV(r io.Reader, accountName string) ([]Transaction, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}
	if len(header) < len(importHeader) {
		return nil, fmt.Errorf("csv header: expected %d columns, got %d", len(importHeader), len(header))
	}
	for i, name := range importHeader {
		if !strings.EqualFold(strings.TrimSpace(header[i]), name) {
			return nil, fmt.Errorf("csv header: column %d is %q, expected %q", i, header[i], name)
		}
	}

	transactions := []Transaction{}
	for line := 2; ; line += 1 {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}

		txTime, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: time: %w", line, err)
		}
		txType := TransactionType(strings.ToLower(strings.TrimSpace(record[1])))
		switch txType {
		case TypeTrade, TypeDeposit, TypeWithdrawal, TypeTransfer:
		default:
			return nil, fmt.Errorf("csv line %d: unknown type %q", line, record[1])
		}
		amount, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: amount: %w", line, err)
		}
		fee, err := optionalDecimal(record[4])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: fee: %w", line, err)
		}
		price, err := optionalDecimal(record[5])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: price: %w", line, err)
		}

		transactions = append(transactions, Transaction{
			Id:          ulid.Make().String(),
			AccountName: accountName,
			Wallet:      strings.TrimSpace(record[6]),
			Time:        txTime,
			Type:        txType,
			Asset:       strings.ToUpper(strings.TrimSpace(record[2])),
			Amount:      amount,
			Fee:         fee,
			Price:       price,
			Note:        record[7],
		})
	}
	return transactions, nil
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
