package ledger

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// DetectSpam flags unsolicited airdrop-style rows: deposits of an asset
// the account has never traded or paid for, arriving with no fee and no
// known price. Flagged rows are excluded from every derived view.
func (self *Computer) DetectSpam(ctx context.Context, accountName string) error {
	transactions, err := self.store.ListTransactions(accountName, time.Time{})
	if err != nil {
		return err
	}

	// an asset is legitimate once anything but a free deposit touches it
	legitimate := map[string]bool{}
	for i := range transactions {
		transaction := &transactions[i]
		freeDeposit := transaction.Type == TypeDeposit &&
			transaction.Fee.IsZero() &&
			transaction.Price.IsZero()
		if !freeDeposit {
			legitimate[transaction.Asset] = true
		}
	}

	flagged := 0
	for i := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		transaction := &transactions[i]
		if legitimate[transaction.Asset] || transaction.Spam {
			continue
		}
		if err := self.store.SetSpam(accountName, transaction.Id, true); err != nil {
			return err
		}
		flagged += 1
	}
	if 0 < flagged {
		glog.Infof("[compute]%s flagged %d spam transactions\n", accountName, flagged)
	}
	return nil
}
