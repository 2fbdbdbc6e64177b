package ledger

import (
	"context"
	"time"

	"github.com/golang/glog"
)

// window inside which a withdrawal and a deposit count as one transfer
const mergeWindow = 10 * time.Minute

// AutoMergeTransfers pairs a withdrawal from one wallet with an equal
// deposit of the same asset into another wallet within the merge
// window, linking both legs so they read as a single transfer instead
// of a loss plus a gain.
func (self *Computer) AutoMergeTransfers(ctx context.Context, accountName string) error {
	transactions, err := self.store.ListTransactions(accountName, time.Time{})
	if err != nil {
		return err
	}

	merged := 0
	for i := range transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		withdrawal := &transactions[i]
		if withdrawal.Type != TypeWithdrawal || withdrawal.MergedId != "" || withdrawal.Spam {
			continue
		}

		for j := range transactions {
			deposit := &transactions[j]
			if deposit.Type != TypeDeposit || deposit.MergedId != "" || deposit.Spam {
				continue
			}
			if deposit.Asset != withdrawal.Asset || deposit.Wallet == withdrawal.Wallet {
				continue
			}
			if !deposit.Amount.Equal(withdrawal.Amount.Neg()) {
				continue
			}
			delta := deposit.Time.Sub(withdrawal.Time)
			if delta < 0 || mergeWindow < delta {
				continue
			}

			if err := self.store.SetMerged(accountName, withdrawal.Id, deposit.Id); err != nil {
				return err
			}
			if err := self.store.SetMerged(accountName, deposit.Id, withdrawal.Id); err != nil {
				return err
			}
			withdrawal.MergedId = deposit.Id
			deposit.MergedId = withdrawal.Id
			merged += 1
			break
		}
	}
	if 0 < merged {
		glog.Infof("[compute]%s merged %d transfers\n", accountName, merged)
	}
	return nil
}
