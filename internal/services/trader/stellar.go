// Package trader places and cancels offers for the source account.
package trader

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/price"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

const (
	// txTimeout seconds a signed transaction stays valid.
	txTimeout = 300

	// maxOpsPerTx protocol limit of operations in one transaction.
	maxOpsPerTx     = 100
	offersPageLimit = 200
)

type horizonSubmitter interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	Offers(request horizonclient.OfferRequest) (hProtocol.OffersPage, error)
	SubmitTransaction(transaction *txnbuild.Transaction) (hProtocol.Transaction, error)
}

// StellarTrader signs and submits manage-sell-offer transactions for one account.
// Submissions are serialized so sequence numbers never collide.
type StellarTrader struct {
	api        horizonSubmitter
	kp         *keypair.Full
	passphrase string
	l          *zap.Logger

	mu sync.Mutex
}

// NewStellarTrader creates a trader signing with seed on the network identified by passphrase.
func NewStellarTrader(l *zap.Logger, api horizonSubmitter, seed, passphrase string) (*StellarTrader, error) {
	if api == nil {
		return nil, errors.New("horizon client is required")
	}
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, errors.Wrap(err, "parse source seed")
	}
	if passphrase == "" {
		return nil, errors.New("network passphrase is required")
	}
	if l == nil {
		l = zap.NewNop()
	}

	return &StellarTrader{
		api:        api,
		kp:         kp,
		passphrase: passphrase,
		l:          l.With(zap.String("account", kp.Address())),
	}, nil
}

// Address returns the public key of the signing account.
func (t *StellarTrader) Address() string {
	return t.kp.Address()
}

// CreateOffer submits order as a new sell offer. It is never retried: a failed
// submission may still have reached the network.
func (t *StellarTrader) CreateOffer(ctx context.Context, order entity.OrderSpec) (entity.OfferResult, error) {
	p, err := price.Parse(order.PriceString())
	if err != nil {
		return entity.OfferResult{}, errors.Wrapf(err, "parse price %s", order.PriceString())
	}

	op := &txnbuild.ManageSellOffer{
		Selling: toTxnAsset(order.Selling),
		Buying:  toTxnAsset(order.Buying),
		Amount:  order.AmountString(),
		Price:   p,
	}

	resp, err := t.submit(ctx, []txnbuild.Operation{op})
	if err != nil {
		return entity.OfferResult{}, errors.Wrapf(err, "create offer %s", order.String())
	}

	return entity.OfferResult{TxHash: resp.Hash}, nil
}

// DeleteAllOffers cancels every open offer of the account.
func (t *StellarTrader) DeleteAllOffers(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	page, err := t.api.Offers(horizonclient.OfferRequest{ForAccount: t.kp.Address(), Limit: offersPageLimit})
	if err != nil {
		return errors.Wrap(err, "list open offers")
	}
	records := page.Embedded.Records
	if len(records) == 0 {
		t.l.Debug("no open offers to delete")
		return nil
	}

	for start := 0; start < len(records); start += maxOpsPerTx {
		end := min(start+maxOpsPerTx, len(records))

		ops := make([]txnbuild.Operation, 0, end-start)
		for _, offer := range records[start:end] {
			op := txnbuild.DeleteOfferOp(offer.ID)
			ops = append(ops, &op)
		}

		resp, err := t.submit(ctx, ops)
		if err != nil {
			return errors.Wrapf(err, "delete %d offers", len(ops))
		}
		t.l.Info("offers deleted", zap.Int("count", len(ops)), zap.String("tx", resp.Hash))
	}

	return nil
}

func (t *StellarTrader) submit(ctx context.Context, ops []txnbuild.Operation) (hProtocol.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return hProtocol.Transaction{}, err
	}

	acct, err := t.api.AccountDetail(horizonclient.AccountRequest{AccountID: t.kp.Address()})
	if err != nil {
		return hProtocol.Transaction{}, errors.Wrap(err, "load source account")
	}

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &acct,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              txnbuild.MinBaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(txTimeout)},
	})
	if err != nil {
		return hProtocol.Transaction{}, errors.Wrap(err, "build transaction")
	}

	tx, err = tx.Sign(t.passphrase, t.kp)
	if err != nil {
		return hProtocol.Transaction{}, errors.Wrap(err, "sign transaction")
	}

	resp, err := t.api.SubmitTransaction(tx)
	if err != nil {
		return hProtocol.Transaction{}, withResultCodes(err)
	}

	return resp, nil
}

// withResultCodes adds the transaction and operation result codes Horizon reports on rejection.
func withResultCodes(err error) error {
	herr := horizonclient.GetError(err)
	if herr == nil {
		return errors.Wrap(err, "submit transaction")
	}
	codes, cerr := herr.ResultCodes()
	if cerr != nil || codes == nil {
		return errors.Wrap(err, "submit transaction")
	}
	return errors.Wrapf(err, "submit transaction: %s %v", codes.TransactionCode, codes.OperationCodes)
}

func toTxnAsset(a entity.Asset) txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}
