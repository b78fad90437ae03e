package trader

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/price"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStellarTrader(t *testing.T, api *horizonclient.MockClient) (*StellarTrader, *keypair.Full) {
	t.Helper()
	kp := keypair.MustRandom()
	trader, err := NewStellarTrader(zap.NewNop(), api, kp.Seed(), network.TestNetworkPassphrase)
	require.NoError(t, err)
	return trader, kp
}

func TestStellarTrader_CreateOffer(t *testing.T) {
	api := &horizonclient.MockClient{}
	trader, kp := newTestStellarTrader(t, api)

	api.On("AccountDetail", horizonclient.AccountRequest{AccountID: kp.Address()}).
		Return(hProtocol.Account{AccountID: kp.Address()}, nil)

	wantPrice, err := price.Parse("1.9900000")
	require.NoError(t, err)

	api.On("SubmitTransaction", mock.MatchedBy(func(tx *txnbuild.Transaction) bool {
		ops := tx.Operations()
		if len(ops) != 1 {
			return false
		}
		op, ok := ops[0].(*txnbuild.ManageSellOffer)
		if !ok {
			return false
		}
		selling, ok := op.Selling.(txnbuild.CreditAsset)
		return ok && selling.Code == "USD" && selling.Issuer == issuer &&
			op.Buying.IsNative() && op.Amount == "5.0000000" && op.Price == wantPrice && op.OfferID == 0
	})).Return(hProtocol.Transaction{Hash: "abc"}, nil).Once()

	result, err := trader.CreateOffer(context.Background(), testOrder("5", "1.99"))
	require.NoError(t, err)
	assert.Equal(t, "abc", result.TxHash)
	api.AssertExpectations(t)
}

func TestStellarTrader_CreateOfferNotRetried(t *testing.T) {
	api := &horizonclient.MockClient{}
	trader, kp := newTestStellarTrader(t, api)

	api.On("AccountDetail", horizonclient.AccountRequest{AccountID: kp.Address()}).
		Return(hProtocol.Account{AccountID: kp.Address()}, nil)
	api.On("SubmitTransaction", mock.Anything).Return(hProtocol.Transaction{}, errors.New("timeout")).Once()

	_, err := trader.CreateOffer(context.Background(), testOrder("5", "1.99"))
	require.Error(t, err)
	api.AssertNumberOfCalls(t, "SubmitTransaction", 1)
}

func TestStellarTrader_DeleteAllOffers(t *testing.T) {
	api := &horizonclient.MockClient{}
	trader, kp := newTestStellarTrader(t, api)

	var page hProtocol.OffersPage
	page.Embedded.Records = []hProtocol.Offer{{ID: 101}, {ID: 102}}

	api.On("Offers", horizonclient.OfferRequest{ForAccount: kp.Address(), Limit: offersPageLimit}).Return(page, nil)
	api.On("AccountDetail", horizonclient.AccountRequest{AccountID: kp.Address()}).
		Return(hProtocol.Account{AccountID: kp.Address()}, nil)
	api.On("SubmitTransaction", mock.MatchedBy(func(tx *txnbuild.Transaction) bool {
		ops := tx.Operations()
		if len(ops) != 2 {
			return false
		}
		for i, id := range []int64{101, 102} {
			op, ok := ops[i].(*txnbuild.ManageSellOffer)
			if !ok || op.OfferID != id || op.Amount != "0" {
				return false
			}
		}
		return true
	})).Return(hProtocol.Transaction{Hash: "del"}, nil).Once()

	require.NoError(t, trader.DeleteAllOffers(context.Background()))
	api.AssertExpectations(t)
}

func TestStellarTrader_DeleteWithoutOffers(t *testing.T) {
	api := &horizonclient.MockClient{}
	trader, kp := newTestStellarTrader(t, api)

	api.On("Offers", horizonclient.OfferRequest{ForAccount: kp.Address(), Limit: offersPageLimit}).
		Return(hProtocol.OffersPage{}, nil)

	require.NoError(t, trader.DeleteAllOffers(context.Background()))
	api.AssertNotCalled(t, "SubmitTransaction", mock.Anything)
}

func TestNewStellarTrader_InvalidSeed(t *testing.T) {
	_, err := NewStellarTrader(zap.NewNop(), &horizonclient.MockClient{}, "not-a-seed", network.TestNetworkPassphrase)
	require.Error(t, err)
}
