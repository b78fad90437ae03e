package feed

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/protocols/horizon/effects"

	entity "github.com/dandalion98/mirrorbot/internal/domain"
)

func toAsset(assetType, code, issuer string) entity.Asset {
	if assetType == "native" {
		return entity.NativeAsset()
	}
	return entity.CreditAsset(code, issuer)
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse %s %q", field, raw)
	}
	return amount, nil
}

// mapEffect converts a Horizon effect. Types the mirror does not model map to
// entity.EffectOther and keep their id and paging token.
func mapEffect(e effects.Effect) (entity.Effect, error) {
	switch v := e.(type) {
	case effects.Trade:
		return mapTrade(v)
	case *effects.Trade:
		return mapTrade(*v)
	case effects.AccountCredited:
		return mapTransfer(v.Base, entity.EffectCredited, v.Asset.Type, v.Asset.Code, v.Asset.Issuer, v.Amount)
	case *effects.AccountCredited:
		return mapTransfer(v.Base, entity.EffectCredited, v.Asset.Type, v.Asset.Code, v.Asset.Issuer, v.Amount)
	case effects.AccountDebited:
		return mapTransfer(v.Base, entity.EffectDebited, v.Asset.Type, v.Asset.Code, v.Asset.Issuer, v.Amount)
	case *effects.AccountDebited:
		return mapTransfer(v.Base, entity.EffectDebited, v.Asset.Type, v.Asset.Code, v.Asset.Issuer, v.Amount)
	case effects.AccountCreated:
		return mapTransfer(v.Base, entity.EffectAccountCreated, "native", "", "", v.StartingBalance)
	case *effects.AccountCreated:
		return mapTransfer(v.Base, entity.EffectAccountCreated, "native", "", "", v.StartingBalance)
	default:
		return entity.Effect{
			ID:          e.GetID(),
			PagingToken: e.PagingToken(),
			Kind:        entity.EffectOther,
		}, nil
	}
}

func mapTrade(t effects.Trade) (entity.Effect, error) {
	sold, err := parseAmount("sold_amount", t.SoldAmount)
	if err != nil {
		return entity.Effect{}, err
	}
	bought, err := parseAmount("bought_amount", t.BoughtAmount)
	if err != nil {
		return entity.Effect{}, err
	}

	return entity.Effect{
		ID:           t.ID,
		PagingToken:  t.PT,
		Kind:         entity.EffectTrade,
		Account:      t.Account,
		ClosedAt:     t.LedgerCloseTime,
		SoldAsset:    toAsset(t.SoldAssetType, t.SoldAssetCode, t.SoldAssetIssuer),
		SoldAmount:   sold,
		BoughtAsset:  toAsset(t.BoughtAssetType, t.BoughtAssetCode, t.BoughtAssetIssuer),
		BoughtAmount: bought,
	}, nil
}

func mapTransfer(b effects.Base, kind entity.EffectKind, assetType, code, issuer, rawAmount string) (entity.Effect, error) {
	amount, err := parseAmount("amount", rawAmount)
	if err != nil {
		return entity.Effect{}, err
	}

	return entity.Effect{
		ID:          b.ID,
		PagingToken: b.PT,
		Kind:        kind,
		Account:     b.Account,
		ClosedAt:    b.LedgerCloseTime,
		Asset:       toAsset(assetType, code, issuer),
		Amount:      amount,
	}, nil
}

// mapEffects converts records in order. A record that cannot be parsed fails
// the whole page: balances reconstructed across a gap would be wrong.
func mapEffects(records []effects.Effect) ([]entity.Effect, error) {
	out := make([]entity.Effect, 0, len(records))
	for _, r := range records {
		e, err := mapEffect(r)
		if err != nil {
			return nil, errors.Wrapf(err, "effect %s", r.GetID())
		}
		out = append(out, e)
	}
	return out, nil
}
