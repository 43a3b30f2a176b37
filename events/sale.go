package events

import "github.com/tolelom/tolmarket/core"

// SaleFromEvent extracts the completed trade from a bought or bid_accepted
// event. It only understands events emitted in-process, where numeric fields
// keep their uint64 type.
func SaleFromEvent(ev Event) (core.Sale, bool) {
	var kind core.SaleKind
	switch ev.Type {
	case EventBought:
		kind = core.SaleOffer
	case EventBidAccepted:
		kind = core.SaleBid
	default:
		return core.Sale{}, false
	}
	item, _ := ev.Data["item_id"].(string)
	seller, _ := ev.Data["seller"].(string)
	buyer, _ := ev.Data["buyer"].(string)
	value, ok := ev.Data["value"].(uint64)
	if item == "" || seller == "" || buyer == "" || !ok {
		return core.Sale{}, false
	}
	return core.Sale{
		ItemID: item,
		Seller: seller,
		Buyer:  buyer,
		Value:  value,
		Kind:   kind,
		TxID:   ev.TxID,
		Time:   ev.Time,
	}, true
}
