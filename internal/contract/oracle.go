package contract

import (
	"strconv"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

// updateBTCPrice stores a new reference price. Zero is accepted and there
// is no upper bound.
func (c *Contract) updateBTCPrice(t *txn, _ domain.Principal, args []domain.Value) (domain.Value, error) {
	price, err := args[0].AsUint()
	if err != nil {
		return domain.Value{}, err
	}
	t.oracle.Price = price
	t.oracle.UpdatedHeight = t.height()
	t.emit(domain.NewEvent(domain.EventPriceUpdated,
		"price", strconv.FormatUint(price, 10),
	))
	return domain.Bool(true), nil
}
