package contract

import "github.com/alanyoungcy/sbtcoptions/internal/domain"

// setOracleAddress replaces the authorized price updater. Owner only.
func (c *Contract) setOracleAddress(t *txn, _ domain.Principal, args []domain.Value) (domain.Value, error) {
	next, err := args[0].AsPrincipal()
	if err != nil {
		return domain.Value{}, err
	}
	prev := t.oracle.Updater
	t.oracle.Updater = next
	t.emit(domain.NewEvent(domain.EventOracleChanged,
		"previous", prev.String(),
		"updater", next.String(),
	))
	return domain.Bool(true), nil
}
