package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/sbtcoptions/internal/domain"
)

var (
	//go:embed scripts/custody_debit.lua
	custodyDebitLua string
	//go:embed scripts/custody_credit.lua
	custodyCreditLua string
)

// CustodyVault implements domain.Custody on Redis. Wallet balances live in
// one hash and the contract's held amount in a counter; both move together
// inside a Lua script.
type CustodyVault struct {
	rdb        *redis.Client
	walletsKey string
	heldKey    string
	debit      *redis.Script
	credit     *redis.Script
}

// NewCustodyVault creates a vault under the "custody:{namespace}:" prefix.
func NewCustodyVault(c *Client, namespace string) *CustodyVault {
	prefix := "custody:" + namespace + ":"
	return &CustodyVault{
		rdb:        c.Underlying(),
		walletsKey: prefix + "wallets",
		heldKey:    prefix + "held",
		debit:      redis.NewScript(custodyDebitLua),
		credit:     redis.NewScript(custodyCreditLua),
	}
}

func checkAmount(amount uint64) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("redis: custody amount %d exceeds int64", amount)
	}
	return nil
}

// Fund adds amount to a wallet (faucet for simulation and tests).
func (v *CustodyVault) Fund(ctx context.Context, account domain.Principal, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if err := v.rdb.HIncrBy(ctx, v.walletsKey, account.String(), int64(amount)).Err(); err != nil {
		return fmt.Errorf("redis: fund %s: %w", account, err)
	}
	return nil
}

// Debit moves amount from the wallet into custody.
func (v *CustodyVault) Debit(ctx context.Context, account domain.Principal, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	n := strconv.FormatUint(amount, 10)
	ok, err := v.debit.Run(ctx, v.rdb, []string{v.walletsKey, v.heldKey}, account.String(), n, "-"+n).Int()
	if err != nil {
		return fmt.Errorf("redis: custody debit %s: %w", account, err)
	}
	if ok != 1 {
		return fmt.Errorf("redis: custody debit %s %d: %w", account, amount, domain.ErrInsufficient)
	}
	return nil
}

// Credit pays amount from custody into the wallet.
func (v *CustodyVault) Credit(ctx context.Context, account domain.Principal, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	ok, err := v.credit.Run(ctx, v.rdb, []string{v.walletsKey, v.heldKey}, account.String(), strconv.FormatUint(amount, 10)).Int()
	if err != nil {
		return fmt.Errorf("redis: custody credit %s: %w", account, err)
	}
	if ok != 1 {
		return fmt.Errorf("redis: custody credit %s %d: %w", account, amount, domain.ErrInsufficient)
	}
	return nil
}

// Balance returns the wallet balance; unknown wallets hold zero.
func (v *CustodyVault) Balance(ctx context.Context, account domain.Principal) (uint64, error) {
	bal, err := v.rdb.HGet(ctx, v.walletsKey, account.String()).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: custody balance %s: %w", account, err)
	}
	return bal, nil
}

// Held returns the amount in contract custody.
func (v *CustodyVault) Held(ctx context.Context) (uint64, error) {
	held, err := v.rdb.Get(ctx, v.heldKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis: custody held: %w", err)
	}
	return held, nil
}

var (
	_ domain.Custody         = (*CustodyVault)(nil)
	_ domain.CustodyReporter = (*CustodyVault)(nil)
)
