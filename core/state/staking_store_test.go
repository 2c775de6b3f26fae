package state

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stakeledger/native/bank"
	"stakeledger/native/staking"
	"stakeledger/storage"
)

var (
	testOwner     = common.HexToAddress("0x0f")
	testCustody   = common.HexToAddress("0xc0")
	testPrincipal = common.HexToAddress("0x50")
	testReward    = common.HexToAddress("0xa1")
	testStaker    = common.HexToAddress("0x01")
)

func TestStakingStoreRoundTrip(t *testing.T) {
	store := NewStakingStore(storage.NewMemDB())

	_, ok, err := store.StakingGlobals()
	require.NoError(t, err)
	require.False(t, ok)
	version, err := store.Version()
	require.NoError(t, err)
	require.Zero(t, version)

	pos := staking.NewPosition(testStaker)
	pos.Principal = big.NewInt(42)
	pos.Paid[testReward] = big.NewInt(7)
	pos.Pending[testReward] = big.NewInt(3)
	pos.Pending[testPrincipal] = big.NewInt(1)

	require.NoError(t, store.StakingApply(&staking.ChangeSet{
		Globals: &staking.Globals{
			TotalStaked:  big.NewInt(42),
			FeeBps:       250,
			Treasury:     testOwner,
			Owner:        testOwner,
			RewardTokens: []common.Address{testReward},
			KnownTokens:  []common.Address{testReward},
		},
		Accumulators: []*staking.Accumulator{{
			Token:              testReward,
			RatePerPeriod:      big.NewInt(1_000),
			AccumulatedPerUnit: big.NewInt(99),
			LastCheckpoint:     1234,
		}},
		Positions: []*staking.Position{pos},
	}))

	g, ok, err := store.StakingGlobals()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", g.TotalStaked.String())
	require.EqualValues(t, 250, g.FeeBps)
	require.Equal(t, []common.Address{testReward}, g.RewardTokens)

	acc, ok, err := store.StakingAccumulator(testReward)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "99", acc.AccumulatedPerUnit.String())
	require.EqualValues(t, 1234, acc.LastCheckpoint)

	loaded, ok, err := store.StakingPosition(testStaker)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "42", loaded.Principal.String())
	require.Equal(t, "7", loaded.PaidFor(testReward).String())
	require.Equal(t, "3", loaded.PendingFor(testReward).String())
	require.Equal(t, "1", loaded.PendingFor(testPrincipal).String())

	version, err = store.Version()
	require.NoError(t, err)
	require.Equal(t, StakingStoreVersion, version)

	_, ok, err = store.StakingPosition(common.HexToAddress("0x99"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, store.StakingApply(&staking.ChangeSet{}))
}

func TestStakingStoreBacksEngineAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	now := uint64(10_000)

	open := func() (storage.Database, *staking.Engine) {
		db, err := storage.NewLevelDB(dir)
		require.NoError(t, err)
		engine, err := staking.NewEngine(staking.Config{PrincipalToken: testPrincipal, Custody: testCustody, PeriodSeconds: 100})
		require.NoError(t, err)
		engine.SetState(NewStakingStore(db))
		engine.SetTokenLedger(bank.NewLedger(db))
		engine.SetNowFunc(func() uint64 { return now })
		return db, engine
	}

	db, engine := open()
	ledger := bank.NewLedger(db)
	require.NoError(t, engine.Initialize(testOwner, common.Address{}))
	require.NoError(t, ledger.Mint(testPrincipal, testStaker, big.NewInt(50)))
	require.NoError(t, ledger.Mint(testReward, testCustody, big.NewInt(1_000_000)))
	require.NoError(t, engine.ReplaceRewardConfig(testOwner, []common.Address{testReward}, []*big.Int{big.NewInt(500)}))
	_, err := engine.Stake(testStaker, big.NewInt(50))
	require.NoError(t, err)
	db.Close()

	now += 100
	db, engine = open()
	defer db.Close()

	total, err := engine.TotalStaked()
	require.NoError(t, err)
	require.Equal(t, "50", total.String())
	treasury, err := engine.Treasury()
	require.NoError(t, err)
	require.Equal(t, testOwner, treasury)

	claims, err := engine.ClaimReward(testStaker)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "500", claims[0].Net.String())

	balance, err := bank.NewLedger(db).BalanceOf(testReward, testStaker)
	require.NoError(t, err)
	require.Equal(t, "500", balance.String())
}
