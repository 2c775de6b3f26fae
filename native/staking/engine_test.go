package staking

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/events"
	"stakeledger/native/bank"
	"stakeledger/storage"
)

var (
	ownerAddr     = common.HexToAddress("0x0f")
	treasuryAddr  = common.HexToAddress("0x0e")
	custodyAddr   = common.HexToAddress("0xc0")
	principalAddr = common.HexToAddress("0x50")
	rewardA       = common.HexToAddress("0xa1")
	rewardB       = common.HexToAddress("0xa2")
	alice         = common.HexToAddress("0x01")
	bob           = common.HexToAddress("0x02")
)

type mockEngineState struct {
	globals   *Globals
	accs      map[common.Address]*Accumulator
	positions map[common.Address]*Position
	applyErr  error
	applies   int
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		accs:      make(map[common.Address]*Accumulator),
		positions: make(map[common.Address]*Position),
	}
}

func (m *mockEngineState) StakingGlobals() (*Globals, bool, error) {
	if m.globals == nil {
		return nil, false, nil
	}
	return m.globals.Clone(), true, nil
}

func (m *mockEngineState) StakingAccumulator(token common.Address) (*Accumulator, bool, error) {
	acc, ok := m.accs[token]
	if !ok {
		return nil, false, nil
	}
	return acc.Clone(), true, nil
}

func (m *mockEngineState) StakingPosition(addr common.Address) (*Position, bool, error) {
	pos, ok := m.positions[addr]
	if !ok {
		return nil, false, nil
	}
	return pos.Clone(), true, nil
}

func (m *mockEngineState) StakingApply(cs *ChangeSet) error {
	if m.applyErr != nil {
		return m.applyErr
	}
	m.applies++
	if cs.Globals != nil {
		m.globals = cs.Globals.Clone()
	}
	for _, acc := range cs.Accumulators {
		m.accs[acc.Token] = acc.Clone()
	}
	for _, pos := range cs.Positions {
		m.positions[pos.Account] = pos.Clone()
	}
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	t       *testing.T
	engine  *Engine
	state   *mockEngineState
	bank    *bank.Ledger
	emitter *recordingEmitter
	now     uint64
}

func newFixture(t *testing.T, period uint64) *fixture {
	t.Helper()
	engine, err := NewEngine(Config{PrincipalToken: principalAddr, Custody: custodyAddr, PeriodSeconds: period})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f := &fixture{
		t:       t,
		engine:  engine,
		state:   newMockEngineState(),
		bank:    bank.NewLedger(storage.NewMemDB()),
		emitter: &recordingEmitter{},
		now:     1_000,
	}
	engine.SetState(f.state)
	engine.SetTokenLedger(f.bank)
	engine.SetEmitter(f.emitter)
	engine.SetNowFunc(func() uint64 { return f.now })
	if err := engine.Initialize(ownerAddr, treasuryAddr); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return f
}

func (f *fixture) mint(token, holder common.Address, amount *big.Int) {
	f.t.Helper()
	if err := f.bank.Mint(token, holder, amount); err != nil {
		f.t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) balance(token, holder common.Address) *big.Int {
	f.t.Helper()
	bal, err := f.bank.BalanceOf(token, holder)
	if err != nil {
		f.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) configure(tokens []common.Address, rates ...*big.Int) {
	f.t.Helper()
	if err := f.engine.ReplaceRewardConfig(ownerAddr, tokens, rates); err != nil {
		f.t.Fatalf("replace reward config: %v", err)
	}
}

func (f *fixture) stake(addr common.Address, amount int64) {
	f.t.Helper()
	if _, err := f.engine.Stake(addr, big.NewInt(amount)); err != nil {
		f.t.Fatalf("stake: %v", err)
	}
}

func (f *fixture) claim(addr common.Address) map[common.Address]*big.Int {
	f.t.Helper()
	claims, err := f.engine.ClaimReward(addr)
	if err != nil {
		f.t.Fatalf("claim: %v", err)
	}
	out := make(map[common.Address]*big.Int, len(claims))
	for _, c := range claims {
		out[c.Token] = c.Gross
	}
	return out
}

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid big int %q", value)
	}
	return v
}

func expectAmount(t *testing.T, label string, got *big.Int, want string) {
	t.Helper()
	if got == nil || got.String() != want {
		t.Fatalf("%s: expected %s, got %v", label, want, got)
	}
}

func TestTwoStakerScenario(t *testing.T) {
	f := newFixture(t, DefaultPeriodSeconds)
	oneEther := mustBig(t, "1000000000000000000")
	f.mint(principalAddr, alice, big.NewInt(100))
	f.mint(principalAddr, bob, big.NewInt(100))
	f.mint(rewardA, custodyAddr, new(big.Int).Mul(oneEther, big.NewInt(10)))
	f.configure([]common.Address{rewardA}, oneEther)

	f.stake(alice, 50)
	f.stake(bob, 100)
	total, _ := f.engine.TotalStaked()
	expectAmount(t, "total", total, "150")

	f.now += DefaultPeriodSeconds
	expectAmount(t, "alice first claim", f.claim(alice)[rewardA], "333333333333333333")
	expectAmount(t, "bob first claim", f.claim(bob)[rewardA], "666666666666666666")
	expectAmount(t, "alice wallet", f.balance(rewardA, alice), "333333333333333333")

	if err := f.engine.UpdateRatePerPeriod(ownerAddr, []*big.Int{new(big.Int).Mul(oneEther, big.NewInt(2))}); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	f.stake(alice, 50)

	f.now += DefaultPeriodSeconds
	expectAmount(t, "alice second claim", f.claim(alice)[rewardA], oneEther.String())
	expectAmount(t, "bob second claim", f.claim(bob)[rewardA], oneEther.String())
	expectAmount(t, "bob wallet", f.balance(rewardA, bob), "1666666666666666666")
	if got := f.emitter.count(events.TypeRewardClaimed); got != 4 {
		t.Fatalf("expected 4 claim events, got %d", got)
	}
}

func TestRateChangeTruncatesPerSegment(t *testing.T) {
	f := newFixture(t, 7)
	f.mint(principalAddr, alice, big.NewInt(3))
	f.mint(rewardA, custodyAddr, big.NewInt(1_000))
	f.configure([]common.Address{rewardA}, big.NewInt(10))
	f.stake(alice, 3)

	f.now += 3
	if err := f.engine.UpdateRatePerPeriod(ownerAddr, []*big.Int{big.NewInt(20)}); err != nil {
		t.Fatalf("update rate: %v", err)
	}
	acc, err := f.engine.AccumulatorOf(rewardA)
	if err != nil {
		t.Fatalf("accumulator: %v", err)
	}
	// floor(3*10/7)=4 then floor(4e18/3).
	expectAmount(t, "first segment", acc.AccumulatedPerUnit, "1333333333333333333")

	f.now += 4
	// floor(4*20/7)=11, floor(11e18/3) added, then floor(3*acc/1e18).
	expectAmount(t, "claim", f.claim(alice)[rewardA], "14")
}

func TestZeroStakeFreeze(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))
	f.mint(rewardA, custodyAddr, big.NewInt(1_000_000))
	f.configure([]common.Address{rewardA}, big.NewInt(1_000))

	f.now += 10_000
	preview, err := f.engine.PreviewClaim(alice)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	expectAmount(t, "preview while empty", preview[0].Amount, "0")

	f.stake(alice, 10)
	acc, _ := f.engine.AccumulatorOf(rewardA)
	if acc.AccumulatedPerUnit.Sign() != 0 {
		t.Fatalf("accumulator advanced while nothing was staked: %s", acc.AccumulatedPerUnit)
	}
	if acc.LastCheckpoint != f.now {
		t.Fatalf("checkpoint not moved: %d", acc.LastCheckpoint)
	}

	f.now += 100
	expectAmount(t, "claim after one period", f.claim(alice)[rewardA], "1000")

	if _, err := f.engine.Unstake(alice, big.NewInt(10)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	before, _ := f.engine.AccumulatorOf(rewardA)
	f.now += 5_000
	preview, _ = f.engine.PreviewClaim(alice)
	expectAmount(t, "preview after exit", preview[0].Amount, "0")
	if err := f.engine.SetFee(ownerAddr, 10); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	after, _ := f.engine.AccumulatorOf(rewardA)
	if after.AccumulatedPerUnit.Cmp(before.AccumulatedPerUnit) != 0 {
		t.Fatalf("accumulator moved with zero stake: %s -> %s", before.AccumulatedPerUnit, after.AccumulatedPerUnit)
	}
}

func TestStakeUnstakeRoundTripYieldsNothing(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(500))
	f.mint(principalAddr, bob, big.NewInt(40))
	f.mint(rewardA, custodyAddr, big.NewInt(1_000_000))
	f.configure([]common.Address{rewardA}, big.NewInt(1_000))
	f.stake(bob, 40)
	f.now += 50

	before, _ := f.engine.TotalStaked()
	f.stake(alice, 500)
	if _, err := f.engine.Unstake(alice, big.NewInt(500)); err != nil {
		t.Fatalf("unstake: %v", err)
	}
	after, _ := f.engine.TotalStaked()
	if before.Cmp(after) != 0 {
		t.Fatalf("total not restored: %s -> %s", before, after)
	}
	expectAmount(t, "alice wallet", f.balance(principalAddr, alice), "500")
	if claims := f.claim(alice); len(claims) != 0 {
		t.Fatalf("expected no rewards, got %v", claims)
	}
	expectAmount(t, "bob reward", f.claim(bob)[rewardA], "500")
}

func TestStakeRejections(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))

	if _, err := f.engine.Stake(alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := f.engine.Stake(alice, nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	if _, err := f.engine.Stake(alice, big.NewInt(11)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := f.engine.Stake(alice, huge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow, got %v", err)
	}
	if _, err := f.engine.Unstake(alice, big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount on unstake, got %v", err)
	}
	f.stake(alice, 10)
	if _, err := f.engine.Unstake(alice, big.NewInt(11)); !errors.Is(err, ErrInsufficientPrincipal) {
		t.Fatalf("expected ErrInsufficientPrincipal, got %v", err)
	}
	principal, _ := f.engine.PrincipalOf(alice)
	expectAmount(t, "principal", principal, "10")
	if f.emitter.count(events.TypeStaked) != 1 || f.emitter.count(events.TypeUnstaked) != 0 {
		t.Fatalf("unexpected events: %+v", f.emitter.events)
	}
}

func TestConfigurationGateRejections(t *testing.T) {
	f := newFixture(t, 100)
	f.configure([]common.Address{rewardA}, big.NewInt(5))

	if err := f.engine.ReplaceRewardConfig(alice, []common.Address{rewardB}, []*big.Int{big.NewInt(1)}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("replace: expected ErrNotOwner, got %v", err)
	}
	if err := f.engine.UpdateRatePerPeriod(alice, []*big.Int{big.NewInt(1)}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("update: expected ErrNotOwner, got %v", err)
	}
	if err := f.engine.SetFee(alice, 1); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("fee: expected ErrNotOwner, got %v", err)
	}
	if err := f.engine.SetTreasury(alice, bob); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("treasury: expected ErrNotOwner, got %v", err)
	}
	if err := f.engine.TransferOwnership(alice, alice); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("ownership: expected ErrNotOwner, got %v", err)
	}

	if err := f.engine.ReplaceRewardConfig(ownerAddr, []common.Address{rewardA, rewardB}, []*big.Int{big.NewInt(1)}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("replace: expected ErrInvalidLength, got %v", err)
	}
	if err := f.engine.UpdateRatePerPeriod(ownerAddr, []*big.Int{big.NewInt(1), big.NewInt(2)}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("update: expected ErrInvalidLength, got %v", err)
	}
	if err := f.engine.ReplaceRewardConfig(ownerAddr, []common.Address{rewardA, rewardA}, []*big.Int{big.NewInt(1), big.NewInt(1)}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("replace duplicate: expected ErrInvalidAddress, got %v", err)
	}
	if err := f.engine.ReplaceRewardConfig(ownerAddr, []common.Address{{}}, []*big.Int{big.NewInt(1)}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("replace null: expected ErrInvalidAddress, got %v", err)
	}
	if err := f.engine.ReplaceRewardConfig(ownerAddr, []common.Address{rewardB, principalAddr}, []*big.Int{big.NewInt(1), big.NewInt(500)}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("replace principal token: expected ErrInvalidAddress, got %v", err)
	}
	if err := f.engine.ReplaceRewardConfig(ownerAddr, []common.Address{rewardB}, []*big.Int{big.NewInt(-1)}); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("replace negative rate: expected ErrInvalidAmount, got %v", err)
	}
	if err := f.engine.SetFee(ownerAddr, MaxFeeBps+1); !errors.Is(err, ErrFeeExceedsLimit) {
		t.Fatalf("fee: expected ErrFeeExceedsLimit, got %v", err)
	}
	if err := f.engine.SetFee(ownerAddr, MaxFeeBps); err != nil {
		t.Fatalf("fee at cap: %v", err)
	}
	if err := f.engine.SetTreasury(ownerAddr, common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("treasury: expected ErrInvalidAddress, got %v", err)
	}
	if err := f.engine.TransferOwnership(ownerAddr, common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("ownership: expected ErrInvalidAddress, got %v", err)
	}

	tokens, _ := f.engine.RewardTokens()
	if len(tokens) != 1 || tokens[0].Token != rewardA || tokens[0].RatePerPeriod.Int64() != 5 {
		t.Fatalf("reward config changed by rejected calls: %+v", tokens)
	}
	fee, _ := f.engine.FeeBps()
	if fee != MaxFeeBps {
		t.Fatalf("unexpected fee %d", fee)
	}
}

func TestOwnershipAndTreasury(t *testing.T) {
	f := newFixture(t, 100)
	if !f.engine.IsOwner(ownerAddr) || f.engine.IsOwner(alice) {
		t.Fatalf("unexpected owner predicate")
	}
	if err := f.engine.SetTreasury(ownerAddr, bob); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if treasury, _ := f.engine.Treasury(); treasury != bob {
		t.Fatalf("unexpected treasury %s", treasury.Hex())
	}
	if err := f.engine.TransferOwnership(ownerAddr, alice); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := f.engine.SetFee(ownerAddr, 1); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("previous owner should be rejected, got %v", err)
	}
	if err := f.engine.SetFee(alice, 1); err != nil {
		t.Fatalf("new owner set fee: %v", err)
	}
	if f.emitter.count(events.TypeOwnershipTransferred) != 1 || f.emitter.count(events.TypeTreasurySet) != 1 {
		t.Fatalf("missing admin events: %+v", f.emitter.events)
	}
}

func TestInitializeDefaultsTreasuryToOwner(t *testing.T) {
	engine, err := NewEngine(Config{PrincipalToken: principalAddr, Custody: custodyAddr})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if engine.PeriodSeconds() != DefaultPeriodSeconds {
		t.Fatalf("unexpected default period %d", engine.PeriodSeconds())
	}
	state := newMockEngineState()
	engine.SetState(state)
	if _, err := engine.TotalStaked(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := engine.Initialize(common.Address{}, common.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err := engine.Initialize(ownerAddr, common.Address{}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if treasury, _ := engine.Treasury(); treasury != ownerAddr {
		t.Fatalf("treasury should default to owner, got %s", treasury.Hex())
	}
	if err := engine.Initialize(ownerAddr, treasuryAddr); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if _, err := NewEngine(Config{Custody: custodyAddr}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for missing principal token, got %v", err)
	}
}

func TestInitializeWithIsAllOrNothing(t *testing.T) {
	engine, err := NewEngine(Config{PrincipalToken: principalAddr, Custody: custodyAddr, PeriodSeconds: 100})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.SetState(newMockEngineState())
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() uint64 { return 50 })

	rejected := []Bootstrap{
		{Owner: ownerAddr, FeeBps: MaxFeeBps + 1},
		{Owner: ownerAddr, RewardTokens: []common.Address{rewardA}},
		{Owner: ownerAddr, RewardTokens: []common.Address{principalAddr}, RewardRates: []*big.Int{big.NewInt(1)}},
		{Owner: ownerAddr, RewardTokens: []common.Address{rewardA, rewardA}, RewardRates: []*big.Int{big.NewInt(1), big.NewInt(1)}},
	}
	for i, b := range rejected {
		if err := engine.InitializeWith(b); err == nil {
			t.Fatalf("bootstrap %d: expected rejection", i)
		}
		if ok, _ := engine.Initialized(); ok {
			t.Fatalf("bootstrap %d: rejected configuration initialised the ledger", i)
		}
	}
	if len(emitter.events) != 0 {
		t.Fatalf("rejected bootstraps emitted %d events", len(emitter.events))
	}

	err = engine.InitializeWith(Bootstrap{
		Owner:        ownerAddr,
		FeeBps:       250,
		RewardTokens: []common.Address{rewardA, rewardB},
		RewardRates:  []*big.Int{big.NewInt(10), big.NewInt(20)},
	})
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if fee, _ := engine.FeeBps(); fee != 250 {
		t.Fatalf("unexpected fee %d", fee)
	}
	if treasury, _ := engine.Treasury(); treasury != ownerAddr {
		t.Fatalf("treasury should default to owner, got %s", treasury.Hex())
	}
	acc, err := engine.AccumulatorOf(rewardB)
	if err != nil {
		t.Fatalf("accumulator: %v", err)
	}
	if acc.RatePerPeriod.Int64() != 20 || acc.LastCheckpoint != 50 || acc.AccumulatedPerUnit.Sign() != 0 {
		t.Fatalf("unexpected accumulator %+v", acc)
	}
	known, _ := engine.KnownTokens()
	if len(known) != 2 {
		t.Fatalf("expected 2 known tokens, got %d", len(known))
	}
	if emitter.count(events.TypeFeeSet) != 1 || emitter.count(events.TypeRewardConfigSet) != 1 {
		t.Fatalf("unexpected events %+v", emitter.events)
	}
	if err := engine.InitializeWith(Bootstrap{Owner: ownerAddr}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestClaimAppliesFeeAndSkipsEmptyTokens(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))
	f.mint(rewardA, custodyAddr, big.NewInt(10_000))
	f.configure([]common.Address{rewardA, rewardB}, big.NewInt(1_000), big.NewInt(0))
	if err := f.engine.SetFee(ownerAddr, 500); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	f.stake(alice, 10)
	f.now += 100

	claims, err := f.engine.ClaimReward(alice)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claims) != 1 || claims[0].Token != rewardA {
		t.Fatalf("expected a single claim for rewardA, got %+v", claims)
	}
	expectAmount(t, "fee", claims[0].Fee, "50")
	expectAmount(t, "net", claims[0].Net, "950")
	expectAmount(t, "treasury wallet", f.balance(rewardA, treasuryAddr), "50")
	expectAmount(t, "alice wallet", f.balance(rewardA, alice), "950")
	expectAmount(t, "custody", f.balance(rewardA, custodyAddr), "9000")
	if f.emitter.count(events.TypeRewardClaimed) != 1 {
		t.Fatalf("expected exactly one claim event")
	}

	pos, _ := f.engine.PositionOf(alice)
	expectAmount(t, "pending after claim", pos.PendingFor(rewardA), "0")
	if again := f.claim(alice); len(again) != 0 {
		t.Fatalf("second claim at same time should pay nothing: %v", again)
	}
}

func TestReplaceRewardConfigRetainsAndRetires(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))
	f.mint(rewardA, custodyAddr, big.NewInt(100_000))
	f.mint(rewardB, custodyAddr, big.NewInt(100_000))
	f.configure([]common.Address{rewardA}, big.NewInt(1_000))
	f.stake(alice, 10)

	f.now += 100
	f.configure([]common.Address{rewardB, rewardA}, big.NewInt(200), big.NewInt(1_000))
	accA, _ := f.engine.AccumulatorOf(rewardA)
	expectAmount(t, "retained accumulator", accA.AccumulatedPerUnit, "100000000000000000000")
	accB, _ := f.engine.AccumulatorOf(rewardB)
	if accB.AccumulatedPerUnit.Sign() != 0 || accB.LastCheckpoint != f.now {
		t.Fatalf("new accumulator should start at zero: %+v", accB)
	}

	f.now += 100
	f.configure([]common.Address{rewardB}, big.NewInt(200))
	frozen, _ := f.engine.AccumulatorOf(rewardA)
	f.now += 1_000
	preview, err := f.engine.PreviewClaim(alice)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(preview) != 2 || preview[0].Token != rewardB || preview[1].Token != rewardA {
		t.Fatalf("unexpected preview order: %+v", preview)
	}
	expectAmount(t, "preview B", preview[0].Amount, "2200")
	expectAmount(t, "preview A", preview[1].Amount, "2000")

	claims := f.claim(alice)
	expectAmount(t, "claim A", claims[rewardA], "2000")
	expectAmount(t, "claim B", claims[rewardB], "2200")
	after, _ := f.engine.AccumulatorOf(rewardA)
	if after.AccumulatedPerUnit.Cmp(frozen.AccumulatedPerUnit) != 0 {
		t.Fatalf("retired accumulator kept accruing")
	}

	// Re-activating a retired token resumes from its frozen value.
	f.configure([]common.Address{rewardA}, big.NewInt(1_000))
	resumed, _ := f.engine.AccumulatorOf(rewardA)
	if resumed.AccumulatedPerUnit.Cmp(frozen.AccumulatedPerUnit) != 0 || resumed.LastCheckpoint != f.now {
		t.Fatalf("re-activated accumulator should not back-accrue: %+v", resumed)
	}
	known, _ := f.engine.KnownTokens()
	if len(known) != 2 {
		t.Fatalf("unexpected known tokens: %v", known)
	}
}

func TestTransferFailureRollsBackClaim(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))
	f.mint(rewardA, custodyAddr, big.NewInt(100_000))
	f.mint(rewardB, custodyAddr, big.NewInt(100_000))
	f.configure([]common.Address{rewardA, rewardB}, big.NewInt(1_000), big.NewInt(1_000))
	if err := f.engine.SetFee(ownerAddr, 100); err != nil {
		t.Fatalf("set fee: %v", err)
	}
	f.stake(alice, 10)
	f.now += 100

	accBefore, _ := f.engine.AccumulatorOf(rewardA)
	posBefore, _ := f.engine.PositionOf(alice)
	eventsBefore := len(f.emitter.events)

	boom := errors.New("token paused")
	f.bank.SetHook(func(token, from, to common.Address, amount *big.Int) error {
		if token == rewardB && to == alice {
			return boom
		}
		return nil
	})
	_, err := f.engine.ClaimReward(alice)
	if !errors.Is(err, ErrTransferFailed) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrTransferFailed wrapping cause, got %v", err)
	}
	f.bank.SetHook(nil)

	expectAmount(t, "custody A", f.balance(rewardA, custodyAddr), "100000")
	expectAmount(t, "custody B", f.balance(rewardB, custodyAddr), "100000")
	expectAmount(t, "treasury A", f.balance(rewardA, treasuryAddr), "0")
	expectAmount(t, "alice A", f.balance(rewardA, alice), "0")

	accAfter, _ := f.engine.AccumulatorOf(rewardA)
	if accAfter.LastCheckpoint != accBefore.LastCheckpoint || accAfter.AccumulatedPerUnit.Cmp(accBefore.AccumulatedPerUnit) != 0 {
		t.Fatalf("accumulator not restored: %+v vs %+v", accAfter, accBefore)
	}
	posAfter, _ := f.engine.PositionOf(alice)
	if posAfter.PaidFor(rewardA).Cmp(posBefore.PaidFor(rewardA)) != 0 {
		t.Fatalf("position not restored")
	}
	if len(f.emitter.events) != eventsBefore {
		t.Fatalf("failed claim emitted events")
	}

	claims := f.claim(alice)
	expectAmount(t, "retry A", claims[rewardA], "1000")
	expectAmount(t, "retry B", claims[rewardB], "1000")
}

func TestTransferFailureRollsBackStake(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))
	f.bank.SetHook(func(common.Address, common.Address, common.Address, *big.Int) error {
		return errors.New("frozen")
	})
	if _, err := f.engine.Stake(alice, big.NewInt(10)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	total, _ := f.engine.TotalStaked()
	expectAmount(t, "total", total, "0")
	principal, _ := f.engine.PrincipalOf(alice)
	expectAmount(t, "principal", principal, "0")
}

func TestStateApplyFailureSkipsTransfers(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(10))
	f.state.applyErr = errors.New("disk full")
	if _, err := f.engine.Stake(alice, big.NewInt(10)); err == nil {
		t.Fatalf("expected apply failure")
	}
	expectAmount(t, "alice wallet", f.balance(principalAddr, alice), "10")
}

func TestReentrantCallsAreRejected(t *testing.T) {
	f := newFixture(t, 100)
	f.mint(principalAddr, alice, big.NewInt(20))
	f.mint(rewardA, custodyAddr, big.NewInt(100_000))
	f.configure([]common.Address{rewardA}, big.NewInt(1_000))

	var reentryErrs []error
	f.bank.SetHook(func(token, from, to common.Address, amount *big.Int) error {
		_, err := f.engine.Stake(alice, big.NewInt(1))
		reentryErrs = append(reentryErrs, err)
		_, err = f.engine.ClaimReward(alice)
		reentryErrs = append(reentryErrs, err)
		reentryErrs = append(reentryErrs, f.engine.SetFee(ownerAddr, 1))
		return nil
	})
	f.stake(alice, 10)
	f.bank.SetHook(nil)

	if len(reentryErrs) != 3 {
		t.Fatalf("hook did not run: %v", reentryErrs)
	}
	for _, err := range reentryErrs {
		if !errors.Is(err, ErrReentrantCall) {
			t.Fatalf("expected ErrReentrantCall, got %v", err)
		}
	}
	principal, _ := f.engine.PrincipalOf(alice)
	expectAmount(t, "principal", principal, "10")
	fee, _ := f.engine.FeeBps()
	if fee != 0 {
		t.Fatalf("re-entrant fee change leaked: %d", fee)
	}
}

func TestLedgerInvariantsUnderRandomActivity(t *testing.T) {
	f := newFixture(t, 3_600)
	participants := []common.Address{alice, bob, common.HexToAddress("0x03"), common.HexToAddress("0x04")}
	for _, p := range participants {
		f.mint(principalAddr, p, big.NewInt(1_000_000))
	}
	f.mint(rewardA, custodyAddr, mustBig(t, "1000000000000000000000000"))
	f.mint(rewardB, custodyAddr, mustBig(t, "1000000000000000000000000"))
	f.configure([]common.Address{rewardA, rewardB}, big.NewInt(777_777), big.NewInt(1_234_567))

	rng := rand.New(rand.NewSource(7))
	last := map[common.Address]*big.Int{rewardA: big.NewInt(0), rewardB: big.NewInt(0)}
	for i := 0; i < 300; i++ {
		f.now += uint64(rng.Intn(900))
		p := participants[rng.Intn(len(participants))]
		switch rng.Intn(4) {
		case 0:
			_, _ = f.engine.Stake(p, big.NewInt(int64(rng.Intn(5_000)+1)))
		case 1:
			principal, _ := f.engine.PrincipalOf(p)
			if principal.Sign() > 0 {
				amount := new(big.Int).Rand(rng, principal)
				amount.Add(amount, big.NewInt(1))
				if _, err := f.engine.Unstake(p, amount); err != nil {
					t.Fatalf("unstake %s of %s: %v", amount, principal, err)
				}
			}
		case 2:
			if _, err := f.engine.ClaimReward(p); err != nil {
				t.Fatalf("claim: %v", err)
			}
		default:
			rates := []*big.Int{big.NewInt(int64(rng.Intn(2_000_000))), big.NewInt(int64(rng.Intn(2_000_000)))}
			if err := f.engine.UpdateRatePerPeriod(ownerAddr, rates); err != nil {
				t.Fatalf("update: %v", err)
			}
		}

		sum := big.NewInt(0)
		for _, q := range participants {
			principal, _ := f.engine.PrincipalOf(q)
			sum.Add(sum, principal)
		}
		total, _ := f.engine.TotalStaked()
		if sum.Cmp(total) != 0 {
			t.Fatalf("step %d: sum of principal %s != total %s", i, sum, total)
		}
		for token, prev := range last {
			acc, _ := f.engine.AccumulatorOf(token)
			if acc.AccumulatedPerUnit.Cmp(prev) < 0 {
				t.Fatalf("step %d: accumulator for %s decreased", i, token.Hex())
			}
			last[token] = acc.AccumulatedPerUnit
		}
		custody := f.balance(principalAddr, custodyAddr)
		if custody.Cmp(total) != 0 {
			t.Fatalf("step %d: custody %s != total %s", i, custody, total)
		}
	}
}

func TestAccumulatorAdvance(t *testing.T) {
	acc := &Accumulator{Token: rewardA, RatePerPeriod: big.NewInt(700), AccumulatedPerUnit: big.NewInt(0), LastCheckpoint: 100}
	total := big.NewInt(7)
	if err := acc.advance(110, total, 100); err != nil {
		t.Fatalf("advance: %v", err)
	}
	// floor(10*700/100)=70, floor(70e18/7)=1e19.
	expectAmount(t, "acc", acc.AccumulatedPerUnit, "10000000000000000000")
	if err := acc.advance(110, total, 100); err != nil {
		t.Fatalf("advance again: %v", err)
	}
	expectAmount(t, "idempotent", acc.AccumulatedPerUnit, "10000000000000000000")
	if err := acc.advance(90, total, 100); err != nil {
		t.Fatalf("advance backwards: %v", err)
	}
	if acc.LastCheckpoint != 110 {
		t.Fatalf("earlier timestamp moved checkpoint back to %d", acc.LastCheckpoint)
	}
	if err := acc.advance(200, big.NewInt(0), 100); err != nil {
		t.Fatalf("advance empty: %v", err)
	}
	if acc.LastCheckpoint != 200 {
		t.Fatalf("empty pool must still move the checkpoint")
	}
	expectAmount(t, "frozen", acc.AccumulatedPerUnit, "10000000000000000000")
}

func TestMulDivBounds(t *testing.T) {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	got, err := mulDiv(max, max, max)
	if err != nil {
		t.Fatalf("mulDiv with wide intermediate: %v", err)
	}
	if got.Cmp(max) != 0 {
		t.Fatalf("unexpected mulDiv result %s", got)
	}
	if _, err := mulDiv(max, big.NewInt(2), big.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := addWord(max, big.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected add overflow, got %v", err)
	}
}
