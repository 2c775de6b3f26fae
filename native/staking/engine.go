package staking

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/core/events"
	nativecommon "stakeledger/native/common"
)

type engineState interface {
	StakingGlobals() (*Globals, bool, error)
	StakingAccumulator(token common.Address) (*Accumulator, bool, error)
	StakingPosition(addr common.Address) (*Position, bool, error)
	StakingApply(changes *ChangeSet) error
}

// TokenLedger is the external token collaborator. The engine pulls principal
// from participants and pays out of its custody address through TransferFrom.
type TokenLedger interface {
	BalanceOf(token, holder common.Address) (*big.Int, error)
	TransferFrom(token, from, to common.Address, amount *big.Int) error
}

// Config carries the immutable parameters of a ledger instance.
type Config struct {
	PrincipalToken common.Address
	Custody        common.Address
	PeriodSeconds  uint64
}

// Engine implements the staking reward ledger: principal accounting, reward
// accumulators, settlement and the owner configuration gate. An Engine must be
// driven from a single goroutine at a time.
type Engine struct {
	cfg     Config
	state   engineState
	tokens  TokenLedger
	emitter events.Emitter
	logger  *slog.Logger
	nowFn   func() uint64
	guard   nativecommon.EntryGuard
}

type transfer struct {
	token  common.Address
	from   common.Address
	to     common.Address
	amount *big.Int
}

// NewEngine validates cfg and returns an engine with a no-op emitter.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.PrincipalToken == (common.Address{}) || cfg.Custody == (common.Address{}) {
		return nil, ErrInvalidAddress
	}
	if cfg.PeriodSeconds == 0 {
		cfg.PeriodSeconds = DefaultPeriodSeconds
	}
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetTokenLedger configures the token collaborator.
func (e *Engine) SetTokenLedger(tokens TokenLedger) { e.tokens = tokens }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the logger used to report failed compensations.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// enter acquires the single-entry guard after checking the collaborators are
// configured.
func (e *Engine) enter(needTokens bool) (func(), error) {
	if e == nil || e.state == nil {
		return func() {}, ErrNilState
	}
	if needTokens && e.tokens == nil {
		return func() {}, ErrNilTokenLedger
	}
	return e.guard.Enter()
}

// Initialize writes the initial globals. The treasury defaults to the owner
// when left empty.
func (e *Engine) Initialize(owner, treasury common.Address) error {
	return e.InitializeWith(Bootstrap{Owner: owner, Treasury: treasury})
}

// Bootstrap is the complete initial configuration of a ledger.
type Bootstrap struct {
	Owner        common.Address
	Treasury     common.Address
	FeeBps       uint64
	RewardTokens []common.Address
	RewardRates  []*big.Int
}

// InitializeWith writes the globals, fee and reward accumulators of b as one
// change set, so a ledger is either fully configured or not initialised.
func (e *Engine) InitializeWith(b Bootstrap) error {
	release, err := e.enter(false)
	if err != nil {
		return err
	}
	defer release()
	if b.Owner == (common.Address{}) {
		return ErrInvalidAddress
	}
	if b.FeeBps > MaxFeeBps {
		return ErrFeeExceedsLimit
	}
	if len(b.RewardTokens) != len(b.RewardRates) {
		return ErrInvalidLength
	}
	if err := e.validateRewardConfig(b.RewardTokens, b.RewardRates); err != nil {
		return err
	}
	if _, ok, err := e.state.StakingGlobals(); err != nil {
		return err
	} else if ok {
		return ErrAlreadyInitialized
	}
	treasury := b.Treasury
	if treasury == (common.Address{}) {
		treasury = b.Owner
	}
	now := e.now()
	tokens := append([]common.Address(nil), b.RewardTokens...)
	changes := &ChangeSet{Globals: &Globals{
		TotalStaked:  big.NewInt(0),
		FeeBps:       b.FeeBps,
		Treasury:     treasury,
		Owner:        b.Owner,
		RewardTokens: tokens,
		KnownTokens:  append([]common.Address(nil), tokens...),
	}}
	for i, token := range tokens {
		changes.Accumulators = append(changes.Accumulators, &Accumulator{
			Token:              token,
			RatePerPeriod:      cloneBigInt(b.RewardRates[i]),
			AccumulatedPerUnit: big.NewInt(0),
			LastCheckpoint:     now,
		})
	}
	if err := e.state.StakingApply(changes); err != nil {
		return err
	}
	if b.FeeBps > 0 {
		e.emit(events.FeeSet{Owner: b.Owner, FeeBps: b.FeeBps})
	}
	if len(tokens) > 0 {
		e.emit(events.RewardConfigSet{
			Owner:     b.Owner,
			Tokens:    append([]common.Address(nil), tokens...),
			Rates:     cloneRates(b.RewardRates),
			Timestamp: now,
		})
	}
	return nil
}

// Initialized reports whether globals have been written.
func (e *Engine) Initialized() (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	_, ok, err := e.state.StakingGlobals()
	return ok, err
}

// checkpoint advances every active accumulator to now.
func (e *Engine) checkpoint(j *journal, now uint64) error {
	g, err := j.loadGlobals()
	if err != nil {
		return err
	}
	for _, token := range g.RewardTokens {
		acc, err := j.mustAccumulator(token)
		if err != nil {
			return err
		}
		if err := acc.advance(now, g.TotalStaked, e.cfg.PeriodSeconds); err != nil {
			return fmt.Errorf("checkpoint %s: %w", token.Hex(), err)
		}
		j.touchAccumulator(token)
	}
	return nil
}

// settle folds the rewards earned by addr since its last settlement into its
// pending balances for every known token.
func (e *Engine) settle(j *journal, addr common.Address) (*Position, error) {
	g, err := j.loadGlobals()
	if err != nil {
		return nil, err
	}
	pos, err := j.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	for _, token := range g.KnownTokens {
		acc, err := j.mustAccumulator(token)
		if err != nil {
			return nil, err
		}
		if err := pos.settle(acc); err != nil {
			return nil, fmt.Errorf("settle %s: %w", token.Hex(), err)
		}
	}
	j.touchPosition(addr)
	return pos, nil
}

// commit flushes the journal and then executes the transfers in order. A
// failing transfer compensates the executed ones in reverse, restores the
// pre-images and yields ErrTransferFailed. State and transfers are separate
// writes, so a process crash between them is not recovered.
func (e *Engine) commit(j *journal, transfers []transfer) error {
	if err := e.state.StakingApply(j.changes()); err != nil {
		return err
	}
	for i, t := range transfers {
		if t.amount == nil || t.amount.Sign() == 0 {
			continue
		}
		if err := e.tokens.TransferFrom(t.token, t.from, t.to, t.amount); err != nil {
			e.rollback(j, transfers[:i])
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
	}
	return nil
}

func (e *Engine) rollback(j *journal, executed []transfer) {
	for i := len(executed) - 1; i >= 0; i-- {
		t := executed[i]
		if t.amount == nil || t.amount.Sign() == 0 {
			continue
		}
		if err := e.tokens.TransferFrom(t.token, t.to, t.from, t.amount); err != nil {
			e.logger.Error("staking compensation transfer failed",
				slog.String("token", t.token.Hex()),
				slog.String("from", t.to.Hex()),
				slog.String("to", t.from.Hex()),
				slog.String("amount", t.amount.String()),
				slog.Any("error", err))
		}
	}
	if err := e.state.StakingApply(j.undo()); err != nil {
		e.logger.Error("staking state restore failed", slog.Any("error", err))
	}
}

// Stake locks amount of the principal token for caller.
func (e *Engine) Stake(caller common.Address, amount *big.Int) (*Position, error) {
	release, err := e.enter(true)
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkWords(amount); err != nil {
		return nil, err
	}
	balance, err := e.tokens.BalanceOf(e.cfg.PrincipalToken, caller)
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	now := e.now()
	j := newJournal(e.state)
	if err := e.checkpoint(j, now); err != nil {
		return nil, err
	}
	pos, err := e.settle(j, caller)
	if err != nil {
		return nil, err
	}
	g, _ := j.loadGlobals()
	principal, err := addWord(pos.Principal, amount)
	if err != nil {
		return nil, err
	}
	total, err := addWord(g.TotalStaked, amount)
	if err != nil {
		return nil, err
	}
	pos.Principal = principal
	g.TotalStaked = total
	j.touchGlobals()

	if err := e.commit(j, []transfer{{
		token:  e.cfg.PrincipalToken,
		from:   caller,
		to:     e.cfg.Custody,
		amount: new(big.Int).Set(amount),
	}}); err != nil {
		return nil, err
	}
	e.emit(events.Staked{
		Account:     caller,
		Amount:      new(big.Int).Set(amount),
		Principal:   cloneBigInt(pos.Principal),
		TotalStaked: cloneBigInt(g.TotalStaked),
		Timestamp:   now,
	})
	return pos.Clone(), nil
}

// Unstake returns amount of principal to caller. Pending rewards are kept.
func (e *Engine) Unstake(caller common.Address, amount *big.Int) (*Position, error) {
	release, err := e.enter(true)
	if err != nil {
		return nil, err
	}
	defer release()
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	now := e.now()
	j := newJournal(e.state)
	if err := e.checkpoint(j, now); err != nil {
		return nil, err
	}
	pos, err := e.settle(j, caller)
	if err != nil {
		return nil, err
	}
	if pos.Principal.Cmp(amount) < 0 {
		return nil, ErrInsufficientPrincipal
	}
	g, _ := j.loadGlobals()
	pos.Principal = new(big.Int).Sub(pos.Principal, amount)
	g.TotalStaked = new(big.Int).Sub(g.TotalStaked, amount)
	j.touchGlobals()

	if err := e.commit(j, []transfer{{
		token:  e.cfg.PrincipalToken,
		from:   e.cfg.Custody,
		to:     caller,
		amount: new(big.Int).Set(amount),
	}}); err != nil {
		return nil, err
	}
	e.emit(events.Unstaked{
		Account:     caller,
		Amount:      new(big.Int).Set(amount),
		Principal:   cloneBigInt(pos.Principal),
		TotalStaked: cloneBigInt(g.TotalStaked),
		Timestamp:   now,
	})
	return pos.Clone(), nil
}

// ClaimReward pays out every pending reward of caller, net of the treasury
// fee. Tokens without pending rewards are skipped.
func (e *Engine) ClaimReward(caller common.Address) ([]Claim, error) {
	release, err := e.enter(true)
	if err != nil {
		return nil, err
	}
	defer release()

	now := e.now()
	j := newJournal(e.state)
	if err := e.checkpoint(j, now); err != nil {
		return nil, err
	}
	pos, err := e.settle(j, caller)
	if err != nil {
		return nil, err
	}
	g, _ := j.loadGlobals()
	feeBps := new(big.Int).SetUint64(g.FeeBps)

	claims := make([]Claim, 0, len(g.KnownTokens))
	transfers := make([]transfer, 0, 2*len(g.KnownTokens))
	for _, token := range g.claimOrder() {
		pending := pos.PendingFor(token)
		if pending.Sign() == 0 {
			continue
		}
		fee, err := mulDiv(pending, feeBps, basisPoints)
		if err != nil {
			return nil, err
		}
		net := new(big.Int).Sub(pending, fee)
		pos.Pending[token] = big.NewInt(0)
		claims = append(claims, Claim{Token: token, Gross: pending, Fee: fee, Net: net})
		transfers = append(transfers,
			transfer{token: token, from: e.cfg.Custody, to: g.Treasury, amount: fee},
			transfer{token: token, from: e.cfg.Custody, to: caller, amount: net},
		)
	}

	if err := e.commit(j, transfers); err != nil {
		return nil, err
	}
	for _, claim := range claims {
		e.emit(events.RewardClaimed{
			Account:   caller,
			Token:     claim.Token,
			Gross:     cloneBigInt(claim.Gross),
			Fee:       cloneBigInt(claim.Fee),
			Net:       cloneBigInt(claim.Net),
			Treasury:  g.Treasury,
			Timestamp: now,
		})
	}
	return claims, nil
}

// PreviewClaim reports the rewards addr could claim right now, per known
// token in claim order. The ledger is not modified.
func (e *Engine) PreviewClaim(addr common.Address) ([]TokenAmount, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	j := newJournal(e.state)
	if err := e.checkpoint(j, e.now()); err != nil {
		return nil, err
	}
	pos, err := e.settle(j, addr)
	if err != nil {
		return nil, err
	}
	g, _ := j.loadGlobals()
	order := g.claimOrder()
	out := make([]TokenAmount, 0, len(order))
	for _, token := range order {
		out = append(out, TokenAmount{Token: token, Amount: pos.PendingFor(token)})
	}
	return out, nil
}

func (e *Engine) globals() (*Globals, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	g, ok, err := e.state.StakingGlobals()
	if err != nil {
		return nil, err
	}
	if !ok || g == nil {
		return nil, ErrNotInitialized
	}
	return g.Clone(), nil
}

// TotalStaked returns the sum of all principal.
func (e *Engine) TotalStaked() (*big.Int, error) {
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(g.TotalStaked), nil
}

// PositionOf returns the stored position of addr. Pending amounts reflect the
// last settlement only; use PreviewClaim for live figures.
func (e *Engine) PositionOf(addr common.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pos, ok, err := e.state.StakingPosition(addr)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil {
		return NewPosition(addr), nil
	}
	out := pos.Clone().normalize()
	out.Account = addr
	return out, nil
}

// PrincipalOf returns the principal staked by addr.
func (e *Engine) PrincipalOf(addr common.Address) (*big.Int, error) {
	pos, err := e.PositionOf(addr)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(pos.Principal), nil
}

// RewardTokens lists the active reward tokens in configured order.
func (e *Engine) RewardTokens() ([]RewardToken, error) {
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	out := make([]RewardToken, 0, len(g.RewardTokens))
	for _, token := range g.RewardTokens {
		acc, ok, err := e.state.StakingAccumulator(token)
		if err != nil {
			return nil, err
		}
		if !ok || acc == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token.Hex())
		}
		out = append(out, RewardToken{Token: token, RatePerPeriod: cloneBigInt(acc.RatePerPeriod)})
	}
	return out, nil
}

// KnownTokens lists every reward token ever configured.
func (e *Engine) KnownTokens() ([]common.Address, error) {
	g, err := e.globals()
	if err != nil {
		return nil, err
	}
	return g.KnownTokens, nil
}

// AccumulatorOf returns the stored accumulator of token.
func (e *Engine) AccumulatorOf(token common.Address) (*Accumulator, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	acc, ok, err := e.state.StakingAccumulator(token)
	if err != nil {
		return nil, err
	}
	if !ok || acc == nil {
		return nil, ErrUnknownToken
	}
	return acc.Clone(), nil
}

// Treasury returns the fee recipient.
func (e *Engine) Treasury() (common.Address, error) {
	g, err := e.globals()
	if err != nil {
		return common.Address{}, err
	}
	return g.Treasury, nil
}

// FeeBps returns the claim fee in basis points.
func (e *Engine) FeeBps() (uint64, error) {
	g, err := e.globals()
	if err != nil {
		return 0, err
	}
	return g.FeeBps, nil
}

// Owner returns the configuration owner.
func (e *Engine) Owner() (common.Address, error) {
	g, err := e.globals()
	if err != nil {
		return common.Address{}, err
	}
	return g.Owner, nil
}

// IsOwner reports whether addr may call the configuration gate.
func (e *Engine) IsOwner(addr common.Address) bool {
	owner, err := e.Owner()
	if err != nil {
		return false
	}
	return owner == addr && addr != (common.Address{})
}

// PrincipalToken returns the token accepted as stake.
func (e *Engine) PrincipalToken() common.Address { return e.cfg.PrincipalToken }

// Custody returns the address holding staked principal and reward funds.
func (e *Engine) Custody() common.Address { return e.cfg.Custody }

// PeriodSeconds returns the emission period length.
func (e *Engine) PeriodSeconds() uint64 { return e.cfg.PeriodSeconds }

// IsDomainError reports whether err is one of the ledger's rejection errors
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidAmount, ErrInsufficientBalance, ErrInsufficientPrincipal,
		ErrInvalidLength, ErrInvalidAddress, ErrFeeExceedsLimit, ErrNotOwner,
		ErrTransferFailed, ErrAmountOverflow, ErrReentrantCall, ErrUnknownToken,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
