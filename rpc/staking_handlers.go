package rpc

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/storage/eventlog"
)

func (s *Server) handleStake(c *call) (interface{}, *RPCError) {
	var params amountParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pos, err := s.engine.Stake(caller, amount)
	if err != nil {
		return nil, ledgerError(err)
	}
	return s.positionView(pos.Account)
}

func (s *Server) handleUnstake(c *call) (interface{}, *RPCError) {
	var params amountParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pos, err := s.engine.Unstake(caller, amount)
	if err != nil {
		return nil, ledgerError(err)
	}
	return s.positionView(pos.Account)
}

func (s *Server) handleClaimReward(c *call) (interface{}, *RPCError) {
	var params callerParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	claims, err := s.engine.ClaimReward(caller)
	if err != nil {
		return nil, ledgerError(err)
	}
	out := make([]ClaimResult, 0, len(claims))
	for _, claim := range claims {
		out = append(out, ClaimResult{
			Token: claim.Token.Hex(),
			Gross: amountString(claim.Gross),
			Fee:   amountString(claim.Fee),
			Net:   amountString(claim.Net),
		})
	}
	return out, nil
}

func (s *Server) handleTotalStaked(c *call) (interface{}, *RPCError) {
	total, err := s.engine.TotalStaked()
	if err != nil {
		return nil, ledgerError(err)
	}
	return amountString(total), nil
}

func (s *Server) handleGetPosition(c *call) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return s.positionView(addr)
}

// positionView renders the stored position of addr with its settled pending
// rewards for every known token.
func (s *Server) positionView(addr common.Address) (interface{}, *RPCError) {
	pos, err := s.engine.PositionOf(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	tokens, err := s.engine.KnownTokens()
	if err != nil {
		return nil, ledgerError(err)
	}
	return positionResult(pos, tokens), nil
}

func (s *Server) handlePreviewClaim(c *call) (interface{}, *RPCError) {
	var params addressParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddress("address", params.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amounts, err := s.engine.PreviewClaim(addr)
	if err != nil {
		return nil, ledgerError(err)
	}
	out := make([]TokenAmountResult, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, TokenAmountResult{Token: a.Token.Hex(), Amount: amountString(a.Amount)})
	}
	return out, nil
}

func (s *Server) handleRewardTokens(c *call) (interface{}, *RPCError) {
	known, err := s.engine.KnownTokens()
	if err != nil {
		return nil, ledgerError(err)
	}
	active, err := s.engine.RewardTokens()
	if err != nil {
		return nil, ledgerError(err)
	}
	activeSet := make(map[common.Address]struct{}, len(active))
	for _, t := range active {
		activeSet[t.Token] = struct{}{}
	}
	out := make([]RewardTokenResult, 0, len(known))
	for _, token := range known {
		acc, err := s.engine.AccumulatorOf(token)
		if err != nil {
			return nil, ledgerError(err)
		}
		_, isActive := activeSet[token]
		out = append(out, RewardTokenResult{
			Token:              token.Hex(),
			RatePerPeriod:      amountString(acc.RatePerPeriod),
			AccumulatedPerUnit: amountString(acc.AccumulatedPerUnit),
			LastCheckpoint:     acc.LastCheckpoint,
			Active:             isActive,
		})
	}
	return out, nil
}

func (s *Server) handleGetConfig(c *call) (interface{}, *RPCError) {
	owner, err := s.engine.Owner()
	if err != nil {
		return nil, ledgerError(err)
	}
	treasury, err := s.engine.Treasury()
	if err != nil {
		return nil, ledgerError(err)
	}
	fee, err := s.engine.FeeBps()
	if err != nil {
		return nil, ledgerError(err)
	}
	total, err := s.engine.TotalStaked()
	if err != nil {
		return nil, ledgerError(err)
	}
	return ConfigResult{
		Owner:          owner.Hex(),
		Treasury:       treasury.Hex(),
		FeeBps:         fee,
		PrincipalToken: s.engine.PrincipalToken().Hex(),
		Custody:        s.engine.Custody().Hex(),
		PeriodSeconds:  s.engine.PeriodSeconds(),
		TotalStaked:    amountString(total),
	}, nil
}

func (s *Server) handleListEvents(c *call) (interface{}, *RPCError) {
	if s.events == nil {
		return nil, newError(http.StatusServiceUnavailable, codeServerError, "event index disabled", nil)
	}
	var params listEventsParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	filter := eventlog.Filter{
		Type:  strings.TrimSpace(params.Type),
		After: params.After,
		Limit: params.Limit,
	}
	if params.Account != "" {
		addr, rpcErr := parseAddress("account", params.Account)
		if rpcErr != nil {
			return nil, rpcErr
		}
		filter.Account = addr.Hex()
	}
	if params.Token != "" {
		addr, rpcErr := parseAddress("token", params.Token)
		if rpcErr != nil {
			return nil, rpcErr
		}
		filter.Token = addr.Hex()
	}
	records, err := s.events.List(c.ctx, filter)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, codeServerError, "failed to list events", err.Error())
	}
	out := make([]EventResult, 0, len(records))
	for _, rec := range records {
		attrs, err := rec.Decode()
		if err != nil {
			return nil, newError(http.StatusInternalServerError, codeServerError, "corrupt event record", err.Error())
		}
		out = append(out, EventResult{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			Account:    rec.Account,
			Token:      rec.Token,
			Attributes: attrs,
			CreatedAt:  rec.CreatedAt.Unix(),
		})
	}
	return out, nil
}
