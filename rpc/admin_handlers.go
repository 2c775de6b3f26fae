package rpc

import (
	"github.com/ethereum/go-ethereum/common"
)

func (s *Server) handleReplaceRewardConfig(c *call) (interface{}, *RPCError) {
	var params rewardConfigParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	tokens := make([]common.Address, len(params.Tokens))
	for i, raw := range params.Tokens {
		addr, rpcErr := parseAddress("tokens", raw)
		if rpcErr != nil {
			return nil, rpcErr
		}
		tokens[i] = addr
	}
	rates, rpcErr := parseAmounts("rates", params.Rates)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.ReplaceRewardConfig(caller, tokens, rates); err != nil {
		return nil, ledgerError(err)
	}
	return s.handleRewardTokens(c)
}

func (s *Server) handleUpdateRatePerPeriod(c *call) (interface{}, *RPCError) {
	var params rateParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rates, rpcErr := parseAmounts("rates", params.Rates)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.UpdateRatePerPeriod(caller, rates); err != nil {
		return nil, ledgerError(err)
	}
	return s.handleRewardTokens(c)
}

func (s *Server) handleSetFee(c *call) (interface{}, *RPCError) {
	var params feeParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetFee(caller, params.FeeBps); err != nil {
		return nil, ledgerError(err)
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleSetTreasury(c *call) (interface{}, *RPCError) {
	var params treasuryParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	treasury, rpcErr := parseAddress("treasury", params.Treasury)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.SetTreasury(caller, treasury); err != nil {
		return nil, ledgerError(err)
	}
	return OKResult{OK: true}, nil
}

func (s *Server) handleTransferOwnership(c *call) (interface{}, *RPCError) {
	var params ownershipParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	caller, rpcErr := c.resolveCaller(params.Caller)
	if rpcErr != nil {
		return nil, rpcErr
	}
	newOwner, rpcErr := parseAddress("newOwner", params.NewOwner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.engine.TransferOwnership(caller, newOwner); err != nil {
		return nil, ledgerError(err)
	}
	return OKResult{OK: true}, nil
}
