package rpc

func (s *Server) handleBalanceOf(c *call) (interface{}, *RPCError) {
	var params balanceParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holder, rpcErr := parseAddress("holder", params.Holder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.bank.BalanceOf(token, holder)
	if err != nil {
		return nil, ledgerError(err)
	}
	return BalanceResult{Token: token.Hex(), Holder: holder.Hex(), Balance: amountString(balance)}, nil
}

// handleMint credits tokens out of thin air. Only registered in dev mode.
func (s *Server) handleMint(c *call) (interface{}, *RPCError) {
	var params mintParams
	if rpcErr := decodeParams(c.req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	token, rpcErr := parseAddress("token", params.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	holder, rpcErr := parseAddress("holder", params.Holder)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount("amount", params.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.bank.Mint(token, holder, amount); err != nil {
		return nil, ledgerError(err)
	}
	balance, err := s.bank.BalanceOf(token, holder)
	if err != nil {
		return nil, ledgerError(err)
	}
	return BalanceResult{Token: token.Hex(), Holder: holder.Hex(), Balance: amountString(balance)}, nil
}
