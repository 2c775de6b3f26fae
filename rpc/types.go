package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"stakeledger/native/staking"
)

type callerParams struct {
	Caller string `json:"caller,omitempty"`
}

type amountParams struct {
	Caller string `json:"caller,omitempty"`
	Amount string `json:"amount"`
}

type rewardConfigParams struct {
	Caller string   `json:"caller,omitempty"`
	Tokens []string `json:"tokens"`
	Rates  []string `json:"rates"`
}

type rateParams struct {
	Caller string   `json:"caller,omitempty"`
	Rates  []string `json:"rates"`
}

type feeParams struct {
	Caller string `json:"caller,omitempty"`
	FeeBps uint64 `json:"feeBps"`
}

type treasuryParams struct {
	Caller   string `json:"caller,omitempty"`
	Treasury string `json:"treasury"`
}

type ownershipParams struct {
	Caller   string `json:"caller,omitempty"`
	NewOwner string `json:"newOwner"`
}

type addressParams struct {
	Address string `json:"address"`
}

type listEventsParams struct {
	Type    string `json:"type,omitempty"`
	Account string `json:"account,omitempty"`
	Token   string `json:"token,omitempty"`
	After   uint64 `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Token  string `json:"token"`
	Holder string `json:"holder"`
}

type mintParams struct {
	Token  string `json:"token"`
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

// TokenAmountResult is a per-token amount in decimal string form.
type TokenAmountResult struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type PositionResult struct {
	Account   string              `json:"account"`
	Principal string              `json:"principal"`
	Pending   []TokenAmountResult `json:"pending"`
}

type ClaimResult struct {
	Token string `json:"token"`
	Gross string `json:"gross"`
	Fee   string `json:"fee"`
	Net   string `json:"net"`
}

type RewardTokenResult struct {
	Token              string `json:"token"`
	RatePerPeriod      string `json:"ratePerPeriod"`
	AccumulatedPerUnit string `json:"accumulatedPerUnit"`
	LastCheckpoint     uint64 `json:"lastCheckpoint"`
	Active             bool   `json:"active"`
}

type ConfigResult struct {
	Owner          string `json:"owner"`
	Treasury       string `json:"treasury"`
	FeeBps         uint64 `json:"feeBps"`
	PrincipalToken string `json:"principalToken"`
	Custody        string `json:"custody"`
	PeriodSeconds  uint64 `json:"periodSeconds"`
	TotalStaked    string `json:"totalStaked"`
}

type EventResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Token      string            `json:"token,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

type BalanceResult struct {
	Token   string `json:"token"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}

type OKResult struct {
	OK bool `json:"ok"`
}

// decodeParams unmarshals the single object parameter of req into dst. A
// missing parameter leaves dst untouched.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	switch len(req.Params) {
	case 0:
		return nil
	case 1:
	default:
		return invalidParams("expected a single parameter object", nil)
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return invalidParams("invalid parameter object", err.Error())
	}
	return nil
}

func parseAddress(field, value string) (common.Address, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, invalidParams(field+" must be a hex address", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmount(field, value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(field+" required", nil)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(field+" must be a base-10 integer", value)
	}
	return amount, nil
}

func parseAmounts(field string, values []string) ([]*big.Int, *RPCError) {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		amount, rpcErr := parseAmount(field, v)
		if rpcErr != nil {
			return nil, rpcErr
		}
		out[i] = amount
	}
	return out, nil
}

// resolveCaller returns the account a mutating call acts as. With auth
// enabled the token subject wins and a conflicting caller field is rejected.
func (c *call) resolveCaller(requested string) (common.Address, *RPCError) {
	requested = strings.TrimSpace(requested)
	if c.subject == "" {
		if requested == "" {
			return common.Address{}, invalidParams("caller required", nil)
		}
		return parseAddress("caller", requested)
	}
	if !common.IsHexAddress(c.subject) {
		return common.Address{}, newError(http.StatusUnauthorized, codeUnauthorized, "token subject is not an address", c.subject)
	}
	subject := common.HexToAddress(c.subject)
	if requested != "" {
		addr, rpcErr := parseAddress("caller", requested)
		if rpcErr != nil {
			return common.Address{}, rpcErr
		}
		if addr != subject {
			return common.Address{}, newError(http.StatusUnauthorized, codeUnauthorized, "caller does not match token subject", nil)
		}
	}
	return subject, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func positionResult(pos *staking.Position, tokens []common.Address) PositionResult {
	res := PositionResult{
		Account:   pos.Account.Hex(),
		Principal: amountString(pos.Principal),
		Pending:   make([]TokenAmountResult, 0, len(tokens)),
	}
	for _, token := range tokens {
		res.Pending = append(res.Pending, TokenAmountResult{Token: token.Hex(), Amount: pos.PendingFor(token).String()})
	}
	return res
}
