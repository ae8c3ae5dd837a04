package scoring

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SwapMetadata is the normalized swap intent extracted from a recognized
// router call.
type SwapMetadata struct {
	Path         []string
	Recipient    string
	AmountIn     string
	MinAmountOut string
	FunctionName string
}

// DecodedCall is the result of matching calldata against the known-function
// registry.
type DecodedCall struct {
	Selector  string
	Name      string
	Signature string
	Params    []DecodedParam
	Metadata  *SwapMetadata
}

// metadataBuilder extracts swap intent from decoded arguments. txValue is the
// transaction's native value as a decimal string; ETH-input swaps take their
// amount-in from it.
type metadataBuilder func(args map[string]any, txValue string) *SwapMetadata

type registeredFunction struct {
	name      string
	signature string
	args      abi.Arguments
	metadata  metadataBuilder
}

// FunctionRegistry maps 4-byte selectors to known router swap functions.
// It is read-only after construction; build it once at startup and share it.
type FunctionRegistry struct {
	bySelector map[string]registeredFunction
}

var (
	typeUint256   = mustType("uint256")
	typeAddress   = mustType("address")
	typeAddresses = mustType("address[]")
)

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(fmt.Sprintf("abi type %s: %v", t, err))
	}
	return typ
}

// NewFunctionRegistry builds the registry of UniswapV2-style router swap
// signatures the decoder recognizes.
func NewFunctionRegistry() *FunctionRegistry {
	tokenInArgs := abi.Arguments{
		{Name: "amountIn", Type: typeUint256},
		{Name: "amountOutMin", Type: typeUint256},
		{Name: "path", Type: typeAddresses},
		{Name: "to", Type: typeAddress},
		{Name: "deadline", Type: typeUint256},
	}
	ethInArgs := abi.Arguments{
		{Name: "amountOutMin", Type: typeUint256},
		{Name: "path", Type: typeAddresses},
		{Name: "to", Type: typeAddress},
		{Name: "deadline", Type: typeUint256},
	}

	tokenInMetadata := func(name string) metadataBuilder {
		return func(args map[string]any, _ string) *SwapMetadata {
			return &SwapMetadata{
				Path:         lowerAddresses(args["path"]),
				Recipient:    lowerAddress(args["to"]),
				AmountIn:     decimalString(args["amountIn"]),
				MinAmountOut: decimalString(args["amountOutMin"]),
				FunctionName: name,
			}
		}
	}
	ethInMetadata := func(name string) metadataBuilder {
		return func(args map[string]any, txValue string) *SwapMetadata {
			return &SwapMetadata{
				Path:         lowerAddresses(args["path"]),
				Recipient:    lowerAddress(args["to"]),
				AmountIn:     txValue,
				MinAmountOut: decimalString(args["amountOutMin"]),
				FunctionName: name,
			}
		}
	}

	r := &FunctionRegistry{bySelector: make(map[string]registeredFunction)}
	register := func(name string, args abi.Arguments, md metadataBuilder) {
		types := make([]string, len(args))
		for i, a := range args {
			types[i] = a.Type.String()
		}
		sig := fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
		selector := "0x" + hex.EncodeToString(crypto.Keccak256([]byte(sig))[:4])
		r.bySelector[selector] = registeredFunction{
			name:      name,
			signature: sig,
			args:      args,
			metadata:  md,
		}
	}

	for _, name := range []string{
		"swapExactTokensForTokens",
		"swapExactTokensForETH",
		"swapExactTokensForTokensSupportingFeeOnTransferTokens",
		"swapExactTokensForETHSupportingFeeOnTransferTokens",
	} {
		register(name, tokenInArgs, tokenInMetadata(name))
	}
	for _, name := range []string{
		"swapExactETHForTokens",
		"swapExactETHForTokensSupportingFeeOnTransferTokens",
	} {
		register(name, ethInArgs, ethInMetadata(name))
	}

	return r
}

// Decode matches calldata against the registry and decodes typed arguments.
// It returns nil for empty or too-short calldata, unknown selectors, and any
// argument decoding failure — decoding is best-effort enrichment, never a
// reason to fail the pipeline.
func (r *FunctionRegistry) Decode(calldata, txValue string) *DecodedCall {
	if calldata == "" || calldata == "0x" || len(calldata) < 10 {
		return nil
	}

	selector := strings.ToLower(calldata[:10])
	fn, ok := r.bySelector[selector]
	if !ok {
		return nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(calldata), "0x"))
	if err != nil || len(raw) < 4 {
		return nil
	}

	values, err := fn.args.Unpack(raw[4:])
	if err != nil {
		return nil
	}
	if len(values) != len(fn.args) {
		return nil
	}

	params := make([]DecodedParam, len(fn.args))
	named := make(map[string]any, len(fn.args))
	for i, arg := range fn.args {
		name := arg.Name
		if name == "" {
			name = fmt.Sprintf("arg%d", i)
		}
		params[i] = DecodedParam{
			Name:  name,
			Type:  arg.Type.String(),
			Value: normalizeDecodedValue(values[i]),
		}
		named[name] = values[i]
	}

	return &DecodedCall{
		Selector:  selector,
		Name:      fn.name,
		Signature: fn.signature,
		Params:    params,
		Metadata:  fn.metadata(named, txValue),
	}
}

// normalizeDecodedValue renders a decoded ABI value in the canonical payload
// form: decimal strings for integers, lower-cased hex for addresses and raw
// bytes, recursion for slices.
func normalizeDecodedValue(v any) any {
	switch val := v.(type) {
	case *big.Int:
		if val == nil {
			return nil
		}
		return val.String()
	case common.Address:
		return strings.ToLower(val.Hex())
	case []common.Address:
		out := make([]any, len(val))
		for i, a := range val {
			out[i] = strings.ToLower(a.Hex())
		}
		return out
	case []byte:
		return "0x" + hex.EncodeToString(val)
	case string:
		if strings.HasPrefix(val, "0x") {
			return strings.ToLower(val)
		}
		return val
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeDecodedValue(item)
		}
		return out
	default:
		return val
	}
}

func lowerAddresses(v any) []string {
	addrs, ok := v.([]common.Address)
	if !ok {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = strings.ToLower(a.Hex())
	}
	return out
}

func lowerAddress(v any) string {
	addr, ok := v.(common.Address)
	if !ok {
		return ""
	}
	return strings.ToLower(addr.Hex())
}

func decimalString(v any) string {
	n, ok := v.(*big.Int)
	if !ok || n == nil {
		return ""
	}
	return n.String()
}
