package wallet

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/registry"
)

var erc20ABI = mustParseABI(registry.ERC20MinimalABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// errorStringSelector is the 4-byte selector of Error(string).
var errorStringSelector = common.FromHex("0x08c379a0")

// dataError matches the rpc error type go-ethereum returns when a node
// attaches revert data.
type dataError interface {
	Error() string
	ErrorData() interface{}
}

// decodeRevertData turns raw revert bytes into a readable reason. Standard
// Error(string) payloads decode to the reason text; custom errors surface
// as their selector.
func decodeRevertData(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if len(data) >= 4 && string(data[:4]) == string(errorStringSelector) {
		stringTy, err := abi.NewType("string", "", nil)
		if err != nil {
			return ""
		}
		args := abi.Arguments{{Type: stringTy}}
		decoded, err := args.Unpack(data[4:])
		if err == nil && len(decoded) == 1 {
			if reason, ok := decoded[0].(string); ok {
				return reason
			}
		}
		return ""
	}
	if len(data) >= 4 {
		return "custom error " + hexutil.Encode(data[:4])
	}
	return ""
}

func decodeRevertFromError(err error) string {
	var derr dataError
	if !asDataError(err, &derr) {
		return ""
	}
	raw, ok := derr.ErrorData().(string)
	if !ok {
		return ""
	}
	return decodeRevertData(common.FromHex(raw))
}

func asDataError(err error, target *dataError) bool {
	for err != nil {
		if derr, ok := err.(dataError); ok {
			*target = derr
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// wrapRevertError wraps an RPC failure, appending the decoded revert reason
// when the node attached one.
func wrapRevertError(code swaperr.Code, msg string, err error) error {
	if reason := decodeRevertFromError(err); reason != "" {
		return swaperr.Wrap(code, msg+": "+reason, err)
	}
	return swaperr.Wrap(code, msg, err)
}

