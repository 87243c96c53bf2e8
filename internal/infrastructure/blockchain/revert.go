package blockchain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	selectorError = "0x08c379a0"
	selectorPanic = "0x4e487b71"

	errCircleNotFound = "CircleNotFound"
)

var revertHexPattern = regexp.MustCompile(`0x[0-9a-fA-F]{8,}`)

// RevertReason is a decoded contract revert
type RevertReason struct {
	Selector string
	Name     string
	Message  string
}

func (r RevertReason) String() string {
	switch {
	case r.Name != "" && r.Message != "":
		return r.Name + ": " + r.Message
	case r.Name != "":
		return r.Name
	case r.Message != "":
		return r.Message
	default:
		return "execution reverted " + r.Selector
	}
}

// decodeRevertFromError reports whether err is a contract revert and
// decodes its payload. Reverts are deterministic, so callers must not
// retry them.
func decodeRevertFromError(err error) (RevertReason, bool) {
	if err == nil {
		return RevertReason{}, false
	}

	if data, ok := extractRevertHexFromDataError(err); ok {
		return decodeRevertData(data), true
	}

	message := err.Error()
	if !strings.Contains(message, "execution reverted") {
		return RevertReason{}, false
	}
	for _, candidate := range revertHexPattern.FindAllString(message, -1) {
		if data, ok := parseHexBytes(candidate); ok {
			return decodeRevertData(data), true
		}
	}
	return RevertReason{Message: "execution reverted"}, true
}

func extractRevertHexFromDataError(err error) ([]byte, bool) {
	// rpc.DataError from go-ethereum
	type rpcDataError interface {
		ErrorData() interface{}
	}
	dataErr, ok := err.(rpcDataError)
	if !ok {
		return nil, false
	}
	return parseRevertBytesFromAny(dataErr.ErrorData())
}

func parseRevertBytesFromAny(value interface{}) ([]byte, bool) {
	switch v := value.(type) {
	case string:
		return parseHexBytes(v)
	case []byte:
		if len(v) < 4 {
			return nil, false
		}
		out := make([]byte, len(v))
		copy(out, v)
		return out, true
	case map[string]interface{}:
		if raw, ok := v["data"]; ok {
			return parseRevertBytesFromAny(raw)
		}
	}
	return nil, false
}

func parseHexBytes(raw string) ([]byte, bool) {
	value := strings.TrimSpace(strings.TrimPrefix(raw, "0x"))
	if len(value) < 8 || len(value)%2 != 0 {
		return nil, false
	}
	data, err := hex.DecodeString(value)
	if err != nil {
		return nil, false
	}
	return data, true
}

// decodeRevertData names the revert from the circle contract's custom
// errors, or from the Solidity Error(string) and Panic(uint256) builtins.
func decodeRevertData(data []byte) RevertReason {
	if len(data) < 4 {
		return RevertReason{Message: "execution reverted"}
	}
	reason := RevertReason{Selector: "0x" + hex.EncodeToString(data[:4])}

	switch reason.Selector {
	case selectorError:
		if msg, err := abi.UnpackRevert(data); err == nil {
			reason.Name = "Error"
			reason.Message = msg
		}
		return reason
	case selectorPanic:
		if len(data) >= 36 {
			reason.Name = "Panic"
			reason.Message = fmt.Sprintf("panic code: %s", new(big.Int).SetBytes(data[4:36]).String())
		}
		return reason
	}

	for name, contractErr := range circleABI.Errors {
		if "0x"+hex.EncodeToString(contractErr.ID[:4]) != reason.Selector {
			continue
		}
		reason.Name = name
		if values, err := contractErr.Inputs.Unpack(data[4:]); err == nil && len(values) > 0 {
			parts := make([]string, 0, len(values))
			for _, v := range values {
				parts = append(parts, fmt.Sprint(v))
			}
			reason.Message = strings.Join(parts, ", ")
		}
		break
	}
	return reason
}
