package evm

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrEventNotFound is returned when no log matches the requested event
var ErrEventNotFound = errors.New("event not found in logs")

// DecodedEvent is a log decoded against an ABI event definition
type DecodedEvent struct {
	Name    string
	Address common.Address
	TxHash  common.Hash
	Block   uint64
	Args    map[string]interface{}
}

// Uint returns a uint256 argument as *big.Int
func (e *DecodedEvent) Uint(name string) (*big.Int, error) {
	v, ok := e.Args[name]
	if !ok {
		return nil, fmt.Errorf("event %s has no argument %q", e.Name, name)
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("event %s argument %q is %T, not uint256", e.Name, name, v)
	}
	return n, nil
}

// String returns a string argument
func (e *DecodedEvent) String(name string) (string, error) {
	v, ok := e.Args[name]
	if !ok {
		return "", fmt.Errorf("event %s has no argument %q", e.Name, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("event %s argument %q is %T, not string", e.Name, name, v)
	}
	return s, nil
}

// ParseABI parses a JSON ABI literal
func ParseABI(abiJSON []byte) (abi.ABI, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("failed to parse ABI: %w", err)
	}
	return parsed, nil
}

// DecodeFirstEvent returns the first log emitted by address that decodes as
// eventName. Logs from other contracts, other events, or with a different
// indexed layout under the same signature are skipped.
func DecodeFirstEvent(abiJSON []byte, logs []*types.Log, address string, eventName string) (*DecodedEvent, error) {
	parsed, err := ParseABI(abiJSON)
	if err != nil {
		return nil, err
	}
	if _, ok := parsed.Events[eventName]; !ok {
		return nil, fmt.Errorf("event %s not in ABI", eventName)
	}

	want := common.HexToAddress(address)
	for _, log := range logs {
		if log == nil || log.Address != want {
			continue
		}
		decoded, err := DecodeEvent(parsed, eventName, *log)
		if err != nil {
			continue
		}
		return decoded, nil
	}

	return nil, fmt.Errorf("%w: %s from %s", ErrEventNotFound, eventName, want.Hex())
}

// DecodeEvent decodes a single log as eventName, merging indexed topics and
// data arguments into one map.
func DecodeEvent(parsed abi.ABI, eventName string, log types.Log) (*DecodedEvent, error) {
	event, ok := parsed.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("event %s not in ABI", eventName)
	}

	var indexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		}
	}

	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, fmt.Errorf("log is not a %s event", eventName)
	}
	if len(log.Topics)-1 != len(indexed) {
		return nil, fmt.Errorf("log has %d indexed topics, %s expects %d", len(log.Topics)-1, eventName, len(indexed))
	}

	args := make(map[string]interface{}, len(event.Inputs))
	if err := parsed.UnpackIntoMap(args, eventName, log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %w", eventName, err)
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse %s topics: %w", eventName, err)
	}

	return &DecodedEvent{
		Name:    eventName,
		Address: log.Address,
		TxHash:  log.TxHash,
		Block:   log.BlockNumber,
		Args:    args,
	}, nil
}
