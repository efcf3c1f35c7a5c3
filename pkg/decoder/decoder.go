package decoder

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/84hero/oracle-scope/pkg/registry"
)

// TemporalNumericValue mirrors the oracle's on-chain value tuple.
type TemporalNumericValue struct {
	TimestampNs    uint64
	QuantizedValue *big.Int
}

// TemporalNumericValueInput mirrors one element of the batched update call.
// Field names follow the ABI component names so go-ethereum's tuple
// packing/unpacking maps them by reflection.
type TemporalNumericValueInput struct {
	TemporalNumericValue TemporalNumericValue
	Id                   [32]byte
	PublisherMerkleRoot  [32]byte
	ValueComputeAlgHash  [32]byte
	R                    [32]byte
	S                    [32]byte
	V                    uint8
}

// DecodedUpdate is one (asset, value, timestamp) triple extracted from a
// batched update call.
type DecodedUpdate struct {
	AssetIDHash    common.Hash
	AssetName      string // resolved via the registry, or the raw hex form
	TimestampNs    uint64
	QuantizedValue *big.Int
}

// Value converts the quantized fixed-point integer (scaled by 10^18) into a
// float. Precision loss against the fixed-point source is expected.
func (u DecodedUpdate) Value() float64 {
	if u.QuantizedValue == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(u.QuantizedValue),
		big.NewFloat(1e18),
	).Float64()
	return f
}

// TimestampMs converts the nanosecond timestamp to milliseconds for display.
func (u DecodedUpdate) TimestampMs() uint64 {
	return u.TimestampNs / 1_000_000
}

// DecodedCall is the result of recognizing a batched update transaction.
type DecodedCall struct {
	Method  string
	Updates []DecodedUpdate
}

// Decoder recognizes the oracle's batched update calldata and encodes the
// latest-value read. The asset registry is injected at construction and
// shares the decoder's session lifetime.
type Decoder struct {
	parsedABI abi.ABI
	update    abi.Method
	read      abi.Method
	registry  *registry.Registry
}

// NewFromJSON creates a decoder from a JSON ABI string. The ABI must define
// the batched update method; the read method is optional but required for
// value scanning.
func NewFromJSON(jsonStr string, reg *registry.Registry) (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, err
	}
	update, ok := parsed.Methods[UpdateMethodName]
	if !ok {
		return nil, fmt.Errorf("abi does not define %s", UpdateMethodName)
	}
	read := parsed.Methods[ReadMethodName]
	return &Decoder{
		parsedABI: parsed,
		update:    update,
		read:      read,
		registry:  reg,
	}, nil
}

// NewDefault creates a decoder over the built-in oracle ABI.
func NewDefault(reg *registry.Registry) (*Decoder, error) {
	return NewFromJSON(DefaultOracleABI, reg)
}

// Decode attempts to parse calldata as a batched update call. Decoding is
// speculative: plain transfers, other methods and malformed payloads all
// yield (nil, false), never an error.
func (d *Decoder) Decode(input []byte) (*DecodedCall, bool) {
	if len(input) < 4 {
		return nil, false
	}
	method, err := d.parsedABI.MethodById(input[:4])
	if err != nil || method.Name != d.update.Name {
		return nil, false
	}

	values, err := method.Inputs.Unpack(input[4:])
	if err != nil || len(values) != 1 {
		return nil, false
	}

	inputs, ok := convertInputs(values[0])
	if !ok {
		return nil, false
	}

	updates := make([]DecodedUpdate, 0, len(inputs))
	for _, in := range inputs {
		hash := common.Hash(in.Id)
		update := DecodedUpdate{
			AssetIDHash:    hash,
			AssetName:      hash.Hex(),
			TimestampNs:    in.TemporalNumericValue.TimestampNs,
			QuantizedValue: in.TemporalNumericValue.QuantizedValue,
		}
		if d.registry != nil {
			update.AssetName = d.registry.ResolveOrHex(hash)
		}
		updates = append(updates, update)
	}
	return &DecodedCall{Method: method.Name, Updates: updates}, true
}

func convertInputs(value interface{}) (inputs []TemporalNumericValueInput, ok bool) {
	// ConvertType panics on shape mismatches; a foreign tuple layout is an
	// expected silent miss here, same as an unknown selector.
	defer func() {
		if recover() != nil {
			inputs, ok = nil, false
		}
	}()
	converted := abi.ConvertType(value, new([]TemporalNumericValueInput))
	out, castOK := converted.(*[]TemporalNumericValueInput)
	if !castOK || out == nil {
		return nil, false
	}
	return *out, true
}

// PackReadCall encodes the latest-value getter for one asset id.
func (d *Decoder) PackReadCall(assetIDHash common.Hash) ([]byte, error) {
	if d.read.Name == "" {
		return nil, fmt.Errorf("abi does not define %s", ReadMethodName)
	}
	return d.parsedABI.Pack(d.read.Name, [32]byte(assetIDHash))
}

// UnpackReadResult decodes the latest-value getter response.
func (d *Decoder) UnpackReadResult(output []byte) (TemporalNumericValue, error) {
	if d.read.Name == "" {
		return TemporalNumericValue{}, fmt.Errorf("abi does not define %s", ReadMethodName)
	}
	values, err := d.read.Outputs.Unpack(output)
	if err != nil {
		return TemporalNumericValue{}, err
	}
	if len(values) != 1 {
		return TemporalNumericValue{}, fmt.Errorf("unexpected output arity %d", len(values))
	}
	converted, ok := abi.ConvertType(values[0], new(TemporalNumericValue)).(*TemporalNumericValue)
	if !ok || converted == nil {
		return TemporalNumericValue{}, fmt.Errorf("unexpected output tuple shape")
	}
	return *converted, nil
}

// PackUpdateCall encodes a batched update call. Used by tests and tooling
// that need realistic calldata.
func (d *Decoder) PackUpdateCall(inputs []TemporalNumericValueInput) ([]byte, error) {
	return d.parsedABI.Pack(d.update.Name, inputs)
}

// PackReadResult encodes a latest-value getter response. Used by tests and
// tooling that need realistic return data.
func (d *Decoder) PackReadResult(value TemporalNumericValue) ([]byte, error) {
	if d.read.Name == "" {
		return nil, fmt.Errorf("abi does not define %s", ReadMethodName)
	}
	return d.read.Outputs.Pack(value)
}
