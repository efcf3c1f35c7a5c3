package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/84hero/oracle-scope/pkg/registry"
)

func newTestDecoder(t *testing.T, names ...string) *Decoder {
	t.Helper()
	d, err := NewDefault(registry.New(names))
	assert.NoError(t, err)
	return d
}

func makeInput(name string, ts uint64, quantized int64) TemporalNumericValueInput {
	return TemporalNumericValueInput{
		TemporalNumericValue: TemporalNumericValue{
			TimestampNs:    ts,
			QuantizedValue: big.NewInt(quantized),
		},
		Id: [32]byte(registry.HashAssetID(name)),
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	d := newTestDecoder(t, "BTCUSD", "ETHUSD")

	calldata, err := d.PackUpdateCall([]TemporalNumericValueInput{
		makeInput("BTCUSD", 1_700_000_000_000_000_000, 65_000_000_000_000_000),
		makeInput("ETHUSD", 1_700_000_000_500_000_000, 3_200_000_000_000_000),
	})
	assert.NoError(t, err)

	call, ok := d.Decode(calldata)
	assert.True(t, ok)
	assert.Equal(t, UpdateMethodName, call.Method)
	assert.Len(t, call.Updates, 2)

	first := call.Updates[0]
	assert.Equal(t, "BTCUSD", first.AssetName)
	assert.Equal(t, registry.HashAssetID("BTCUSD"), first.AssetIDHash)
	assert.Equal(t, uint64(1_700_000_000_000_000_000), first.TimestampNs)
	assert.Equal(t, int64(65_000_000_000_000_000), first.QuantizedValue.Int64())
}

func TestDecode_UnknownAssetFallsBackToHex(t *testing.T) {
	d := newTestDecoder(t) // empty registry

	calldata, err := d.PackUpdateCall([]TemporalNumericValueInput{
		makeInput("BTCUSD", 1, 2),
	})
	assert.NoError(t, err)

	call, ok := d.Decode(calldata)
	assert.True(t, ok)
	assert.Equal(t, registry.HashAssetID("BTCUSD").Hex(), call.Updates[0].AssetName)
}

func TestDecode_Rejections(t *testing.T) {
	d := newTestDecoder(t, "BTCUSD")

	// Plain transfer (empty input)
	_, ok := d.Decode(nil)
	assert.False(t, ok)

	// Short input
	_, ok = d.Decode([]byte{0x01, 0x02})
	assert.False(t, ok)

	// Unknown selector
	_, ok = d.Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x00})
	assert.False(t, ok)

	// Known selector, garbage payload
	calldata, _ := d.PackUpdateCall([]TemporalNumericValueInput{makeInput("BTCUSD", 1, 2)})
	_, ok = d.Decode(append(calldata[:4], 0xff, 0xff))
	assert.False(t, ok)
}

func TestValueConversion(t *testing.T) {
	u := DecodedUpdate{
		TimestampNs:    1_700_000_000_123_456_789,
		QuantizedValue: new(big.Int).Mul(big.NewInt(65_432), big.NewInt(1e15)), // 65.432 * 1e18
	}
	assert.InDelta(t, 65.432, u.Value(), 1e-9)
	assert.Equal(t, uint64(1_700_000_000_123), u.TimestampMs())

	assert.Equal(t, float64(0), DecodedUpdate{}.Value())
}

func TestReadCall_RoundTrip(t *testing.T) {
	d := newTestDecoder(t, "BTCUSD")
	hash := registry.HashAssetID("BTCUSD")

	calldata, err := d.PackReadCall(hash)
	assert.NoError(t, err)
	// selector + one bytes32 argument
	assert.Len(t, calldata, 36)
	assert.Equal(t, hash.Bytes(), calldata[4:])

	out, err := d.PackReadResult(TemporalNumericValue{
		TimestampNs:    77,
		QuantizedValue: big.NewInt(-5),
	})
	assert.NoError(t, err)

	value, err := d.UnpackReadResult(out)
	assert.NoError(t, err)
	assert.Equal(t, uint64(77), value.TimestampNs)
	assert.Equal(t, int64(-5), value.QuantizedValue.Int64())
}

func TestUnpackReadResult_Garbage(t *testing.T) {
	d := newTestDecoder(t)
	_, err := d.UnpackReadResult([]byte{0x01})
	assert.Error(t, err)
}

func TestNewFromJSON_RequiresUpdateMethod(t *testing.T) {
	_, err := NewFromJSON(`[]`, nil)
	assert.Error(t, err)

	_, err = NewFromJSON(`{not json`, nil)
	assert.Error(t, err)
}

func TestNewFromJSON_ReadOptional(t *testing.T) {
	// An ABI with only the update method decodes fine but cannot pack reads.
	abiJSON := `[{
	  "type": "function",
	  "name": "updateTemporalNumericValuesV1",
	  "stateMutability": "payable",
	  "inputs": [{
	    "name": "updateData", "type": "tuple[]",
	    "components": [
	      {"name": "temporalNumericValue", "type": "tuple", "components": [
	        {"name": "timestampNs", "type": "uint64"},
	        {"name": "quantizedValue", "type": "int192"}
	      ]},
	      {"name": "id", "type": "bytes32"},
	      {"name": "publisherMerkleRoot", "type": "bytes32"},
	      {"name": "valueComputeAlgHash", "type": "bytes32"},
	      {"name": "r", "type": "bytes32"},
	      {"name": "s", "type": "bytes32"},
	      {"name": "v", "type": "uint8"}
	    ]
	  }],
	  "outputs": []
	}]`

	d, err := NewFromJSON(abiJSON, nil)
	assert.NoError(t, err)

	_, err = d.PackReadCall(common.Hash{})
	assert.Error(t, err)
	_, err = d.UnpackReadResult(nil)
	assert.Error(t, err)
}

func TestDecode_ForeignTupleShape(t *testing.T) {
	// Same method name, different tuple layout: must miss silently.
	foreign := `[{
	  "type": "function",
	  "name": "updateTemporalNumericValuesV1",
	  "stateMutability": "payable",
	  "inputs": [{
	    "name": "updateData", "type": "tuple[]",
	    "components": [{"name": "other", "type": "uint256"}]
	  }],
	  "outputs": []
	}]`
	fd, err := NewFromJSON(foreign, nil)
	assert.NoError(t, err)

	calldata, err := fd.parsedABI.Pack(UpdateMethodName, []struct{ Other *big.Int }{{Other: big.NewInt(1)}})
	assert.NoError(t, err)

	_, ok := fd.Decode(calldata)
	assert.False(t, ok)
}
