package decoder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Method names on the oracle contract the decoder recognizes.
const (
	UpdateMethodName = "updateTemporalNumericValuesV1"
	ReadMethodName   = "getTemporalNumericValueUnsafeV1"
)

// DefaultOracleABI covers the batched update entry point and the latest-value
// getter of the temporal numeric value oracle. A contract-specific interface
// fetched via FetchInterface takes precedence when available.
const DefaultOracleABI = `[
  {
    "type": "function",
    "name": "updateTemporalNumericValuesV1",
    "stateMutability": "payable",
    "inputs": [
      {
        "name": "updateData",
        "type": "tuple[]",
        "components": [
          {
            "name": "temporalNumericValue",
            "type": "tuple",
            "components": [
              {"name": "timestampNs", "type": "uint64"},
              {"name": "quantizedValue", "type": "int192"}
            ]
          },
          {"name": "id", "type": "bytes32"},
          {"name": "publisherMerkleRoot", "type": "bytes32"},
          {"name": "valueComputeAlgHash", "type": "bytes32"},
          {"name": "r", "type": "bytes32"},
          {"name": "s", "type": "bytes32"},
          {"name": "v", "type": "uint8"}
        ]
      }
    ],
    "outputs": []
  },
  {
    "type": "function",
    "name": "getTemporalNumericValueUnsafeV1",
    "stateMutability": "view",
    "inputs": [
      {"name": "id", "type": "bytes32"}
    ],
    "outputs": [
      {
        "name": "value",
        "type": "tuple",
        "components": [
          {"name": "timestampNs", "type": "uint64"},
          {"name": "quantizedValue", "type": "int192"}
        ]
      }
    ]
  },
  {
    "type": "error",
    "name": "NotFound",
    "inputs": []
  }
]`

// FetchInterface retrieves a contract ABI as a JSON string from an HTTP
// source (block explorer API or a static file).
func FetchInterface(ctx context.Context, url string) (string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "oracle-scope/v1")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("abi fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
